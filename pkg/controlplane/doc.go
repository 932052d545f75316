/*
Package controlplane is component J: database lifecycle (publish/delete/
migrate), identity→database resolution, and leader selection.

Registry applies changes directly under a mutex and IsLeader is a constant
true; distributed replication across nodes is not implemented, so there is
no cross-node consensus protocol driving the registry (see DESIGN.md for
that decision).

Each published database gets its own Datastore, energy Accountant,
reducerhost Module/Host, subscription Broker, and (if it binds any
scheduled tables) Scheduler, all owned by one *Runtime and looked up by the
database's identity or by (owner, name).
*/
package controlplane
