// Package datastore is the single-writer, many-reader transaction layer
// tying together storage/table, commitlog, snapshot, and energy accounting.
// A read transaction sees a consistent view of committed data by holding
// the shared read lock until it is released; a mutating transaction holds the single write lock for its
// duration and produces a TxData describing every row it touched before
// the lock is released, which the subscription engine then diffs against.
package datastore
