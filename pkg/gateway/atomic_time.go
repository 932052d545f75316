package gateway

import (
	"sync/atomic"
	"time"
)

// atomicTime is a lock-free last-activity timestamp, read by the keepalive
// loop and written by the read loop on every frame.
type atomicTime struct {
	nanos atomic.Int64
}

func (t *atomicTime) set(v time.Time) { t.nanos.Store(v.UnixNano()) }
func (t *atomicTime) get() time.Time  { return time.Unix(0, t.nanos.Load()) }
