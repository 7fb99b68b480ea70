package tests

import (
	"sync"
	"time"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
)

// NewMemDatastore returns a thread-safe in-memory datastore.
func NewMemDatastore() datastore.Datastore {
	return dssync.MutexWrap(datastore.NewMapDatastore())
}

// Clock is a manually advanced time source.
type Clock struct {
	lock sync.Mutex
	now  time.Time
}

// NewClock returns a Clock starting at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
}
