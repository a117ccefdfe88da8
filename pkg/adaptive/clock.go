package adaptive

import "sync/atomic"

// Version is a logical clock value. Version zero means "never pulled".
type Version = uint64

// Clock is the shared logical clock of a dataflow universe. Input writes
// tick it; readers pull at a clock value. It is safe for concurrent use.
type Clock struct {
	now atomic.Uint64
}

// NewClock creates a clock at version 1.
func NewClock() *Clock {
	c := &Clock{}
	c.now.Store(1)
	return c
}

// Now returns the current version.
func (c *Clock) Now() Version { return c.now.Load() }

// Tick advances the clock and returns the new version.
func (c *Clock) Tick() Version { return c.now.Add(1) }
