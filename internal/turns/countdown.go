// Package turns drives the war clock: a cancellable single-shot countdown
// and the scheduler that walks the game through turn and interlude phases.
package turns

import (
	"sync"
	"time"
)

// Countdown is a restartable single-shot timer. Start, Set, Inc, Dec and
// Cancel are all safe to call concurrently with the timer firing, including
// from inside the fire callback itself. Each (re)start bumps a generation
// counter; a firing that lost the race against a newer schedule is a no-op.
type Countdown struct {
	mu         sync.Mutex
	timer      *time.Timer
	deadline   time.Time
	generation uint64
	running    bool
	fire       func()
}

// NewCountdown creates a countdown that runs fire when it expires. The
// callback runs on the timer goroutine, after the countdown has already
// marked itself stopped, so the callback may freely restart it.
func NewCountdown(fire func()) *Countdown {
	return &Countdown{fire: fire}
}

// Start schedules the countdown to fire after d, replacing any pending
// schedule.
func (c *Countdown) Start(d time.Duration) {
	if d < 0 {
		d = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.generation++
	gen := c.generation
	c.deadline = time.Now().Add(d)
	c.running = true
	c.timer = time.AfterFunc(d, func() { c.expired(gen) })
}

func (c *Countdown) expired(gen uint64) {
	c.mu.Lock()
	if !c.running || gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()
	c.fire()
}

// Cancel stops the countdown without firing. Idempotent.
func (c *Countdown) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Countdown) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.running = false
	c.generation++
}

// Set reschedules the countdown to fire d from now, whatever the previous
// deadline was.
func (c *Countdown) Set(d time.Duration) { c.Start(d) }

// Inc pushes the deadline d further out, measured from now.
func (c *Countdown) Inc(d time.Duration) {
	c.Start(c.Remaining() + d)
}

// Dec pulls the deadline d closer, measured from now. Going past zero fires
// immediately.
func (c *Countdown) Dec(d time.Duration) {
	c.Start(c.Remaining() - d)
}

// Remaining returns the time left until the countdown fires, zero when it is
// not running.
func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return 0
	}
	d := time.Until(c.deadline)
	if d < 0 {
		return 0
	}
	return d
}

// Running reports whether the countdown is armed.
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
