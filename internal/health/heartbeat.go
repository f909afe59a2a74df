package health

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Heartbeat records the last time a loop made progress. The zero value has
// never beaten. It is safe for concurrent use.
type Heartbeat struct {
	last atomic.Int64 // unix nanoseconds
	now  func() time.Time
}

// NewHeartbeat returns a Heartbeat that has not beaten yet.
func NewHeartbeat() *Heartbeat {
	return &Heartbeat{now: time.Now}
}

// Beat records progress.
func (b *Heartbeat) Beat() {
	b.last.Store(b.clock().UnixNano())
}

// Last returns the time of the last beat, or the zero time.
func (b *Heartbeat) Last() time.Time {
	n := b.last.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Checker fails when the last beat is older than maxAge or when there has
// been no beat at all.
func (b *Heartbeat) Checker(name string, maxAge time.Duration) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			last := b.Last()
			if last.IsZero() {
				return fmt.Errorf("%s: no progress yet", name)
			}
			if age := b.clock().Sub(last); age > maxAge {
				return fmt.Errorf("%s: stalled for %s", name, age.Round(time.Millisecond))
			}
			return nil
		},
	}
}

func (b *Heartbeat) clock() time.Time {
	if b.now == nil {
		return time.Now()
	}
	return b.now()
}
