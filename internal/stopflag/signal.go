// Package stopflag provides the write-once stop signal shared by the monitor
// loop and the workload runners of a single harness run.
package stopflag

import (
	"sync"
	"sync/atomic"
)

// Signal is a one-shot cancellation token. The zero value is not usable; call New.
// Once Set, a Signal stays set for its whole lifetime.
type Signal struct {
	set  atomic.Bool
	once sync.Once
	done chan struct{}
}

// New returns a cleared Signal.
func New() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Set marks the signal. Calling it more than once is a no-op.
func (s *Signal) Set() {
	s.once.Do(func() {
		s.set.Store(true)
		close(s.done)
	})
}

// IsSet reports whether Set has been called.
func (s *Signal) IsSet() bool {
	return s.set.Load()
}

// Done returns a channel that is closed when the signal is set.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}
