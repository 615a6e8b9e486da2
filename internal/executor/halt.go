package executor

import (
	"sync"
	"time"
)

// Halt is the process-wide stop signal for new paired orders. Once engaged
// it stays engaged for the lifetime of the process.
type Halt struct {
	mu     sync.Mutex
	halted bool
	reason string
	at     time.Time
	done   chan struct{}
}

// NewHalt returns a disengaged Halt.
func NewHalt() *Halt {
	return &Halt{done: make(chan struct{})}
}

// Engage halts trading. It reports whether this call was the one that
// engaged it.
func (h *Halt) Engage(reason string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.halted {
		return false
	}
	h.halted = true
	h.reason = reason
	h.at = time.Now()
	close(h.done)
	return true
}

// Halted reports whether trading is halted.
func (h *Halt) Halted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.halted
}

// Reason returns why trading was halted, or "".
func (h *Halt) Reason() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reason
}

// Done is closed when the halt engages.
func (h *Halt) Done() <-chan struct{} { return h.done }
