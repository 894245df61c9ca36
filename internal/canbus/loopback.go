package canbus

import (
	"fmt"
	"sync"
)

// Loopback is an in-memory driver. Frames handed to Inject are returned by the
// next Receive; transmitted frames are recorded and, when Echo is set, also
// queued for reception.
type Loopback struct {
	mu       sync.Mutex
	rx       Batch
	sent     []Frame
	filters  []Filter
	closed   bool
	resets   int
	failAt   int // 1-based transmit index that fails; 0 disables
	txCount  int
	echo     bool
	maxBatch int
}

// NewLoopback creates an empty loopback driver.
func NewLoopback() *Loopback {
	return &Loopback{}
}

// SetEcho makes transmitted frames visible to Receive.
func (l *Loopback) SetEcho(echo bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.echo = echo
}

// SetFilters installs acceptance filters applied on Inject.
func (l *Loopback) SetFilters(filters []Filter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.filters = append([]Filter(nil), filters...)
}

// SetMaxBatch limits how many frames one Receive returns (0 = unlimited).
func (l *Loopback) SetMaxBatch(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxBatch = n
}

// FailTransmitAt makes the n-th transmit from now fail.
func (l *Loopback) FailTransmitAt(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failAt = n
	l.txCount = 0
}

// Inject queues frames for reception.
func (l *Loopback) Inject(frames ...Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range frames {
		if !Accept(l.filters, f.ID) {
			continue
		}
		l.rx = append(l.rx, Frame{ID: f.ID, Flags: f.Flags, Data: append([]byte(nil), f.Data...)})
	}
}

// Transmit records the frame.
func (l *Loopback) Transmit(id uint32, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("loopback: transmit on closed driver")
	}
	l.txCount++
	if l.failAt > 0 && l.txCount == l.failAt {
		return fmt.Errorf("loopback: injected transmit failure at frame %d", l.txCount)
	}
	f := Frame{ID: id, Flags: FlagFDF | FlagBRS, Data: append([]byte(nil), payload...)}
	if err := f.Validate(); err != nil {
		return err
	}
	l.sent = append(l.sent, f)
	if l.echo && Accept(l.filters, id) {
		l.rx = append(l.rx, f)
	}
	return nil
}

// Receive returns pending frames.
func (l *Loopback) Receive() (Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, fmt.Errorf("loopback: receive on closed driver")
	}
	if len(l.rx) == 0 {
		return nil, nil
	}
	n := len(l.rx)
	if l.maxBatch > 0 && n > l.maxBatch {
		n = l.maxBatch
	}
	out := make(Batch, n)
	copy(out, l.rx[:n])
	l.rx = l.rx[n:]
	return out, nil
}

// Reset drops pending frames.
func (l *Loopback) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rx = nil
	l.resets++
	return nil
}

// Resets returns how many times Reset was called.
func (l *Loopback) Resets() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resets
}

// Sent returns a copy of all transmitted frames.
func (l *Loopback) Sent() []Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Frame(nil), l.sent...)
}

// ClearSent forgets transmitted frames.
func (l *Loopback) ClearSent() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = nil
}

// Pending returns the number of frames waiting for Receive.
func (l *Loopback) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rx)
}

// Close marks the driver closed.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
