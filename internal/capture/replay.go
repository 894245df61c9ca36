package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/tturner/servobus/internal/canbus"
)

// Replay is a receive-only driver fed from a capture. Transmitted frames are
// counted and dropped.
type Replay struct {
	mu      sync.Mutex
	frames  []TimedFrame
	pos     int
	batch   int
	paced   bool
	started time.Time
	now     func() time.Time
	filters []canbus.Filter
	dropped int
	closed  bool
}

// ReplayOption configures a Replay.
type ReplayOption func(*Replay)

// WithBatchSize caps the frames returned per Receive. Zero returns all ready
// frames at once.
func WithBatchSize(n int) ReplayOption {
	return func(r *Replay) { r.batch = n }
}

// WithPacing releases frames no faster than their recorded timestamps.
func WithPacing(now func() time.Time) ReplayOption {
	return func(r *Replay) {
		r.paced = true
		if now != nil {
			r.now = now
		}
	}
}

// WithFilters applies acceptance filters to replayed frames.
func WithFilters(filters []canbus.Filter) ReplayOption {
	return func(r *Replay) { r.filters = filters }
}

// NewReplay builds a replay driver over frames.
func NewReplay(frames []TimedFrame, opts ...ReplayOption) *Replay {
	r := &Replay{frames: frames, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OpenReplay loads a capture file as a replay driver.
func OpenReplay(path string, opts ...ReplayOption) (*Replay, error) {
	frames, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("capture %s holds no CAN-FD frames", path)
	}
	return NewReplay(frames, opts...), nil
}

// Transmit drops the frame.
func (r *Replay) Transmit(id uint32, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("replay: transmit on closed driver")
	}
	if !canbus.ValidLength(len(payload)) {
		return fmt.Errorf("replay: invalid CAN-FD data length %d", len(payload))
	}
	r.dropped++
	return nil
}

// Receive returns the next frames of the capture.
func (r *Replay) Receive() (canbus.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("replay: receive on closed driver")
	}

	var out canbus.Batch
	if r.paced && r.started.IsZero() && r.pos < len(r.frames) {
		r.started = r.now()
	}
	for r.pos < len(r.frames) {
		if r.batch > 0 && len(out) >= r.batch {
			break
		}
		f := r.frames[r.pos]
		if r.paced && !r.due(f) {
			break
		}
		r.pos++
		if !canbus.Accept(r.filters, f.ID) {
			continue
		}
		out = append(out, canbus.Frame{ID: f.ID, Flags: f.Flags, Data: append([]byte(nil), f.Data...)})
	}
	return out, nil
}

func (r *Replay) due(f TimedFrame) bool {
	offset := f.Timestamp.Sub(r.frames[0].Timestamp)
	return r.now().Sub(r.started) >= offset
}

// Reset rewinds to the start of the capture.
func (r *Replay) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos = 0
	r.started = time.Time{}
	return nil
}

// Done reports whether every frame has been delivered.
func (r *Replay) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos >= len(r.frames)
}

// Dropped returns the number of frames passed to Transmit.
func (r *Replay) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close marks the driver closed.
func (r *Replay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
