package canif

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tturner/servobus/internal/cyphal"
)

// Frame is a complete transfer: its bus identifier, the reassembled payload
// with checksum bytes removed, and the routing properties of its first frame.
type Frame struct {
	ID       uint32
	Payload  []byte
	Props    cyphal.Props
	Received time.Time
}

// PortID returns the subject or service id of the transfer.
func (f Frame) PortID() uint16 { return f.Props.PortID }

// DuplicateStartPolicy decides what happens when a start frame arrives for a
// transfer key that already has an incomplete entry.
type DuplicateStartPolicy int

const (
	// ReplaceStale discards the existing entry and starts over.
	ReplaceStale DuplicateStartPolicy = iota
	// RejectNew keeps the existing entry and drops the new start frame.
	RejectNew
)

func (p DuplicateStartPolicy) String() string {
	if p == RejectNew {
		return "reject_new"
	}
	return "replace_stale"
}

// ParseDuplicateStartPolicy accepts the config spellings of the policy.
func ParseDuplicateStartPolicy(s string) (DuplicateStartPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "replace", "replace_stale":
		return ReplaceStale, nil
	case "reject", "reject_new":
		return RejectNew, nil
	default:
		return ReplaceStale, fmt.Errorf("unknown duplicate start policy %q", s)
	}
}

// EventKind identifies something the assembler did with a frame other than
// simply buffering it.
type EventKind int

const (
	EventCompleted EventKind = iota
	EventOrphanDropped
	EventStaleReplaced
	EventStartRejected
	EventIntegrityFailure
	EventExpired
	EventOverflow
	EventCompleteDropped
)

func (k EventKind) String() string {
	switch k {
	case EventCompleted:
		return "completed"
	case EventOrphanDropped:
		return "orphan_dropped"
	case EventStaleReplaced:
		return "stale_replaced"
	case EventStartRejected:
		return "start_rejected"
	case EventIntegrityFailure:
		return "integrity_failure"
	case EventExpired:
		return "expired"
	case EventOverflow:
		return "overflow"
	case EventCompleteDropped:
		return "complete_dropped"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is passed to the assembler's event hook.
type Event struct {
	Kind   EventKind
	ID     uint32
	PortID uint16
	Props  cyphal.Props
	Err    error
}

// AssemblerConfig tunes reassembly.
type AssemblerConfig struct {
	Policy DuplicateStartPolicy
	// IncompleteTimeout discards entries that have not completed in time.
	// Zero disables expiry.
	IncompleteTimeout time.Duration
	// MaxTransferBytes caps the bytes accumulated for one transfer,
	// checksum and padding included. Zero disables the cap.
	MaxTransferBytes int
	// MaxComplete bounds the complete FIFO. When full, the oldest transfer
	// is dropped to make room. Zero disables the bound.
	MaxComplete int
}

// Stats counts assembler activity since the last reset.
type Stats struct {
	Frames            uint64
	Completed         uint64
	OrphansDropped    uint64
	StaleReplaced     uint64
	StartsRejected    uint64
	IntegrityFailures uint64
	Expired           uint64
	Overflows         uint64
	CompleteDropped   uint64
	DecodeErrors      uint64
}

type transferKey struct {
	id   uint32
	port uint16
}

type partial struct {
	props   cyphal.Props
	data    []byte
	started time.Time
}

// Assembler turns decoded frames into complete transfers. It keeps the
// complete FIFO in arrival order and at most one incomplete entry per
// (identifier, port id) key. It is not safe for concurrent use.
type Assembler struct {
	cfg        AssemblerConfig
	now        func() time.Time
	onEvent    func(Event)
	complete   []Frame
	incomplete map[transferKey]*partial
	stats      Stats
}

// NewAssembler creates an assembler. now may be nil to use time.Now.
func NewAssembler(cfg AssemblerConfig, now func() time.Time) *Assembler {
	if now == nil {
		now = time.Now
	}
	return &Assembler{
		cfg:        cfg,
		now:        now,
		incomplete: make(map[transferKey]*partial),
	}
}

// OnEvent installs a hook called synchronously for every event.
func (a *Assembler) OnEvent(fn func(Event)) { a.onEvent = fn }

func (a *Assembler) emit(ev Event) {
	switch ev.Kind {
	case EventCompleted:
		a.stats.Completed++
	case EventOrphanDropped:
		a.stats.OrphansDropped++
	case EventStaleReplaced:
		a.stats.StaleReplaced++
	case EventStartRejected:
		a.stats.StartsRejected++
	case EventIntegrityFailure:
		a.stats.IntegrityFailures++
	case EventExpired:
		a.stats.Expired++
	case EventOverflow:
		a.stats.Overflows++
	case EventCompleteDropped:
		a.stats.CompleteDropped++
	}
	if a.onEvent != nil {
		a.onEvent(ev)
	}
}

// Ingest processes decoded frames in order. Integrity failures do not stop
// the batch; every failure is returned joined.
func (a *Assembler) Ingest(packets []cyphal.RxPacket) error {
	now := a.now()
	a.expire(now)

	var errs []error
	for _, p := range packets {
		a.stats.Frames++
		key := transferKey{id: p.ID, port: p.Props.PortID}

		switch p.Role {
		case cyphal.RoleSingle:
			a.push(Frame{ID: p.ID, Payload: p.Payload, Props: p.Props, Received: now})

		case cyphal.RoleStart:
			if _, exists := a.incomplete[key]; exists {
				if a.cfg.Policy == RejectNew {
					a.emit(Event{Kind: EventStartRejected, ID: p.ID, PortID: key.port, Props: p.Props})
					continue
				}
				delete(a.incomplete, key)
				a.emit(Event{Kind: EventStaleReplaced, ID: p.ID, PortID: key.port, Props: p.Props})
			}
			if a.overflows(len(p.Payload)) {
				a.emit(Event{Kind: EventOverflow, ID: p.ID, PortID: key.port, Props: p.Props})
				continue
			}
			a.incomplete[key] = &partial{
				props:   p.Props,
				data:    append([]byte(nil), p.Payload...),
				started: now,
			}

		case cyphal.RoleContinuation:
			entry, ok := a.incomplete[key]
			if !ok {
				a.emit(Event{Kind: EventOrphanDropped, ID: p.ID, PortID: key.port, Props: p.Props})
				continue
			}
			entry.data = append(entry.data, p.Payload...)
			if a.overflows(len(entry.data)) {
				delete(a.incomplete, key)
				a.emit(Event{Kind: EventOverflow, ID: p.ID, PortID: key.port, Props: entry.props})
			}

		case cyphal.RoleEnd:
			entry, ok := a.incomplete[key]
			if !ok {
				a.emit(Event{Kind: EventOrphanDropped, ID: p.ID, PortID: key.port, Props: p.Props})
				continue
			}
			delete(a.incomplete, key)
			if err := a.finish(p.ID, entry, p.Payload, now); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// finish validates the trailing checksum of a transfer and promotes it.
func (a *Assembler) finish(id uint32, entry *partial, last []byte, now time.Time) error {
	data := append(entry.data, last...)
	if len(data) < cyphal.CRCSize {
		err := &IntegrityError{ID: id, PortID: entry.props.PortID, Want: cyphal.Checksum(nil), Length: len(data)}
		copy(err.Got[:], data)
		a.emit(Event{Kind: EventIntegrityFailure, ID: id, PortID: entry.props.PortID, Props: entry.props, Err: err})
		return err
	}

	body := data[:len(data)-cyphal.CRCSize]
	if !cyphal.ValidChecksum(data) {
		err := &IntegrityError{
			ID:     id,
			PortID: entry.props.PortID,
			Got:    [cyphal.CRCSize]byte{data[len(data)-2], data[len(data)-1]},
			Want:   cyphal.Checksum(body),
			Length: len(data),
		}
		a.emit(Event{Kind: EventIntegrityFailure, ID: id, PortID: entry.props.PortID, Props: entry.props, Err: err})
		return err
	}

	a.push(Frame{ID: id, Payload: body, Props: entry.props, Received: now})
	return nil
}

func (a *Assembler) push(f Frame) {
	if a.cfg.MaxComplete > 0 && len(a.complete) >= a.cfg.MaxComplete {
		old := a.complete[0]
		a.complete[0] = Frame{}
		a.complete = a.complete[1:]
		a.emit(Event{Kind: EventCompleteDropped, ID: old.ID, PortID: old.Props.PortID, Props: old.Props})
	}
	a.complete = append(a.complete, f)
	a.emit(Event{Kind: EventCompleted, ID: f.ID, PortID: f.Props.PortID, Props: f.Props})
}

func (a *Assembler) overflows(n int) bool {
	return a.cfg.MaxTransferBytes > 0 && n > a.cfg.MaxTransferBytes
}

// Expire discards incomplete entries older than the configured timeout.
func (a *Assembler) Expire() { a.expire(a.now()) }

func (a *Assembler) expire(now time.Time) {
	if a.cfg.IncompleteTimeout <= 0 {
		return
	}
	for key, entry := range a.incomplete {
		if now.Sub(entry.started) > a.cfg.IncompleteTimeout {
			delete(a.incomplete, key)
			a.emit(Event{Kind: EventExpired, ID: key.id, PortID: key.port, Props: entry.props})
		}
	}
}

// Complete returns a copy of the complete FIFO without consuming it.
func (a *Assembler) Complete() []Frame {
	out := make([]Frame, len(a.complete))
	copy(out, a.complete)
	return out
}

// CompleteLen returns the number of complete transfers waiting.
func (a *Assembler) CompleteLen() int { return len(a.complete) }

// IncompleteLen returns the number of transfers being reassembled.
func (a *Assembler) IncompleteLen() int { return len(a.incomplete) }

func (a *Assembler) hasIncomplete(id uint32, port uint16) bool {
	_, ok := a.incomplete[transferKey{id: id, port: port}]
	return ok
}

// Drain removes and returns, in arrival order, every complete transfer for
// which match returns true.
func (a *Assembler) Drain(match func(Frame) bool) []Frame {
	var out []Frame
	kept := a.complete[:0]
	for _, f := range a.complete {
		if match(f) {
			out = append(out, f)
		} else {
			kept = append(kept, f)
		}
	}
	// Clear the tail so drained payloads can be collected.
	for i := len(kept); i < len(a.complete); i++ {
		a.complete[i] = Frame{}
	}
	a.complete = kept
	return out
}

// ClearFIFOs empties the complete and incomplete FIFOs. Counters are kept.
func (a *Assembler) ClearFIFOs() {
	a.complete = nil
	a.incomplete = make(map[transferKey]*partial)
}

// Reset empties both FIFOs and the counters.
func (a *Assembler) Reset() {
	a.complete = nil
	a.incomplete = make(map[transferKey]*partial)
	a.stats = Stats{}
}

// Stats returns the counters.
func (a *Assembler) Stats() Stats { return a.stats }

func (a *Assembler) countDecodeError() { a.stats.DecodeErrors++ }
