// Package canif is the node-side session layer: it feeds received CAN-FD
// frames through the codec into the frame assembler, stamps outbound
// transfers with the rolling transfer id, and correlates requests with
// their results.
//
// An Interface is owned by one goroutine. Nothing in it is locked.
package canif

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/xid"

	"github.com/tturner/servobus/internal/canbus"
	"github.com/tturner/servobus/internal/cyphal"
	"github.com/tturner/servobus/internal/logging"
)

// Config is fixed for the life of an Interface.
type Config struct {
	NodeID   uint8
	MTU      int
	Priority uint8

	Assembly AssemblerConfig

	RequestTimeout time.Duration
	PollInterval   time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		NodeID:   cyphal.NodeIDMax,
		MTU:      cyphal.DefaultMTU,
		Priority: cyphal.PriorityNominal,
		Assembly: AssemblerConfig{
			Policy:            ReplaceStale,
			IncompleteTimeout: 2 * time.Second,
			MaxTransferBytes:  4096,
			MaxComplete:       1024,
		},
		RequestTimeout: 100 * time.Millisecond,
		PollInterval:   time.Millisecond,
	}
}

// Option customises an Interface.
type Option func(*Interface)

// WithClock replaces time.Now for seeding and expiry.
func WithClock(now func() time.Time) Option {
	return func(i *Interface) { i.now = now }
}

// WithEventHook receives every assembler event after it is logged.
func WithEventHook(fn func(Event)) Option {
	return func(i *Interface) { i.hook = fn }
}

// Interface binds a driver, the codec, the assembler and the session.
type Interface struct {
	cfg       Config
	driver    canbus.Driver
	codec     *cyphal.Codec
	asm       *Assembler
	session   *Session
	base      *logging.Logger
	logger    *logging.Logger
	sessionID xid.ID
	now       func() time.Time
	hook      func(Event)
}

// New creates an interface on driver. logger may be nil.
func New(cfg Config, driver canbus.Driver, logger *logging.Logger, opts ...Option) (*Interface, error) {
	if driver == nil {
		return nil, fmt.Errorf("canif: nil driver")
	}
	codec, err := cyphal.NewCodec(cfg.NodeID, cfg.MTU)
	if err != nil {
		return nil, fmt.Errorf("canif: %w", err)
	}
	if err := codec.SetPriority(cfg.Priority); err != nil {
		return nil, fmt.Errorf("canif: %w", err)
	}
	if logger == nil {
		logger = logging.NewWriterLogger(logging.LogLevelSilent, io.Discard, "text")
	}

	ifc := &Interface{
		cfg:    cfg,
		driver: driver,
		codec:  codec,
		base:   logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(ifc)
	}
	ifc.sessionID = xid.NewWithTime(ifc.now())
	ifc.logger = logger.With("session", ifc.sessionID.String())
	ifc.asm = NewAssembler(cfg.Assembly, ifc.now)
	ifc.asm.OnEvent(ifc.handleEvent)
	ifc.session = NewSession(ifc.now())
	return ifc, nil
}

// Init redoes driver setup, clears both FIFOs and reseeds the transfer id.
// A new session id is assigned.
func (i *Interface) Init() error {
	if r, ok := i.driver.(canbus.Resetter); ok {
		if err := r.Reset(); err != nil {
			return fmt.Errorf("reset driver: %w", err)
		}
	}
	i.asm.Reset()
	i.session.Seed(i.now())
	i.sessionID = xid.NewWithTime(i.now())
	i.logger = i.base.With("session", i.sessionID.String())
	i.logger.Verbose("interface initialised: node %d, transfer id %d, session %s",
		i.cfg.NodeID, i.session.TransferID(), i.sessionID)
	return nil
}

// ResetRxFIFO empties the complete and incomplete FIFOs. Counters are kept.
func (i *Interface) ResetRxFIFO() {
	i.asm.ClearFIFOs()
}

// Close closes the driver.
func (i *Interface) Close() error {
	return i.driver.Close()
}

// SessionID identifies this interface instance in logs and captures.
func (i *Interface) SessionID() string { return i.sessionID.String() }

// NodeID returns the local node id.
func (i *Interface) NodeID() uint8 { return i.cfg.NodeID }

// Config returns the configuration the interface was created with.
func (i *Interface) Config() Config { return i.cfg }

// Session exposes the transfer id state.
func (i *Interface) Session() *Session { return i.session }

// Stats returns assembler counters.
func (i *Interface) Stats() Stats { return i.asm.Stats() }

// ReadDriver returns whatever the driver has pending.
// Frames read before a receive error are returned with it.
func (i *Interface) ReadDriver() (canbus.Batch, error) {
	batch, err := i.driver.Receive()
	if err != nil {
		return batch, fmt.Errorf("receive: %w", err)
	}
	return batch, nil
}

// LoadFramesFromBuffer decodes a batch and feeds it to the assembler. A
// decode failure drops the whole batch and returns *DecodeError. Integrity
// failures are returned joined after the rest of the batch is processed.
func (i *Interface) LoadFramesFromBuffer(batch canbus.Batch) error {
	if len(batch) == 0 {
		return nil
	}
	if i.logger.GetLevel() >= logging.LogLevelDebug {
		for _, f := range batch {
			i.logger.LogHex(fmt.Sprintf("rx 0x%08X", f.ID), f.Data)
		}
	}
	packets, err := i.codec.Decode(batch)
	if err != nil {
		i.asm.countDecodeError()
		i.logger.Verbose("dropping batch of %d frames: %v", len(batch), err)
		return &DecodeError{Frames: len(batch), Err: err}
	}
	return i.asm.Ingest(packets)
}

// LoadFrames reads the driver once and loads what arrived.
// Frames that arrived before a receive error are still loaded; the receive
// error is returned and problems in that partial batch are only logged.
func (i *Interface) LoadFrames() error {
	batch, err := i.ReadDriver()
	if err != nil {
		if len(batch) > 0 {
			if lerr := i.LoadFramesFromBuffer(batch); lerr != nil {
				i.logger.Verbose("partial batch before receive error: %v", lerr)
			}
		}
		return err
	}
	if len(batch) == 0 {
		i.asm.Expire()
		return nil
	}
	return i.LoadFramesFromBuffer(batch)
}

// Complete returns a copy of the complete FIFO.
func (i *Interface) Complete() []Frame { return i.asm.Complete() }

// CompleteLen returns the number of complete transfers waiting.
func (i *Interface) CompleteLen() int { return i.asm.CompleteLen() }

// IncompleteLen returns the number of transfers being reassembled.
func (i *Interface) IncompleteLen() int { return i.asm.IncompleteLen() }

// Drain removes and returns the complete transfers accepted by match.
func (i *Interface) Drain(match func(Frame) bool) []Frame {
	return i.asm.Drain(match)
}

// DrainPorts removes and returns the complete transfers on any of ports.
func (i *Interface) DrainPorts(ports ...uint16) []Frame {
	return i.asm.Drain(func(f Frame) bool {
		for _, p := range ports {
			if f.Props.PortID == p {
				return true
			}
		}
		return false
	})
}

func (i *Interface) handleEvent(ev Event) {
	switch ev.Kind {
	case EventCompleted:
		i.logger.Debug("transfer complete: %s", ev.Props)
	case EventIntegrityFailure:
		i.logger.Verbose("discarding transfer: %v", ev.Err)
	case EventOrphanDropped:
		i.logger.Verbose("dropping orphan frame 0x%08X (%s)", ev.ID, ev.Props)
	case EventStaleReplaced:
		i.logger.Verbose("replacing stale transfer 0x%08X port %d", ev.ID, ev.PortID)
	case EventStartRejected:
		i.logger.Verbose("rejecting start frame 0x%08X port %d: transfer in progress", ev.ID, ev.PortID)
	case EventExpired:
		i.logger.Verbose("transfer 0x%08X port %d timed out incomplete", ev.ID, ev.PortID)
	case EventOverflow:
		i.logger.Verbose("transfer 0x%08X port %d exceeds %d bytes", ev.ID, ev.PortID, i.cfg.Assembly.MaxTransferBytes)
	case EventCompleteDropped:
		i.logger.Debug("complete FIFO full, dropping oldest transfer on port %d", ev.PortID)
	}
	if i.hook != nil {
		i.hook(ev)
	}
}
