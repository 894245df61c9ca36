// Package digitalservo speaks the key/value protocol of digital servo
// controllers on top of the canif session layer.
package digitalservo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tturner/servobus/internal/canif"
	"github.com/tturner/servobus/internal/cyphal"
	"github.com/tturner/servobus/internal/logging"
	"github.com/tturner/servobus/internal/metrics"
)

// Well-known keys.
const (
	KeyCommandValue = "cmdval"
	KeyCommandArray = "cmdarray"
	KeyDrive        = "drive"
)

// ErrUndecodable marks key/value transfers whose payload is not a Dict.
var ErrUndecodable = errors.New("undecodable key/value transfer")

// StatusUnknown is returned by GeneralStatus when no status was received.
const StatusUnknown = 0xFF

// Bus is the part of canif.Interface the servo protocol needs.
type Bus interface {
	SendMessage(subject uint16, payload []byte) error
	SendResponse(service uint16, channel uint8, payload []byte) error
	SendRequest(service uint16, channel uint8, payload []byte) error
	RequestWithTimeout(ctx context.Context, req canif.Request, exp canif.Expectation, timeout time.Duration) (canif.Frame, error)
	LoadFrames() error
	DrainPorts(ports ...uint16) []canif.Frame
}

// Ports are the subject and service ids of the protocol.
type Ports struct {
	MessageSubject  uint16
	ResponseService uint16
	RequestService  uint16
	SetValueService uint16
	GetValueService uint16
	StatusSubject   uint16
	KeyValuePorts   []uint16
}

// Config holds protocol constants and pacing.
type Config struct {
	Ports Ports

	// AcceptedCode is the status byte a servo publishes after taking a value.
	AcceptedCode uint8
	// DriveAsBool sends "drive" as a bool array instead of 0.0/1.0.
	DriveAsBool bool

	// Pauses after the first and second step of each drive sequence.
	EnableSettle    [2]time.Duration
	DisableSettle   [2]time.Duration
	BroadcastSettle [2]time.Duration

	RequestTimeout time.Duration
}

// DefaultConfig returns the settings of current servo firmware.
func DefaultConfig() Config {
	return Config{
		Ports: Ports{
			MessageSubject:  0x488,
			ResponseService: 0x80,
			RequestService:  0x80,
			SetValueService: 0x81,
			GetValueService: 0x82,
			StatusSubject:   0x87,
			KeyValuePorts:   []uint16{0x80, 0x81, 0x488},
		},
		EnableSettle:    [2]time.Duration{50 * time.Millisecond, 50 * time.Millisecond},
		DisableSettle:   [2]time.Duration{100 * time.Millisecond, 50 * time.Millisecond},
		BroadcastSettle: [2]time.Duration{50 * time.Millisecond, 50 * time.Millisecond},
		RequestTimeout:  100 * time.Millisecond,
	}
}

// KeyValue is a decoded key/value transfer and where it came from.
type KeyValue struct {
	Dict
	Props cyphal.Props
}

// Option customises a Servo.
type Option func(*Servo)

// WithMetrics records every timed operation into sink.
func WithMetrics(sink *metrics.Sink) Option {
	return func(s *Servo) { s.sink = sink }
}

// WithMetricsWriter streams every timed operation to w.
func WithMetricsWriter(w *metrics.Writer) Option {
	return func(s *Servo) { s.writer = w }
}

// WithSleep replaces the settle delay between drive steps.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Servo) { s.sleep = fn }
}

// Servo sends servo commands over a Bus.
type Servo struct {
	bus    Bus
	cfg    Config
	logger *logging.Logger
	sink   *metrics.Sink
	writer *metrics.Writer
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

// New creates a Servo. logger may be nil.
func New(bus Bus, cfg Config, logger *logging.Logger, opts ...Option) *Servo {
	if logger == nil {
		logger = logging.NewWriterLogger(logging.LogLevelSilent, io.Discard, "text")
	}
	s := &Servo{
		bus:    bus,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepContext,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SendMessage broadcasts d on the message subject.
func (s *Servo) SendMessage(d Dict) error {
	payload, err := d.MarshalBinary()
	if err != nil {
		return err
	}
	return s.bus.SendMessage(s.cfg.Ports.MessageSubject, payload)
}

// SendResponse writes d to one channel.
func (s *Servo) SendResponse(channel uint8, d Dict) error {
	payload, err := d.MarshalBinary()
	if err != nil {
		return err
	}
	return s.bus.SendResponse(s.cfg.Ports.ResponseService, channel, payload)
}

// SendRequest asks a channel to publish key.
func (s *Servo) SendRequest(channel uint8, key string) error {
	payload, err := Float(key, 0).MarshalBinary()
	if err != nil {
		return err
	}
	return s.bus.SendRequest(s.cfg.Ports.RequestService, channel, payload)
}

// SetValue sends a set-value request without waiting for the result.
func (s *Servo) SetValue(channel uint8, d Dict) error {
	payload, err := d.MarshalBinary()
	if err != nil {
		return err
	}
	return s.bus.SendRequest(s.cfg.Ports.SetValueService, channel, payload)
}

// GetValue sends a get-value request without waiting for the result.
func (s *Servo) GetValue(channel uint8, key string) error {
	payload, err := MarshalStr(key)
	if err != nil {
		return err
	}
	return s.bus.SendRequest(s.cfg.Ports.GetValueService, channel, payload)
}

// SetValueWithTimeout sends a set-value request and waits for the channel to
// publish the accepted code on the status subject. A zero timeout uses the
// configured default.
func (s *Servo) SetValueWithTimeout(ctx context.Context, channel uint8, d Dict, timeout time.Duration) error {
	payload, err := d.MarshalBinary()
	if err != nil {
		return err
	}
	req := canif.Request{Service: s.cfg.Ports.SetValueService, Channel: channel, Payload: payload}
	exp := canif.Expectation{
		ResultPort: s.cfg.Ports.StatusSubject,
		Source:     channel,
		Accept:     canif.AcceptCode(s.cfg.AcceptedCode),
	}

	start := s.now()
	f, err := s.bus.RequestWithTimeout(ctx, req, exp, s.timeout(timeout))
	status := uint8(StatusUnknown)
	if err == nil && len(f.Payload) > 0 {
		status = f.Payload[0]
	}
	s.record(metrics.OperationSetValue, channel, d.Key, start, status, err)
	return err
}

// GetValueWithTimeout asks a channel for key and waits for it to answer with
// a response carrying that key.
func (s *Servo) GetValueWithTimeout(ctx context.Context, channel uint8, key string, timeout time.Duration) (Dict, error) {
	payload, err := MarshalStr(key)
	if err != nil {
		return Dict{}, err
	}
	var got Dict
	req := canif.Request{Service: s.cfg.Ports.GetValueService, Channel: channel, Payload: payload}
	exp := canif.Expectation{
		ResultPort: s.cfg.Ports.ResponseService,
		Source:     channel,
		Accept: func(f canif.Frame) bool {
			var d Dict
			if err := d.UnmarshalBinary(f.Payload); err != nil || d.Key != key {
				return false
			}
			got = d
			return true
		},
	}

	start := s.now()
	_, err = s.bus.RequestWithTimeout(ctx, req, exp, s.timeout(timeout))
	s.record(metrics.OperationGetValue, channel, key, start, StatusUnknown, err)
	if err != nil {
		return Dict{}, err
	}
	return got, nil
}

func (s *Servo) timeout(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return s.cfg.RequestTimeout
}

func (s *Servo) driveDict(on bool) Dict {
	if s.cfg.DriveAsBool {
		return Bool(KeyDrive, on)
	}
	if on {
		return Float(KeyDrive, 1)
	}
	return Float(KeyDrive, 0)
}

// DriveEnable zeroes the command value of a channel, then enables its drive.
func (s *Servo) DriveEnable(ctx context.Context, channel uint8) error {
	return s.sequence(ctx, metrics.OperationDriveEnable, channel, s.cfg.EnableSettle,
		func() error { return s.SendResponse(channel, Float(KeyCommandValue, 0)) },
		func() error { return s.SendResponse(channel, s.driveDict(true)) },
	)
}

// DriveEnableAll is DriveEnable broadcast to every channel.
func (s *Servo) DriveEnableAll(ctx context.Context) error {
	return s.sequence(ctx, metrics.OperationDriveEnable, cyphal.NodeIDUnset, s.cfg.BroadcastSettle,
		func() error { return s.SendMessage(Float(KeyCommandValue, 0)) },
		func() error { return s.SendMessage(s.driveDict(true)) },
	)
}

// DriveDisable disables the drive of a channel, then zeroes its command value.
func (s *Servo) DriveDisable(ctx context.Context, channel uint8) error {
	return s.sequence(ctx, metrics.OperationDriveDisable, channel, s.cfg.DisableSettle,
		func() error { return s.SendResponse(channel, s.driveDict(false)) },
		func() error { return s.SendResponse(channel, Float(KeyCommandValue, 0)) },
	)
}

// DriveDisableAll is DriveDisable broadcast to every channel.
func (s *Servo) DriveDisableAll(ctx context.Context) error {
	return s.sequence(ctx, metrics.OperationDriveDisable, cyphal.NodeIDUnset, s.cfg.BroadcastSettle,
		func() error { return s.SendMessage(s.driveDict(false)) },
		func() error { return s.SendMessage(Float(KeyCommandValue, 0)) },
	)
}

func (s *Servo) sequence(ctx context.Context, op metrics.OperationType, channel uint8, settle [2]time.Duration, steps ...func() error) error {
	start := s.now()
	var err error
	for n, step := range steps {
		if err = step(); err != nil {
			err = fmt.Errorf("%s step %d: %w", op, n+1, err)
			break
		}
		if err = s.sleep(ctx, settle[n]); err != nil {
			break
		}
	}
	s.record(op, channel, KeyDrive, start, StatusUnknown, err)
	return err
}

// SendVelocityReference sets the command value of a channel.
func (s *Servo) SendVelocityReference(channel uint8, value float64) error {
	return s.SendResponse(channel, Float(KeyCommandValue, value))
}

// SendMotionReference sets the four-element command array of a channel.
func (s *Servo) SendMotionReference(channel uint8, value [4]float64) error {
	return s.SendResponse(channel, Float(KeyCommandArray, value[:]...))
}

// GetKeyValue reads the bus, then removes and decodes every transfer on the
// key/value ports. Transfers that do not decode are dropped and reported in
// the returned error alongside the ones that did.
func (s *Servo) GetKeyValue() ([]KeyValue, error) {
	if err := s.bus.LoadFrames(); err != nil {
		switch canif.KindOf(err) {
		case canif.KindIntegrity, canif.KindDecode:
			s.logger.Verbose("key/value read: %v", err)
		default:
			return nil, err
		}
	}

	var (
		out  []KeyValue
		errs []error
	)
	for _, f := range s.bus.DrainPorts(s.cfg.Ports.KeyValuePorts...) {
		var d Dict
		if err := d.UnmarshalBinary(f.Payload); err != nil {
			errs = append(errs, fmt.Errorf("%w: port %d from node %d: %w", ErrUndecodable, f.PortID(), f.Props.Source, err))
			continue
		}
		out = append(out, KeyValue{Dict: d, Props: f.Props})
	}
	return out, errors.Join(errs...)
}

// GeneralStatus removes every status transfer already assembled and returns
// the first byte of the last one, or StatusUnknown.
func (s *Servo) GeneralStatus() uint8 {
	status := uint8(StatusUnknown)
	for _, f := range s.bus.DrainPorts(s.cfg.Ports.StatusSubject) {
		if len(f.Payload) > 0 {
			status = f.Payload[0]
		}
	}
	return status
}

func (s *Servo) record(op metrics.OperationType, channel uint8, key string, start time.Time, status uint8, err error) {
	rtt := float64(s.now().Sub(start).Microseconds()) / 1000.0
	m := metrics.Metric{
		Timestamp: start,
		Operation: op,
		Channel:   channel,
		Key:       key,
		Success:   err == nil,
		RTTMs:     rtt,
		Outcome:   outcome(err),
	}
	if err != nil {
		m.Error = err.Error()
	}
	s.logger.LogOperation(string(op), channel, key, err == nil, rtt, status, err)
	if s.sink != nil {
		s.sink.Record(m)
	}
	if s.writer != nil {
		if werr := s.writer.WriteMetric(m); werr != nil {
			s.logger.Error("write metric: %v", werr)
		}
	}
}

func outcome(err error) string {
	switch canif.KindOf(err) {
	case canif.KindNone:
		return metrics.OutcomeSuccess
	case canif.KindTimeout:
		return metrics.OutcomeTimeout
	case canif.KindTransmit:
		return metrics.OutcomeTransmit
	case canif.KindIntegrity:
		return metrics.OutcomeIntegrity
	case canif.KindDecode:
		return metrics.OutcomeDecode
	default:
		return metrics.OutcomeError
	}
}
