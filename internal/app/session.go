// Package app wires configuration, drivers, the bus interface and the servo
// layer together for the command line.
package app

import (
	"fmt"
	"time"

	"github.com/tturner/servobus/internal/canbus"
	"github.com/tturner/servobus/internal/canbus/slcan"
	"github.com/tturner/servobus/internal/canbus/socketcan"
	"github.com/tturner/servobus/internal/canif"
	"github.com/tturner/servobus/internal/capture"
	"github.com/tturner/servobus/internal/config"
	"github.com/tturner/servobus/internal/cyphal"
	"github.com/tturner/servobus/internal/digitalservo"
	servoErrors "github.com/tturner/servobus/internal/errors"
	"github.com/tturner/servobus/internal/logging"
	"github.com/tturner/servobus/internal/metrics"
)

// Options are the command-line overrides applied on top of the config file.
type Options struct {
	ConfigPath string
	AutoCreate bool

	Driver      string
	Interface   string
	NodeID      int // negative keeps the configured id
	CapturePath string
	ReplayPath  string

	LogLevel    string
	LogFile     string
	MetricsFile string
}

// Session is an open bus with the servo layer on top.
type Session struct {
	Config *config.Config
	Logger *logging.Logger
	Driver canbus.Driver
	Bus    *canif.Interface
	Servo  *digitalservo.Servo
	Sink   *metrics.Sink

	recorder *capture.Recorder
	writer   *metrics.Writer
	events   []canif.Event
	closed   bool
}

// maxEvents bounds the assembler events kept between TakeEvents calls.
const maxEvents = 256

func (s *Session) noteEvent(ev canif.Event) {
	if ev.Kind == canif.EventCompleted {
		return
	}
	if len(s.events) == maxEvents {
		s.events = append(s.events[:0], s.events[1:]...)
	}
	s.events = append(s.events, ev)
}

// TakeEvents returns and clears the assembler events seen since the last
// call: orphans, rejected or replaced starts, integrity failures, expiries
// and overflows.
func (s *Session) TakeEvents() []canif.Event {
	out := s.events
	s.events = nil
	return out
}

// Open loads the configuration, applies overrides and brings the bus up.
func Open(opts Options) (*Session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLoggerWithOptions(level, cfg.Logging.File, cfg.Logging.Format, cfg.Logging.LogEveryN)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	s, err := OpenWithLogger(cfg, logger)
	if err != nil {
		logger.Close()
		return nil, err
	}
	logger.LogStartup(cfg.Bus.Driver, busName(cfg.Bus), cfg.Node.ID, cfg.Node.MTU, opts.ConfigPath)
	return s, nil
}

func loadConfig(opts Options) (*config.Config, error) {
	var cfg *config.Config
	if opts.ConfigPath == "" {
		cfg = config.CreateDefault()
	} else {
		loaded, err := config.Load(opts.ConfigPath, opts.AutoCreate)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if opts.Driver != "" {
		cfg.Bus.Driver = opts.Driver
	}
	if opts.Interface != "" {
		cfg.Bus.Interface = opts.Interface
		if cfg.Bus.Driver == config.DriverSLCAN {
			cfg.Bus.Serial.Port = opts.Interface
		}
	}
	if opts.ReplayPath != "" {
		cfg.Bus.Driver = config.DriverReplay
		cfg.Bus.Replay = opts.ReplayPath
	}
	if opts.CapturePath != "" {
		cfg.Bus.Capture = opts.CapturePath
	}
	if opts.NodeID > cyphal.NodeIDMax {
		return nil, fmt.Errorf("invalid node id %d (want 0-%d)", opts.NodeID, cyphal.NodeIDMax)
	}
	if opts.NodeID >= 0 {
		cfg.Node.ID = uint8(opts.NodeID)
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.LogFile != "" {
		cfg.Logging.File = opts.LogFile
	}
	if opts.MetricsFile != "" {
		cfg.Metrics.File = opts.MetricsFile
	}
	if err := config.Validate(cfg); err != nil {
		return nil, servoErrors.WrapConfigError(err, opts.ConfigPath)
	}
	return cfg, nil
}

// OpenWithLogger brings the bus up from an already validated configuration.
func OpenWithLogger(cfg *config.Config, logger *logging.Logger) (*Session, error) {
	driver, err := OpenDriver(cfg.Bus)
	if err != nil {
		return nil, servoErrors.WrapDriverError(err, cfg.Bus.Driver, busName(cfg.Bus))
	}
	return newSession(cfg, logger, driver)
}

func newSession(cfg *config.Config, logger *logging.Logger, driver canbus.Driver) (*Session, error) {
	s := &Session{Config: cfg, Logger: logger, Driver: driver, Sink: metrics.NewSink()}

	if cfg.Bus.Capture != "" {
		rec, err := capture.StartCapture(driver, cfg.Bus.Capture)
		if err != nil {
			driver.Close()
			return nil, err
		}
		s.recorder = rec
		s.Driver = rec
		logger.Info("Recording bus traffic to %s", cfg.Bus.Capture)
	}

	ifcCfg, err := InterfaceConfig(cfg)
	if err != nil {
		s.Driver.Close()
		return nil, err
	}
	bus, err := canif.New(ifcCfg, s.Driver, logger, canif.WithEventHook(s.noteEvent))
	if err != nil {
		s.Driver.Close()
		return nil, err
	}
	if err := bus.Init(); err != nil {
		bus.Close()
		return nil, servoErrors.WrapDriverError(err, cfg.Bus.Driver, busName(cfg.Bus))
	}
	s.Bus = bus

	opts := []digitalservo.Option{digitalservo.WithMetrics(s.Sink)}
	if cfg.Metrics.File != "" {
		w, err := metrics.NewFormatWriter(cfg.Metrics.File, cfg.Metrics.Format)
		if err != nil {
			bus.Close()
			return nil, err
		}
		s.writer = w
		opts = append(opts, digitalservo.WithMetricsWriter(w))
	}
	s.Servo = digitalservo.New(bus, ServoConfig(cfg), logger, opts...)
	return s, nil
}

// Close shuts the bus and flushes capture and metrics files.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.Bus != nil {
		keep(s.Bus.Close())
	}
	if s.recorder != nil {
		if tx, rx := s.recorder.Counts(); tx+rx > 0 {
			s.Logger.Info("Captured %d tx / %d rx frames to %s", tx, rx, s.Config.Bus.Capture)
		}
		keep(s.recorder.Err())
	}
	if s.writer != nil {
		keep(s.writer.Close())
	}
	keep(s.Logger.Close())
	return firstErr
}

// OpenDriver opens the driver selected by cfg.
func OpenDriver(cfg config.BusConfig) (canbus.Driver, error) {
	filters := Filters(cfg.Filters)
	switch cfg.Driver {
	case config.DriverLoopback:
		loop := canbus.NewLoopback()
		loop.SetFilters(filters)
		return loop, nil
	case config.DriverSocketCAN:
		return socketcan.Open(cfg.Interface, filters)
	case config.DriverSLCAN:
		return slcan.Open(slcan.Config{
			Port:        cfg.Serial.Port,
			Baud:        cfg.Serial.Baud,
			Bitrate:     uint8(cfg.Serial.Bitrate),
			DataBitrate: uint8(cfg.Serial.DataBitrate),
			Filters:     filters,
		})
	case config.DriverReplay:
		return capture.OpenReplay(cfg.Replay, capture.WithPacing(nil), capture.WithFilters(filters))
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Driver)
	}
}

// Filters converts configured acceptance filters.
func Filters(in []config.FilterConfig) []canbus.Filter {
	out := make([]canbus.Filter, 0, len(in))
	for _, f := range in {
		out = append(out, canbus.Filter{ID: f.ID, Mask: f.Mask})
	}
	return out
}

// InterfaceConfig converts the node, assembly and request sections.
func InterfaceConfig(cfg *config.Config) (canif.Config, error) {
	policy, err := canif.ParseDuplicateStartPolicy(cfg.Assembly.DuplicateStart)
	if err != nil {
		return canif.Config{}, err
	}
	return canif.Config{
		NodeID:   cfg.Node.ID,
		MTU:      cfg.Node.MTU,
		Priority: cfg.Node.Priority,
		Assembly: canif.AssemblerConfig{
			Policy:            policy,
			IncompleteTimeout: ms(cfg.Assembly.IncompleteTimeoutMs),
			MaxTransferBytes:  cfg.Assembly.MaxTransferBytes,
			MaxComplete:       cfg.Assembly.MaxComplete,
		},
		RequestTimeout: ms(cfg.Request.TimeoutMs),
		PollInterval:   ms(cfg.Request.PollIntervalMs),
	}, nil
}

// ServoConfig converts the ports and servo sections.
func ServoConfig(cfg *config.Config) digitalservo.Config {
	p := cfg.Ports
	return digitalservo.Config{
		Ports: digitalservo.Ports{
			MessageSubject:  p.MessageSubject,
			ResponseService: p.ResponseService,
			RequestService:  p.RequestService,
			SetValueService: p.SetValueService,
			GetValueService: p.GetValueService,
			StatusSubject:   p.StatusSubject,
			KeyValuePorts:   append([]uint16(nil), p.KeyValuePorts...),
		},
		AcceptedCode:    cfg.Servo.AcceptedCode,
		DriveAsBool:     cfg.Servo.DriveAsBool,
		EnableSettle:    settle(cfg.Servo.EnableSettleMs),
		DisableSettle:   settle(cfg.Servo.DisableSettleMs),
		BroadcastSettle: settle(cfg.Servo.BroadcastSettleMs),
		RequestTimeout:  ms(cfg.Request.TimeoutMs),
	}
}

func settle(v []int) [2]time.Duration {
	var out [2]time.Duration
	for i := 0; i < len(v) && i < 2; i++ {
		out[i] = ms(v[i])
	}
	return out
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func busName(b config.BusConfig) string {
	switch b.Driver {
	case config.DriverSLCAN:
		return b.Serial.Port
	case config.DriverReplay:
		return b.Replay
	default:
		return b.Interface
	}
}
