package config

// Configuration loading and validation for servobus

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/tturner/servobus/internal/canbus"
	"github.com/tturner/servobus/internal/cyphal"
	"github.com/tturner/servobus/internal/errors"
)

// Bus driver names
const (
	DriverLoopback  = "loopback"
	DriverSocketCAN = "socketcan"
	DriverSLCAN     = "slcan"
	DriverReplay    = "replay"
)

// NodeConfig identifies the local node on the bus
type NodeConfig struct {
	ID       uint8 `yaml:"id" toml:"id"`
	MTU      int   `yaml:"mtu" toml:"mtu"`
	Priority uint8 `yaml:"priority" toml:"priority"`
}

// SerialConfig configures a serial-line (slcan) adapter
type SerialConfig struct {
	Port string `yaml:"port" toml:"port"`
	Baud int    `yaml:"baud" toml:"baud"`
	// Nominal and data bitrate codes as understood by the adapter's S/Y commands.
	Bitrate     int `yaml:"bitrate" toml:"bitrate"`
	DataBitrate int `yaml:"data_bitrate" toml:"data_bitrate"`
}

// FilterConfig is one extended-id acceptance filter
type FilterConfig struct {
	ID   uint32 `yaml:"id" toml:"id"`
	Mask uint32 `yaml:"mask" toml:"mask"`
}

// BusConfig selects and configures the CAN-FD driver
type BusConfig struct {
	Driver    string         `yaml:"driver" toml:"driver"` // "loopback", "socketcan", "slcan", "replay"
	Interface string         `yaml:"interface" toml:"interface"`
	Serial    SerialConfig   `yaml:"serial,omitempty" toml:"serial,omitempty"`
	Replay    string         `yaml:"replay,omitempty" toml:"replay,omitempty"`   // pcap to read frames from
	Capture   string         `yaml:"capture,omitempty" toml:"capture,omitempty"` // pcap to record traffic to
	Filters   []FilterConfig `yaml:"filters,omitempty" toml:"filters,omitempty"`
}

// AssemblyConfig controls multi-frame reassembly
type AssemblyConfig struct {
	DuplicateStart      string `yaml:"duplicate_start" toml:"duplicate_start"` // "replace_stale" or "reject_new"
	IncompleteTimeoutMs int    `yaml:"incomplete_timeout_ms" toml:"incomplete_timeout_ms"`
	MaxTransferBytes    int    `yaml:"max_transfer_bytes" toml:"max_transfer_bytes"`
	MaxComplete         int    `yaml:"max_complete" toml:"max_complete"` // assembled transfers kept unread
}

// RequestConfig controls correlated requests
type RequestConfig struct {
	TimeoutMs      int `yaml:"timeout_ms" toml:"timeout_ms"`
	PollIntervalMs int `yaml:"poll_interval_ms" toml:"poll_interval_ms"`
}

// PortsConfig names the subject and service ids used by the servo protocol
type PortsConfig struct {
	MessageSubject  uint16   `yaml:"message_subject" toml:"message_subject"`
	ResponseService uint16   `yaml:"response_service" toml:"response_service"`
	RequestService  uint16   `yaml:"request_service" toml:"request_service"`
	SetValueService uint16   `yaml:"set_value_service" toml:"set_value_service"`
	GetValueService uint16   `yaml:"get_value_service" toml:"get_value_service"`
	StatusSubject   uint16   `yaml:"status_subject" toml:"status_subject"`
	KeyValuePorts   []uint16 `yaml:"key_value_ports" toml:"key_value_ports"`
}

// ServoConfig holds servo-level behaviour
type ServoConfig struct {
	AcceptedCode uint8 `yaml:"accepted_code" toml:"accepted_code"`
	DriveAsBool  bool  `yaml:"drive_as_bool" toml:"drive_as_bool"` // encode "drive" as bool instead of float

	EnableSettleMs    []int `yaml:"enable_settle_ms" toml:"enable_settle_ms"`       // after cmdval, after drive
	DisableSettleMs   []int `yaml:"disable_settle_ms" toml:"disable_settle_ms"`     // after drive, after cmdval
	BroadcastSettleMs []int `yaml:"broadcast_settle_ms" toml:"broadcast_settle_ms"` // enable/disable of all channels
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level     string `yaml:"level" toml:"level"`   // "error", "info", "verbose", "debug"
	Format    string `yaml:"format" toml:"format"` // "text" or "json"
	File      string `yaml:"file,omitempty" toml:"file,omitempty"`
	LogEveryN int    `yaml:"log_every_n" toml:"log_every_n"` // sample hex dumps
}

// MetricsConfig controls request metrics output
type MetricsConfig struct {
	File   string `yaml:"file,omitempty" toml:"file,omitempty"`
	Format string `yaml:"format" toml:"format"` // "csv" or "json"
}

// Config is the complete servobus configuration
type Config struct {
	Node     NodeConfig     `yaml:"node" toml:"node"`
	Bus      BusConfig      `yaml:"bus" toml:"bus"`
	Assembly AssemblyConfig `yaml:"assembly" toml:"assembly"`
	Request  RequestConfig  `yaml:"request" toml:"request"`
	Ports    PortsConfig    `yaml:"ports" toml:"ports"`
	Servo    ServoConfig    `yaml:"servo" toml:"servo"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// CreateDefault creates a default configuration
func CreateDefault() *Config {
	cfg := &Config{
		Node: NodeConfig{
			ID:       cyphal.NodeIDMax,
			MTU:      cyphal.DefaultMTU,
			Priority: cyphal.PriorityNominal,
		},
		Bus: BusConfig{
			Driver:    DriverSocketCAN,
			Interface: "can0",
			Serial: SerialConfig{
				Port:        "/dev/ttyACM0",
				Baud:        115200,
				Bitrate:     8,
				DataBitrate: 5,
			},
		},
	}
	applyDefaults(cfg)
	return cfg
}

// WriteDefault writes the default configuration, as TOML when path ends in
// .toml and as YAML otherwise
func WriteDefault(path string) error {
	data, err := marshal(path, CreateDefault())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Load loads a configuration file.
// If the file doesn't exist and autoCreate is true, a default config is written first.
func Load(path string, autoCreate bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if autoCreate {
				if err := WriteDefault(path); err != nil {
					return nil, fmt.Errorf("create default config: %w", err)
				}
				data, err = os.ReadFile(path)
				if err != nil {
					return nil, errors.WrapConfigError(
						fmt.Errorf("read created config file: %w", err),
						path,
					)
				}
			} else {
				return nil, errors.WrapConfigError(
					fmt.Errorf("config file not found: %s", path),
					path,
				)
			}
		} else {
			return nil, errors.WrapConfigError(
				fmt.Errorf("read config file: %w", err),
				path,
			)
		}
	}

	cfg, err := Parse(path, data)
	if err != nil {
		return nil, errors.WrapConfigError(err, path)
	}
	return cfg, nil
}

// Parse decodes data over the defaults, then validates it. The format is
// picked from the extension of name.
func Parse(name string, data []byte) (*Config, error) {
	// Omitted keys keep their defaults. Zero is a legal node id and priority.
	cfg := CreateDefault()
	if isTOML(name) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parse TOML: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks a configuration for values the bus cannot use
func Validate(cfg *Config) error {
	if cfg.Node.ID > cyphal.NodeIDMax {
		return fmt.Errorf("node.id must be <= %d", cyphal.NodeIDMax)
	}
	if cfg.Node.MTU < 8 || cfg.Node.MTU > canbus.CANFDMaxData || !canbus.ValidLength(cfg.Node.MTU) {
		return fmt.Errorf("node.mtu %d is not a CAN-FD frame length", cfg.Node.MTU)
	}
	if cfg.Node.Priority > cyphal.PriorityMax {
		return fmt.Errorf("node.priority must be <= %d", cyphal.PriorityMax)
	}

	if err := validateBus(cfg.Bus); err != nil {
		return err
	}

	switch strings.ToLower(cfg.Assembly.DuplicateStart) {
	case "replace_stale", "replace", "reject_new", "reject":
	default:
		return fmt.Errorf("assembly.duplicate_start must be 'replace_stale' or 'reject_new', got %q", cfg.Assembly.DuplicateStart)
	}
	if cfg.Assembly.IncompleteTimeoutMs < 0 {
		return fmt.Errorf("assembly.incomplete_timeout_ms must be >= 0")
	}
	if cfg.Assembly.MaxTransferBytes < 0 {
		return fmt.Errorf("assembly.max_transfer_bytes must be >= 0")
	}
	if cfg.Assembly.MaxComplete < 0 {
		return fmt.Errorf("assembly.max_complete must be >= 0")
	}

	if cfg.Request.TimeoutMs <= 0 {
		return fmt.Errorf("request.timeout_ms must be greater than 0")
	}
	if cfg.Request.PollIntervalMs <= 0 {
		return fmt.Errorf("request.poll_interval_ms must be greater than 0")
	}
	if cfg.Request.PollIntervalMs > cfg.Request.TimeoutMs {
		return fmt.Errorf("request.poll_interval_ms (%d) must not exceed request.timeout_ms (%d)", cfg.Request.PollIntervalMs, cfg.Request.TimeoutMs)
	}

	if err := validatePorts(cfg.Ports); err != nil {
		return err
	}

	if len(cfg.Servo.EnableSettleMs) != 2 {
		return fmt.Errorf("servo.enable_settle_ms needs 2 entries, got %d", len(cfg.Servo.EnableSettleMs))
	}
	if len(cfg.Servo.DisableSettleMs) != 2 {
		return fmt.Errorf("servo.disable_settle_ms needs 2 entries, got %d", len(cfg.Servo.DisableSettleMs))
	}
	if len(cfg.Servo.BroadcastSettleMs) != 2 {
		return fmt.Errorf("servo.broadcast_settle_ms needs 2 entries, got %d", len(cfg.Servo.BroadcastSettleMs))
	}
	delays := append(append([]int{}, cfg.Servo.EnableSettleMs...), cfg.Servo.DisableSettleMs...)
	for _, ms := range append(delays, cfg.Servo.BroadcastSettleMs...) {
		if ms < 0 {
			return fmt.Errorf("servo settle delays must be >= 0")
		}
	}

	switch cfg.Logging.Level {
	case "error", "info", "verbose", "debug":
	default:
		return fmt.Errorf("logging.level must be one of error, info, verbose, debug; got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.LogEveryN < 1 {
		return fmt.Errorf("logging.log_every_n must be >= 1")
	}

	if cfg.Metrics.Format != "csv" && cfg.Metrics.Format != "json" {
		return fmt.Errorf("metrics.format must be 'csv' or 'json', got %q", cfg.Metrics.Format)
	}

	return nil
}

func validateBus(bus BusConfig) error {
	switch bus.Driver {
	case DriverLoopback:
	case DriverSocketCAN:
		if bus.Interface == "" {
			return fmt.Errorf("bus.interface is required for the socketcan driver")
		}
	case DriverSLCAN:
		if bus.Serial.Port == "" {
			return fmt.Errorf("bus.serial.port is required for the slcan driver")
		}
		if bus.Serial.Baud <= 0 {
			return fmt.Errorf("bus.serial.baud must be greater than 0")
		}
		if bus.Serial.Bitrate < 0 || bus.Serial.Bitrate > 8 {
			return fmt.Errorf("bus.serial.bitrate code must be 0-8")
		}
		if bus.Serial.DataBitrate < 0 || bus.Serial.DataBitrate > 8 {
			return fmt.Errorf("bus.serial.data_bitrate code must be 0-8")
		}
	case DriverReplay:
		if bus.Replay == "" {
			return fmt.Errorf("bus.replay is required for the replay driver")
		}
	default:
		return fmt.Errorf("invalid bus.driver '%s'; must be one of loopback, socketcan, slcan, replay", bus.Driver)
	}

	for i, f := range bus.Filters {
		if f.ID > canbus.MaxExtendedID || f.Mask > canbus.MaxExtendedID {
			return fmt.Errorf("bus.filters[%d]: id and mask must fit in 29 bits", i)
		}
	}
	return nil
}

func validatePorts(p PortsConfig) error {
	subjects := map[string]uint16{
		"message_subject": p.MessageSubject,
		"status_subject":  p.StatusSubject,
	}
	for name, id := range subjects {
		if id > cyphal.SubjectIDMax {
			return fmt.Errorf("ports.%s must be <= %d", name, cyphal.SubjectIDMax)
		}
	}
	services := map[string]uint16{
		"response_service":  p.ResponseService,
		"request_service":   p.RequestService,
		"set_value_service": p.SetValueService,
		"get_value_service": p.GetValueService,
	}
	for name, id := range services {
		if id > cyphal.ServiceIDMax {
			return fmt.Errorf("ports.%s must be <= %d", name, cyphal.ServiceIDMax)
		}
	}
	if len(p.KeyValuePorts) == 0 {
		return fmt.Errorf("ports.key_value_ports must list at least one port")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Node.MTU == 0 {
		cfg.Node.MTU = cyphal.DefaultMTU
	}
	if cfg.Bus.Driver == "" {
		cfg.Bus.Driver = DriverSocketCAN
	}
	if cfg.Bus.Driver == DriverSocketCAN && cfg.Bus.Interface == "" {
		cfg.Bus.Interface = "can0"
	}
	if cfg.Bus.Serial.Baud == 0 {
		cfg.Bus.Serial.Baud = 115200
	}
	applyAssemblyDefaults(cfg)
	applyPortDefaults(cfg)
	applyServoDefaults(cfg)
	applyLoggingDefaults(cfg)
	applyMetricsDefaults(cfg)
}

func applyAssemblyDefaults(cfg *Config) {
	if cfg.Assembly.DuplicateStart == "" {
		cfg.Assembly.DuplicateStart = "replace_stale"
	}
	if cfg.Assembly.IncompleteTimeoutMs == 0 {
		cfg.Assembly.IncompleteTimeoutMs = 2000
	}
	if cfg.Assembly.MaxTransferBytes == 0 {
		cfg.Assembly.MaxTransferBytes = 4096
	}
	if cfg.Assembly.MaxComplete == 0 {
		cfg.Assembly.MaxComplete = 1024
	}
	if cfg.Request.TimeoutMs == 0 {
		cfg.Request.TimeoutMs = 100
	}
	if cfg.Request.PollIntervalMs == 0 {
		cfg.Request.PollIntervalMs = 1
	}
}

func applyPortDefaults(cfg *Config) {
	p := &cfg.Ports
	if p.MessageSubject == 0 {
		p.MessageSubject = 0x488
	}
	if p.ResponseService == 0 {
		p.ResponseService = 0x80
	}
	if p.RequestService == 0 {
		p.RequestService = 0x80
	}
	if p.SetValueService == 0 {
		p.SetValueService = 0x81
	}
	if p.GetValueService == 0 {
		p.GetValueService = 0x82
	}
	if p.StatusSubject == 0 {
		p.StatusSubject = 0x87
	}
	if len(p.KeyValuePorts) == 0 {
		p.KeyValuePorts = []uint16{0x80, 0x81, 0x488}
	}
}

func applyServoDefaults(cfg *Config) {
	if len(cfg.Servo.EnableSettleMs) == 0 {
		cfg.Servo.EnableSettleMs = []int{50, 50}
	}
	if len(cfg.Servo.DisableSettleMs) == 0 {
		cfg.Servo.DisableSettleMs = []int{100, 50}
	}
	if len(cfg.Servo.BroadcastSettleMs) == 0 {
		cfg.Servo.BroadcastSettleMs = []int{50, 50}
	}
}

func applyLoggingDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.LogEveryN == 0 {
		cfg.Logging.LogEveryN = 1
	}
}

func applyMetricsDefaults(cfg *Config) {
	if cfg.Metrics.Format == "" {
		cfg.Metrics.Format = "csv"
	}
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func marshal(path string, cfg *Config) ([]byte, error) {
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return yaml.Marshal(cfg)
}
