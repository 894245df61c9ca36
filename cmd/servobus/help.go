package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tturner/servobus/internal/app"
	"github.com/tturner/servobus/internal/cyphal"
)

func handleHelpArg(cmd *cobra.Command, args []string) bool {
	if len(args) == 0 {
		return false
	}
	if strings.EqualFold(args[0], "help") {
		_ = cmd.Help()
		return true
	}
	return false
}

func missingFlagError(cmd *cobra.Command, flag string) error {
	_ = cmd.Help()
	return fmt.Errorf("required flag %s not set", flag)
}

// busFlags are shared by every command that opens the bus.
type busFlags struct {
	config      string
	quickStart  bool
	driver      string
	iface       string
	nodeID      int
	capture     string
	replay      string
	logLevel    string
	logFile     string
	metricsFile string
	verbose     bool
	debug       bool
}

func (f *busFlags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.config, "config", "", "Config file (YAML or TOML by extension)")
	pf.BoolVar(&f.quickStart, "quick-start", false, "Create the config file with defaults if it does not exist")
	pf.StringVar(&f.driver, "driver", "", "Bus driver: loopback|socketcan|slcan|replay")
	pf.StringVarP(&f.iface, "interface", "i", "", "CAN interface (socketcan) or serial port (slcan)")
	pf.IntVar(&f.nodeID, "node-id", -1, "Local node id (0-127)")
	pf.StringVar(&f.capture, "capture", "", "Record bus traffic to this pcap file")
	pf.StringVar(&f.replay, "replay", "", "Read bus traffic from this pcap file")
	pf.StringVar(&f.logLevel, "log-level", "", "Log level: error|info|verbose|debug")
	pf.StringVar(&f.logFile, "log-file", "", "Also write logs to this file")
	pf.StringVar(&f.metricsFile, "metrics-file", "", "Write request metrics to this file")
	pf.BoolVar(&f.verbose, "verbose", false, "Shorthand for --log-level verbose")
	pf.BoolVar(&f.debug, "debug", false, "Shorthand for --log-level debug (frame hex dumps)")
}

func (f *busFlags) options() app.Options {
	level := f.logLevel
	if f.debug {
		level = "debug"
	} else if f.verbose && level == "" {
		level = "verbose"
	}
	return app.Options{
		ConfigPath:  f.config,
		AutoCreate:  f.quickStart,
		Driver:      f.driver,
		Interface:   f.iface,
		NodeID:      f.nodeID,
		CapturePath: f.capture,
		ReplayPath:  f.replay,
		LogLevel:    level,
		LogFile:     f.logFile,
		MetricsFile: f.metricsFile,
	}
}

// withSession opens the bus, runs fn with a context cancelled on SIGINT or
// SIGTERM, and closes the bus.
func withSession(f *busFlags, fn func(ctx context.Context, s *app.Session) error) error {
	s, err := app.Open(f.options())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := fn(ctx, s)
	if closeErr := s.Close(); closeErr != nil && runErr == nil {
		runErr = closeErr
	}
	return runErr
}

func requireChannel(cmd *cobra.Command, channel int) (uint8, error) {
	if channel < 0 {
		return 0, missingFlagError(cmd, "--channel")
	}
	if channel > cyphal.NodeIDMax {
		return 0, fmt.Errorf("invalid channel %d (want 0-%d)", channel, cyphal.NodeIDMax)
	}
	return uint8(channel), nil
}
