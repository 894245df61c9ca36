package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tturner/servobus/internal/canif"
	"github.com/tturner/servobus/internal/digitalservo"
)

// ListenOptions tunes Listen.
type ListenOptions struct {
	Interval time.Duration
	// Channel limits output to one source node. Negative prints all.
	Channel int
	// Status also prints the general status byte whenever it changes.
	Status bool
	// Events also prints assembler events such as orphans and checksum
	// failures.
	Events bool
}

// Listen prints key/value traffic until ctx is cancelled.
func Listen(ctx context.Context, s *Session, out io.Writer, opts ListenOptions) error {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	lastStatus := uint8(digitalservo.StatusUnknown)
	for {
		if err := listenOnce(s, out, opts, &lastStatus); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func listenOnce(s *Session, out io.Writer, opts ListenOptions, lastStatus *uint8) error {
	kvs, err := s.Servo.GetKeyValue()
	if err != nil {
		if !errors.Is(err, digitalservo.ErrUndecodable) {
			return err
		}
		s.Logger.Verbose("%v", err)
	}
	for _, kv := range kvs {
		if opts.Channel >= 0 && int(kv.Props.Source) != opts.Channel {
			continue
		}
		fmt.Fprintf(out, "%s node %-3d %-8s port %-4d %s\n",
			time.Now().Format("15:04:05.000"), kv.Props.Source, kv.Props.Kind, kv.Props.PortID, kv.Dict)
	}
	// The status port is drained every tick so status traffic cannot pile
	// up while only key/value output is wanted.
	if st := s.Servo.GeneralStatus(); opts.Status && st != digitalservo.StatusUnknown && st != *lastStatus {
		fmt.Fprintf(out, "%s status 0x%02X\n", time.Now().Format("15:04:05.000"), st)
		*lastStatus = st
	}
	// listen owns the bus; transfers on ports nobody reads are discarded.
	if n := len(s.Bus.Drain(func(canif.Frame) bool { return true })); n > 0 {
		s.Logger.Debug("discarded %d transfers on unwatched ports", n)
	}
	events := s.TakeEvents()
	if !opts.Events {
		return nil
	}
	for _, ev := range events {
		line := fmt.Sprintf("%s event %-17s id %08X port %-4d", time.Now().Format("15:04:05.000"), ev.Kind, ev.ID, ev.PortID)
		if ev.Err != nil {
			line += " " + ev.Err.Error()
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

// WaitStatus polls until a status byte arrives or timeout passes.
func WaitStatus(ctx context.Context, s *Session, timeout time.Duration) (uint8, error) {
	deadline := time.Now().Add(timeout)
	interval := ms(s.Config.Request.PollIntervalMs)
	for {
		if err := s.Bus.LoadFrames(); err != nil {
			switch canif.KindOf(err) {
			case canif.KindIntegrity, canif.KindDecode:
				s.Logger.Verbose("status read: %v", err)
			default:
				return digitalservo.StatusUnknown, err
			}
		}
		if st := s.Servo.GeneralStatus(); st != digitalservo.StatusUnknown {
			return st, nil
		}
		if !time.Now().Before(deadline) {
			return digitalservo.StatusUnknown, nil
		}
		select {
		case <-ctx.Done():
			return digitalservo.StatusUnknown, ctx.Err()
		case <-time.After(interval):
		}
	}
}
