package canif

import (
	"context"
	"errors"
	"time"

	"github.com/tturner/servobus/internal/cyphal"
)

// Request is the service call that starts a correlated exchange.
type Request struct {
	Service uint16
	Channel uint8
	Payload []byte

	// PollInterval paces driver reads while waiting. Zero uses the
	// interface default.
	PollInterval time.Duration
}

// Expectation describes the result that completes a request.
type Expectation struct {
	ResultPort uint16
	// Source is the node the result must come from; cyphal.NodeIDUnset
	// accepts any node.
	Source uint8
	// Accept inspects a result-port frame from Source. Nil accepts all.
	Accept func(Frame) bool
}

// AcceptCode accepts results whose first payload byte equals code.
func AcceptCode(code byte) func(Frame) bool {
	return func(f Frame) bool {
		return len(f.Payload) > 0 && f.Payload[0] == code
	}
}

func (e Expectation) matches(f Frame) bool {
	if e.Source != cyphal.NodeIDUnset && f.Props.Source != e.Source {
		return false
	}
	return e.Accept == nil || e.Accept(f)
}

// RequestWithTimeout sends req, then polls the bus until a frame satisfying
// exp arrives or timeout elapses (*TimeoutError, matching ErrTimeout).
// Every result-port transfer seen while waiting is removed from the complete
// FIFO, so none are left behind whatever the outcome. The request is sent
// once; the caller owns retries.
//
// Integrity and decode failures on unrelated traffic are logged and polling
// continues. A driver receive failure ends the wait.
func (i *Interface) RequestWithTimeout(ctx context.Context, req Request, exp Expectation, timeout time.Duration) (Frame, error) {
	if timeout <= 0 {
		timeout = i.cfg.RequestTimeout
	}
	poll := req.PollInterval
	if poll <= 0 {
		poll = i.cfg.PollInterval
	}
	if poll <= 0 {
		poll = time.Millisecond
	}

	if err := i.SendRequest(req.Service, req.Channel, req.Payload); err != nil {
		return Frame{}, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		f, ok, err := i.pollResult(exp)
		if err != nil {
			i.dropResults(exp)
			return Frame{}, err
		}
		if ok {
			return f, nil
		}

		select {
		case <-ctx.Done():
			i.dropResults(exp)
			return Frame{}, ctx.Err()
		case <-deadline.C:
			i.dropResults(exp)
			i.logger.Verbose("no result on port %d from channel %d after %s", exp.ResultPort, req.Channel, timeout)
			return Frame{}, &TimeoutError{Port: exp.ResultPort, Channel: req.Channel, After: timeout}
		case <-ticker.C:
		}
	}
}

// pollResult loads pending frames and consumes every result-port transfer,
// returning the first that matches.
func (i *Interface) pollResult(exp Expectation) (Frame, bool, error) {
	if err := i.LoadFrames(); err != nil {
		var (
			integrity *IntegrityError
			decode    *DecodeError
		)
		if !errors.As(err, &integrity) && !errors.As(err, &decode) {
			return Frame{}, false, err
		}
		i.logger.Verbose("ignoring bad traffic while waiting: %v", err)
	}

	var (
		found Frame
		ok    bool
	)
	for _, f := range i.dropResults(exp) {
		if !ok && exp.matches(f) {
			found, ok = f, true
		}
	}
	return found, ok, nil
}

func (i *Interface) dropResults(exp Expectation) []Frame {
	return i.DrainPorts(exp.ResultPort)
}
