package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/tturner/servobus/internal/canif"
)

func TestUserFriendlyError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      UserFriendlyError
		contains []string
	}{
		{
			name:     "message only",
			err:      UserFriendlyError{Message: "something broke"},
			contains: []string{"something broke"},
		},
		{
			name: "all fields",
			err: UserFriendlyError{
				Message: "request failed",
				Reason:  "timeout",
				Hint:    "check the servo",
				Try:     "servobus status",
				Err:     fmt.Errorf("no result on port 135"),
			},
			contains: []string{"request failed", "Reason: timeout", "Hint: check the servo", "Try: servobus status", "Details: no result on port 135"},
		},
		{
			name: "no reason",
			err: UserFriendlyError{
				Message: "failed",
				Hint:    "hint here",
			},
			contains: []string{"failed", "Hint: hint here"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("Error() = %q, want to contain %q", msg, s)
				}
			}
		})
	}
}

func TestUserFriendlyError_ErrorOmitsEmptyFields(t *testing.T) {
	err := UserFriendlyError{Message: "msg"}
	msg := err.Error()
	if strings.Contains(msg, "Reason:") || strings.Contains(msg, "Hint:") || strings.Contains(msg, "Try:") || strings.Contains(msg, "Details:") {
		t.Errorf("Error() = %q, should not contain empty fields", msg)
	}
}

func TestUserFriendlyError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("root cause")
	err := UserFriendlyError{Message: "wrapper", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("Unwrap should return the inner error")
	}

	var nilErr UserFriendlyError
	if nilErr.Unwrap() != nil {
		t.Error("Unwrap on nil Err should return nil")
	}
}

func TestWrapDriverError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if WrapDriverError(nil, "socketcan", "can0") != nil {
			t.Error("expected nil")
		}
	})

	tests := []struct {
		name   string
		driver string
		err    error
		reason string
		hint   string
	}{
		{"missing interface", "socketcan", fmt.Errorf("route ip+net: no such network interface"), "Interface not found", "fd on"},
		{"permission", "socketcan", fmt.Errorf("socket: operation not permitted"), "Permission denied", "fd on"},
		{"missing serial port", "slcan", fmt.Errorf("open /dev/ttyACM0: no such file or directory"), "Device not found", "serial port"},
		{"busy", "slcan", fmt.Errorf("device or resource busy"), "Device busy", "serial port"},
		{"generic", "replay", fmt.Errorf("something else"), "Bus driver error", "LINKTYPE_CAN_SOCKETCAN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ufe := WrapDriverError(tt.err, tt.driver, "can0").(UserFriendlyError)
			if !strings.Contains(ufe.Message, tt.driver) || !strings.Contains(ufe.Message, "can0") {
				t.Errorf("message should name driver and interface, got %q", ufe.Message)
			}
			if !strings.HasPrefix(ufe.Reason, tt.reason) {
				t.Errorf("Reason = %q, want prefix %q", ufe.Reason, tt.reason)
			}
			if !strings.Contains(ufe.Hint, tt.hint) {
				t.Errorf("Hint = %q, want to contain %q", ufe.Hint, tt.hint)
			}
			if !errors.Is(ufe, tt.err) {
				t.Error("wrapped error should unwrap to the driver error")
			}
		})
	}
}

func TestWrapRequestError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if WrapRequestError(nil, 5, "cmdval") != nil {
			t.Error("expected nil")
		}
	})

	tests := []struct {
		name   string
		err    error
		reason string
		hint   string
	}{
		{
			name:   "timeout",
			err:    &canif.TimeoutError{Port: 0x87, Channel: 5, After: time.Second},
			reason: "deadline",
			hint:   "powered off",
		},
		{
			name:   "partial transmit",
			err:    fmt.Errorf("send: %w", &canif.TransmitError{Sent: 1, Total: 3, Err: fmt.Errorf("bus off")}),
			reason: "after 1 of 3 frames",
			hint:   "unterminated",
		},
		{
			name:   "first frame rejected",
			err:    &canif.TransmitError{Sent: 0, Total: 1, Err: fmt.Errorf("bus off")},
			reason: "before any frame",
			hint:   "unterminated",
		},
		{
			name:   "decode",
			err:    &canif.DecodeError{Frames: 2, Err: fmt.Errorf("bad length")},
			reason: "decoded",
			hint:   "data bitrate",
		},
		{
			name:   "integrity",
			err:    &canif.IntegrityError{PortID: 1160},
			reason: "checksum",
			hint:   "data bitrate",
		},
		{
			name:   "other",
			err:    fmt.Errorf("adapter unplugged"),
			reason: "Bus request failed",
			hint:   "--log-level debug",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ufe := WrapRequestError(tt.err, 5, "cmdval").(UserFriendlyError)
			if !strings.Contains(ufe.Message, "channel 5") || !strings.Contains(ufe.Message, "cmdval") {
				t.Errorf("message should name channel and key, got %q", ufe.Message)
			}
			if !strings.Contains(ufe.Reason, tt.reason) {
				t.Errorf("Reason = %q, want to contain %q", ufe.Reason, tt.reason)
			}
			if !strings.Contains(ufe.Hint, tt.hint) {
				t.Errorf("Hint = %q, want to contain %q", ufe.Hint, tt.hint)
			}
		})
	}

	t.Run("keeps timeout identity", func(t *testing.T) {
		err := WrapRequestError(&canif.TimeoutError{After: time.Second}, 5, "cmdval")
		if !errors.Is(err, canif.ErrTimeout) {
			t.Error("wrapped timeout should still match canif.ErrTimeout")
		}
	})
}

func TestWrapConfigError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if WrapConfigError(nil, "servobus.yaml") != nil {
			t.Error("expected nil")
		}
	})

	t.Run("wraps config error", func(t *testing.T) {
		err := WrapConfigError(fmt.Errorf("invalid yaml"), "servobus.yaml")
		ufe := err.(UserFriendlyError)
		if !strings.Contains(ufe.Message, "servobus.yaml") {
			t.Errorf("message should contain config path, got %q", ufe.Message)
		}
		if ufe.Reason != "invalid yaml" {
			t.Errorf("reason should be inner error message, got %q", ufe.Reason)
		}
		if !strings.Contains(ufe.Hint, "config init") {
			t.Errorf("hint should point at config init, got %q", ufe.Hint)
		}
	})
}
