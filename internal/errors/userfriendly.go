package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/tturner/servobus/internal/canif"
)

// UserFriendlyError provides user-friendly error messages with context and hints
type UserFriendlyError struct {
	Message string
	Reason  string
	Hint    string
	Try     string
	Err     error
}

func (e UserFriendlyError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Message)
	if e.Reason != "" {
		buf.WriteString("\n  Reason: " + e.Reason)
	}
	if e.Hint != "" {
		buf.WriteString("\n  Hint: " + e.Hint)
	}
	if e.Try != "" {
		buf.WriteString("\n  Try: " + e.Try)
	}
	if e.Err != nil {
		buf.WriteString("\n  Details: " + e.Err.Error())
	}
	return buf.String()
}

func (e UserFriendlyError) Unwrap() error {
	return e.Err
}

// WrapDriverError wraps failures opening or using a bus driver
func WrapDriverError(err error, driver, iface string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Failed to use %s driver on %s", driver, iface),
		Reason:  extractDriverReason(err),
		Hint:    driverHint(driver),
		Try:     fmt.Sprintf("servobus listen --driver %s --interface %s --log-level debug", driver, iface),
		Err:     err,
	}
}

// WrapConfigError wraps configuration errors with user-friendly context
func WrapConfigError(err error, configPath string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Configuration error in %s", configPath),
		Reason:  err.Error(),
		Hint:    "Generate a commented starting point with 'servobus config init'",
		Try:     fmt.Sprintf("Validate your config: servobus config validate %s", configPath),
		Err:     err,
	}
}

// WrapRequestError wraps a failed exchange with a servo channel
func WrapRequestError(err error, channel uint8, key string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Request to channel %d failed (key %q)", channel, key),
		Reason:  extractRequestReason(err),
		Hint:    requestHint(err),
		Try:     fmt.Sprintf("servobus listen --channel %d --status", channel),
		Err:     err,
	}
}

func extractDriverReason(err error) string {
	errStr := err.Error()

	if strings.Contains(errStr, "no such device") || strings.Contains(errStr, "no such network interface") {
		return "Interface not found - check the interface name and that it is up"
	}
	if strings.Contains(errStr, "permission denied") || strings.Contains(errStr, "operation not permitted") {
		return "Permission denied - raw CAN sockets and serial ports may need extra privileges"
	}
	if strings.Contains(errStr, "no such file") || strings.Contains(errStr, "Port not found") {
		return "Device not found - the adapter may be unplugged"
	}
	if strings.Contains(errStr, "busy") {
		return "Device busy - another program holds the adapter"
	}
	if strings.Contains(errStr, "protocol not supported") || strings.Contains(errStr, "address family not supported") {
		return "SocketCAN is not available on this system"
	}

	return "Bus driver error"
}

func driverHint(driver string) string {
	switch driver {
	case "socketcan":
		return "Bring the interface up with CAN-FD enabled: ip link set can0 up type can bitrate 1000000 dbitrate 5000000 fd on"
	case "slcan":
		return "Check the serial port path and baud rate of the USB-CAN adapter"
	case "replay":
		return "Check that the capture file exists and was written with LINKTYPE_CAN_SOCKETCAN"
	default:
		return "Check the bus section of your configuration"
	}
}

func extractRequestReason(err error) string {
	var (
		integrity *canif.IntegrityError
		transmit  *canif.TransmitError
		decode    *canif.DecodeError
	)
	switch {
	case stderrors.Is(err, canif.ErrTimeout):
		return "No accepted result arrived before the deadline"
	case stderrors.As(err, &transmit):
		if transmit.Partial() {
			return fmt.Sprintf("Transmit failed after %d of %d frames; the node saw an incomplete transfer", transmit.Sent, transmit.Total)
		}
		return "The driver rejected the request before any frame was sent"
	case stderrors.As(err, &decode):
		return "Received frames that could not be decoded"
	case stderrors.As(err, &integrity):
		return "A multi-frame reply failed its checksum"
	}

	if strings.Contains(err.Error(), "timeout") {
		return "Device did not respond within timeout period"
	}
	return "Bus request failed"
}

func requestHint(err error) string {
	switch canif.KindOf(err) {
	case canif.KindTimeout:
		return "The servo may be powered off, on another channel, or rejecting the value"
	case canif.KindTransmit:
		return "The bus may be off or unterminated; check wiring and bitrate"
	case canif.KindIntegrity, canif.KindDecode:
		return "Bus noise or a mismatched CAN-FD data bitrate can corrupt long transfers"
	default:
		return "Run with --log-level debug to see the frames on the bus"
	}
}
