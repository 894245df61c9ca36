package canif

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is matched by every *TimeoutError.
var ErrTimeout = errors.New("request timed out")

// ErrorKind classifies errors returned by the interface.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindIntegrity
	KindTransmit
	KindDecode
	KindTimeout
	KindOther
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindIntegrity:
		return "integrity"
	case KindTransmit:
		return "transmit"
	case KindDecode:
		return "decode"
	case KindTimeout:
		return "timeout"
	default:
		return "other"
	}
}

// IntegrityError reports a multi-frame transfer whose trailing checksum did
// not match the reassembled payload. The transfer is discarded.
type IntegrityError struct {
	ID     uint32
	PortID uint16
	Got    [2]byte
	Want   [2]byte
	Length int // accumulated bytes including the checksum
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for id 0x%08X port %d: got %02X%02X, want %02X%02X (%d bytes)",
		e.ID, e.PortID, e.Got[0], e.Got[1], e.Want[0], e.Want[1], e.Length)
}

// TransmitError reports a driver failure part way through a transfer.
// Sent frames were already on the bus; there is no rollback.
type TransmitError struct {
	Sent  int
	Total int
	Err   error
}

func (e *TransmitError) Error() string {
	return fmt.Sprintf("transmit failed after %d of %d frames: %v", e.Sent, e.Total, e.Err)
}

func (e *TransmitError) Unwrap() error { return e.Err }

// Partial reports whether some frames of the transfer reached the bus.
func (e *TransmitError) Partial() bool { return e.Sent > 0 }

// DecodeError reports a received batch the codec could not classify. No
// frame of that batch is kept.
type DecodeError struct {
	Frames int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode batch of %d frames: %v", e.Frames, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// TimeoutError reports a correlated request whose result did not arrive in
// time.
type TimeoutError struct {
	Port    uint16
	Channel uint8
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no result on port %d from channel %d within %s", e.Port, e.Channel, e.After)
}

// Is makes errors.Is(err, ErrTimeout) hold.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// KindOf returns the kind of the first recognised error in err's chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var (
		integrity *IntegrityError
		transmit  *TransmitError
		decode    *DecodeError
	)
	switch {
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.As(err, &transmit):
		return KindTransmit
	case errors.As(err, &decode):
		return KindDecode
	case errors.As(err, &integrity):
		return KindIntegrity
	default:
		return KindOther
	}
}
