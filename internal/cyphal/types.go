package cyphal

// Cyphal/CAN transport types.
//
// A transfer is carried by one frame (single-frame transfer) or by a chain of
// frames whose last bytes hold a CRC-16 over the reassembled payload.
// Every frame ends with a tail byte:
//
//	bit 7  start of transfer
//	bit 6  end of transfer
//	bit 5  toggle (starts at 1, alternates)
//	bit 4..0 transfer id

import "fmt"

// Protocol limits.
const (
	SubjectIDMax  = 8191
	ServiceIDMax  = 511
	NodeIDMax     = 127
	PriorityMax   = 7
	NodeIDUnset   = 255
	TransferIDMax = 31

	TransferIDModulo = 32
	CRCSize          = 2
	DefaultMTU       = 64
)

// Tail byte bits.
const (
	TailStartOfTransfer = 0x80
	TailEndOfTransfer   = 0x40
	TailToggle          = 0x20
	TailTransferIDMask  = 0x1F
)

// Priority levels, lowest number wins arbitration.
const (
	PriorityExceptional uint8 = iota
	PriorityImmediate
	PriorityFast
	PriorityHigh
	PriorityNominal
	PriorityLow
	PrioritySlow
	PriorityOptional
)

// FrameRole is the position of a frame within its transfer.
type FrameRole uint8

const (
	RoleSingle       FrameRole = iota // whole transfer in one frame
	RoleStart                         // first frame of a multi-frame transfer
	RoleContinuation                  // middle frame
	RoleEnd                           // last frame, payload suffix is the CRC
)

// String returns the role name.
func (r FrameRole) String() string {
	switch r {
	case RoleSingle:
		return "single"
	case RoleStart:
		return "start"
	case RoleContinuation:
		return "continuation"
	case RoleEnd:
		return "end"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// TransferKind distinguishes broadcast messages from service calls.
type TransferKind uint8

const (
	KindMessage  TransferKind = iota // publisher to all subscribers
	KindResponse                     // server to client
	KindRequest                      // client to server
)

// String returns the kind name.
func (k TransferKind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindResponse:
		return "response"
	case KindRequest:
		return "request"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Props are the routing properties decoded from a frame's identifier and
// tail byte.
type Props struct {
	Priority    uint8
	Kind        TransferKind
	PortID      uint16 // subject id for messages, service id for services
	Source      uint8
	Destination uint8 // NodeIDUnset for messages
	TransferID  uint8
	Toggle      bool
}

// String renders the props for logs.
func (p Props) String() string {
	if p.Kind == KindMessage {
		return fmt.Sprintf("%s port=%d src=%d tid=%d", p.Kind, p.PortID, p.Source, p.TransferID)
	}
	return fmt.Sprintf("%s port=%d src=%d dst=%d tid=%d", p.Kind, p.PortID, p.Source, p.Destination, p.TransferID)
}

// RxPacket is one decoded frame: the identifier, the payload with the tail
// byte removed, and its properties and role.
type RxPacket struct {
	ID      uint32
	Payload []byte
	Props   Props
	Role    FrameRole
}

// TxPacket is one outbound frame ready for the driver. Payload includes
// padding, CRC bytes (last frame of a multi-frame transfer) and the tail byte.
type TxPacket struct {
	ID      uint32
	Payload []byte
}

// Tail builds a tail byte.
func Tail(start, end, toggle bool, transferID uint8) byte {
	b := transferID & TailTransferIDMask
	if start {
		b |= TailStartOfTransfer
	}
	if end {
		b |= TailEndOfTransfer
	}
	if toggle {
		b |= TailToggle
	}
	return b
}

// RoleFromTail classifies a frame by its start/end bits.
func RoleFromTail(tail byte) FrameRole {
	start := tail&TailStartOfTransfer != 0
	end := tail&TailEndOfTransfer != 0
	switch {
	case start && end:
		return RoleSingle
	case start:
		return RoleStart
	case end:
		return RoleEnd
	default:
		return RoleContinuation
	}
}
