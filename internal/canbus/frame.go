package canbus

// Raw CAN-FD frames as they cross the driver boundary.
//
// Wire layout follows Linux "struct canfd_frame" (72 bytes):
//
//	0..3   can_id (29-bit identifier | CAN_EFF_FLAG)
//	4      len (0..64, a valid CAN-FD length)
//	5      flags (CANFD_BRS, CANFD_ESI, CANFD_FDF)
//	6..7   reserved
//	8..71  data

import (
	"encoding/binary"
	"fmt"
)

// Identifier and layout constants.
const (
	MaxExtendedID = 0x1FFFFFFF
	EFFFlag       = 0x80000000

	CANFDFrameSize = 72
	CANFDMaxData   = 64

	FlagBRS = 0x01 // bit rate switch
	FlagESI = 0x02 // error state indicator
	FlagFDF = 0x04 // FD frame
)

// Frame is one CAN-FD data frame with an extended identifier.
type Frame struct {
	ID    uint32 // 29-bit extended identifier
	Flags uint8  // CANFD_* flags
	Data  []byte // 0..64 bytes, len must be a valid CAN-FD length
}

// Batch is the set of frames returned by one driver receive.
type Batch []Frame

// Validate checks identifier range and payload length.
func (f Frame) Validate() error {
	if f.ID > MaxExtendedID {
		return fmt.Errorf("canbus: identifier 0x%08X exceeds 29 bits", f.ID)
	}
	if !ValidLength(len(f.Data)) {
		return fmt.Errorf("canbus: invalid CAN-FD data length %d", len(f.Data))
	}
	return nil
}

// MarshalBinary encodes the frame in canfd_frame layout with a little-endian
// can_id, as used by SocketCAN raw sockets.
func (f Frame) MarshalBinary() ([]byte, error) {
	return f.marshal(binary.LittleEndian)
}

// MarshalNetworkOrder encodes the frame with a big-endian can_id, as stored in
// LINKTYPE_CAN_SOCKETCAN capture files. Trailing unused data bytes are omitted.
func (f Frame) MarshalNetworkOrder() ([]byte, error) {
	buf, err := f.marshal(binary.BigEndian)
	if err != nil {
		return nil, err
	}
	return buf[:8+len(f.Data)], nil
}

func (f Frame) marshal(order binary.ByteOrder) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, CANFDFrameSize)
	order.PutUint32(buf[0:4], f.ID|EFFFlag)
	buf[4] = uint8(len(f.Data))
	buf[5] = f.Flags
	copy(buf[8:], f.Data)
	return buf, nil
}

// UnmarshalBinary decodes a little-endian canfd_frame.
func (f *Frame) UnmarshalBinary(data []byte) error {
	return f.unmarshal(data, binary.LittleEndian)
}

// UnmarshalNetworkOrder decodes a big-endian (capture file) canfd_frame.
func (f *Frame) UnmarshalNetworkOrder(data []byte) error {
	return f.unmarshal(data, binary.BigEndian)
}

func (f *Frame) unmarshal(data []byte, order binary.ByteOrder) error {
	if len(data) < 8 {
		return fmt.Errorf("canbus: frame too short: %d bytes (minimum 8)", len(data))
	}
	rawID := order.Uint32(data[0:4])
	if rawID&EFFFlag == 0 {
		return fmt.Errorf("canbus: standard identifier 0x%03X not supported", rawID&0x7FF)
	}
	n := int(data[4])
	if n > CANFDMaxData || 8+n > len(data) {
		return fmt.Errorf("canbus: data length %d exceeds frame of %d bytes", n, len(data))
	}
	f.ID = rawID & MaxExtendedID
	f.Flags = data[5]
	f.Data = append([]byte(nil), data[8:8+n]...)
	return f.Validate()
}

// String renders the frame in candump style.
func (f Frame) String() string {
	return fmt.Sprintf("%08X##%X%X", f.ID, f.Flags&0x0F, f.Data)
}
