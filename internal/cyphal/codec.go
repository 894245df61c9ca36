// Package cyphal implements the Cyphal/CAN transport framing used on the
// servo bus: identifier layout, tail bytes, multi-frame fragmentation with
// CRC, and per-frame decoding. Reassembly lives in the canif package.
package cyphal

import (
	"fmt"

	"github.com/tturner/servobus/internal/canbus"
)

// Codec encodes outbound transfers into frames and decodes received frames
// for one local node.
type Codec struct {
	nodeID   uint8
	mtu      int
	priority uint8
}

// NewCodec creates a codec for the given local node id and CAN-FD MTU.
func NewCodec(nodeID uint8, mtu int) (*Codec, error) {
	if nodeID > NodeIDMax {
		return nil, fmt.Errorf("node id %d out of range (max %d)", nodeID, NodeIDMax)
	}
	if mtu < 8 || mtu > canbus.CANFDMaxData || !canbus.ValidLength(mtu) {
		return nil, fmt.Errorf("invalid CAN-FD MTU %d", mtu)
	}
	return &Codec{nodeID: nodeID, mtu: mtu, priority: PriorityNominal}, nil
}

// SetPriority changes the priority of outbound transfers.
func (c *Codec) SetPriority(p uint8) error {
	if p > PriorityMax {
		return fmt.Errorf("priority %d out of range", p)
	}
	c.priority = p
	return nil
}

// NodeID returns the local node id.
func (c *Codec) NodeID() uint8 { return c.nodeID }

// MTU returns the frame payload limit including the tail byte.
func (c *Codec) MTU() int { return c.mtu }

// EncodeMessage fragments a message on a subject.
func (c *Codec) EncodeMessage(subject uint16, transferID uint8, payload []byte) ([]TxPacket, error) {
	id, err := MessageID(c.priority, subject, c.nodeID)
	if err != nil {
		return nil, err
	}
	return c.fragment(id, transferID, payload), nil
}

// EncodeResponse fragments a service response addressed to channel.
func (c *Codec) EncodeResponse(channel uint8, service uint16, transferID uint8, payload []byte) ([]TxPacket, error) {
	id, err := ServiceID(c.priority, false, service, channel, c.nodeID)
	if err != nil {
		return nil, err
	}
	return c.fragment(id, transferID, payload), nil
}

// EncodeRequest fragments a service request addressed to channel.
func (c *Codec) EncodeRequest(channel uint8, service uint16, transferID uint8, payload []byte) ([]TxPacket, error) {
	id, err := ServiceID(c.priority, true, service, channel, c.nodeID)
	if err != nil {
		return nil, err
	}
	return c.fragment(id, transferID, payload), nil
}

// fragment splits payload into frames. Padding is only ever added to the
// last frame, before the CRC, and the CRC covers it.
func (c *Codec) fragment(id uint32, transferID uint8, payload []byte) []TxPacket {
	transferID &= TailTransferIDMask
	perFrame := c.mtu - 1

	if len(payload) <= perFrame {
		size := canbus.RoundUpLength(len(payload) + 1)
		data := make([]byte, size)
		copy(data, payload)
		data[size-1] = Tail(true, true, true, transferID)
		return []TxPacket{{ID: id, Payload: data}}
	}

	var (
		packets  []TxPacket
		total    = len(payload) + CRCSize
		offset   = 0
		crc      = CRC16(payload)
		toggle   = true
		startSOT = true
	)
	for offset < total {
		var size int
		if total-offset < perFrame {
			size = canbus.RoundUpLength(total-offset+1) - 1
		} else {
			size = perFrame
		}
		data := make([]byte, 0, size+1)

		if offset < len(payload) {
			n := min(len(payload)-offset, size)
			data = append(data, payload[offset:offset+n]...)
			offset += n
		}
		if offset >= len(payload) {
			for len(data)+CRCSize < size {
				data = append(data, 0)
				crc = CRC16Add(crc, []byte{0})
			}
			if len(data) < size && offset == len(payload) {
				data = append(data, byte(crc>>8))
				offset++
			}
			if len(data) < size && offset > len(payload) {
				data = append(data, byte(crc))
				offset++
			}
		}

		end := offset >= total
		data = append(data, Tail(startSOT, end, toggle, transferID))
		packets = append(packets, TxPacket{ID: id, Payload: data})
		startSOT = false
		toggle = !toggle
	}
	return packets
}

// Decode classifies every frame of a received batch. Frames from another
// protocol revision, and service frames addressed to other nodes, are
// skipped. A frame that cannot be decoded fails the whole batch.
func (c *Codec) Decode(batch canbus.Batch) ([]RxPacket, error) {
	packets := make([]RxPacket, 0, len(batch))
	for i, f := range batch {
		if len(f.Data) == 0 {
			return nil, fmt.Errorf("frame %d (id 0x%08X): missing tail byte", i, f.ID)
		}
		if !canbus.ValidLength(len(f.Data)) {
			return nil, fmt.Errorf("frame %d (id 0x%08X): invalid CAN-FD length %d", i, f.ID, len(f.Data))
		}
		props, ok := ParseID(f.ID)
		if !ok {
			continue
		}
		if props.Kind != KindMessage && props.Destination != c.nodeID {
			continue
		}
		tail := f.Data[len(f.Data)-1]
		props.TransferID = tail & TailTransferIDMask
		props.Toggle = tail&TailToggle != 0
		role := RoleFromTail(tail)
		// Cyphal/CAN v0 starts with toggle cleared.
		if (role == RoleStart || role == RoleSingle) && !props.Toggle {
			continue
		}
		packets = append(packets, RxPacket{
			ID:      f.ID,
			Payload: append([]byte(nil), f.Data[:len(f.Data)-1]...),
			Props:   props,
			Role:    role,
		})
	}
	return packets, nil
}
