package cyphal

// 29-bit extended identifier layout.
//
// Message:  [28:26] priority, [25]=0, [24] anonymous, [23]=0, [22:21]=11,
//           [20:8] subject id, [7]=0, [6:0] source node id
// Service:  [28:26] priority, [25]=1, [24] request, [23]=0,
//           [22:14] service id, [13:7] destination node id, [6:0] source node id

import "fmt"

const (
	flagServiceNotMessage  = 1 << 25
	flagAnonymousMessage   = 1 << 24
	flagRequestNotResponse = 1 << 24
	flagReserved23         = 1 << 23
	flagReserved07         = 1 << 7
	messageReservedBits    = 3 << 21

	offsetPriority  = 26
	offsetSubjectID = 8
	offsetServiceID = 14
	offsetDstNodeID = 7

	nodeIDMask = 0x7F
)

// MessageID builds the identifier of a message transfer.
func MessageID(priority uint8, subject uint16, source uint8) (uint32, error) {
	if priority > PriorityMax {
		return 0, fmt.Errorf("priority %d out of range", priority)
	}
	if subject > SubjectIDMax {
		return 0, fmt.Errorf("subject id %d out of range (max %d)", subject, SubjectIDMax)
	}
	if source > NodeIDMax {
		return 0, fmt.Errorf("source node id %d out of range", source)
	}
	return uint32(priority)<<offsetPriority |
		messageReservedBits |
		uint32(subject)<<offsetSubjectID |
		uint32(source), nil
}

// ServiceID builds the identifier of a request or response transfer.
func ServiceID(priority uint8, request bool, service uint16, destination, source uint8) (uint32, error) {
	if priority > PriorityMax {
		return 0, fmt.Errorf("priority %d out of range", priority)
	}
	if service > ServiceIDMax {
		return 0, fmt.Errorf("service id %d out of range (max %d)", service, ServiceIDMax)
	}
	if destination > NodeIDMax {
		return 0, fmt.Errorf("destination node id %d out of range", destination)
	}
	if source > NodeIDMax {
		return 0, fmt.Errorf("source node id %d out of range", source)
	}
	id := uint32(priority)<<offsetPriority |
		flagServiceNotMessage |
		uint32(service)<<offsetServiceID |
		uint32(destination)<<offsetDstNodeID |
		uint32(source)
	if request {
		id |= flagRequestNotResponse
	}
	return id, nil
}

// ParseID extracts routing properties from an identifier. ok is false for
// identifiers with reserved bits in an invalid state; such frames belong to
// another protocol revision and are ignored.
func ParseID(id uint32) (p Props, ok bool) {
	if id&flagReserved23 != 0 {
		return Props{}, false
	}
	p.Priority = uint8(id>>offsetPriority) & PriorityMax
	p.Source = uint8(id) & nodeIDMask
	if id&flagServiceNotMessage == 0 {
		if id&flagReserved07 != 0 {
			return Props{}, false
		}
		p.Kind = KindMessage
		p.PortID = uint16(id>>offsetSubjectID) & SubjectIDMax
		p.Destination = NodeIDUnset
		return p, true
	}
	if id&flagRequestNotResponse != 0 {
		p.Kind = KindRequest
	} else {
		p.Kind = KindResponse
	}
	p.PortID = uint16(id>>offsetServiceID) & ServiceIDMax
	p.Destination = uint8(id>>offsetDstNodeID) & nodeIDMask
	return p, true
}
