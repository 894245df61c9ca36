// Package canbus defines raw CAN-FD frames and the driver boundary used by the
// session layer, plus an in-memory loopback driver.
package canbus

// Driver is a CAN-FD transceiver.
//
// Receive must not block indefinitely: when nothing is pending it returns an
// empty batch and a nil error.
type Driver interface {
	// Transmit queues one frame with a 29-bit identifier.
	Transmit(id uint32, payload []byte) error

	// Receive drains whatever frames are currently pending.
	Receive() (Batch, error)

	// Close releases the underlying device.
	Close() error
}

// Resetter is implemented by drivers that can redo their hardware setup
// (acceptance filters, controller mode) without being reopened.
type Resetter interface {
	Reset() error
}

// Filter is an acceptance filter on the extended identifier:
// a frame passes when id&Mask == ID&Mask.
type Filter struct {
	ID   uint32
	Mask uint32
}

// Match reports whether id passes the filter.
func (f Filter) Match(id uint32) bool {
	return id&f.Mask == f.ID&f.Mask
}

// Accept reports whether id passes any filter. An empty set accepts all.
func Accept(filters []Filter, id uint32) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f.Match(id) {
			return true
		}
	}
	return false
}
