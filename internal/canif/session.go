package canif

import (
	"time"

	"github.com/tturner/servobus/internal/cyphal"
)

// Session holds the rolling transfer id stamped on outbound transfers.
//
// The id is seeded from the wall clock so a restarted node is unlikely to
// resume the counter a peer still remembers; peers then treat the first
// transfer as a new session instead of a duplicate.
type Session struct {
	transferID uint8
}

// NewSession returns a session seeded from t.
func NewSession(t time.Time) *Session {
	s := &Session{}
	s.Seed(t)
	return s
}

// Seed sets the transfer id to the milliseconds of t modulo 32.
func (s *Session) Seed(t time.Time) {
	s.transferID = uint8(uint64(t.UnixMilli()) % cyphal.TransferIDModulo)
}

// setTransferID forces the next transfer id.
func (s *Session) setTransferID(id uint8) {
	s.transferID = id % cyphal.TransferIDModulo
}

// TransferID returns the id the next transfer will use.
func (s *Session) TransferID() uint8 { return s.transferID }

// NextTransferID returns the current id and advances the counter.
func (s *Session) NextTransferID() uint8 {
	id := s.transferID
	s.transferID = (s.transferID + 1) % cyphal.TransferIDModulo
	return id
}
