package canif

import (
	"fmt"

	"github.com/tturner/servobus/internal/cyphal"
	"github.com/tturner/servobus/internal/logging"
)

// SendMessage publishes payload on a subject.
func (i *Interface) SendMessage(subject uint16, payload []byte) error {
	return i.send(func(tid uint8) ([]cyphal.TxPacket, error) {
		return i.codec.EncodeMessage(subject, tid, payload)
	})
}

// SendResponse sends a service response to channel.
func (i *Interface) SendResponse(service uint16, channel uint8, payload []byte) error {
	return i.send(func(tid uint8) ([]cyphal.TxPacket, error) {
		return i.codec.EncodeResponse(channel, service, tid, payload)
	})
}

// SendRequest sends a service request to channel.
func (i *Interface) SendRequest(service uint16, channel uint8, payload []byte) error {
	return i.send(func(tid uint8) ([]cyphal.TxPacket, error) {
		return i.codec.EncodeRequest(channel, service, tid, payload)
	})
}

// send encodes with the current transfer id and transmits every frame in
// order. The id is consumed once encoding succeeds, whether or not the
// frames make it onto the bus. The first driver failure stops the transfer
// with *TransmitError; frames already sent stay sent.
func (i *Interface) send(encode func(tid uint8) ([]cyphal.TxPacket, error)) error {
	tid := i.session.TransferID()
	packets, err := encode(tid)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	i.session.NextTransferID()

	debug := i.logger.GetLevel() >= logging.LogLevelDebug
	for n, p := range packets {
		if debug {
			i.logger.LogHex(fmt.Sprintf("tx 0x%08X", p.ID), p.Payload)
		}
		if err := i.driver.Transmit(p.ID, p.Payload); err != nil {
			i.logger.Error("transfer id %d aborted after %d of %d frames: %v", tid, n, len(packets), err)
			return &TransmitError{Sent: n, Total: len(packets), Err: err}
		}
	}
	return nil
}
