package canif

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tturner/servobus/internal/canbus"
	"github.com/tturner/servobus/internal/cyphal"
)

const (
	localNode  uint8  = 127
	servoNode  uint8  = 5
	testPort   uint16 = 1160
	statusPort uint16 = 0x87
)

// peerFrames encodes a message published by src as raw bus frames.
func peerFrames(t *testing.T, src uint8, subject uint16, tid uint8, payload []byte) canbus.Batch {
	t.Helper()
	peer, err := cyphal.NewCodec(src, cyphal.DefaultMTU)
	require.NoError(t, err)
	tx, err := peer.EncodeMessage(subject, tid, payload)
	require.NoError(t, err)
	batch := make(canbus.Batch, 0, len(tx))
	for _, p := range tx {
		batch = append(batch, canbus.Frame{ID: p.ID, Flags: canbus.FlagFDF, Data: p.Payload})
	}
	return batch
}

// peerPackets is peerFrames decoded by the local node.
func peerPackets(t *testing.T, src uint8, subject uint16, tid uint8, payload []byte) []cyphal.RxPacket {
	t.Helper()
	local, err := cyphal.NewCodec(localNode, cyphal.DefaultMTU)
	require.NoError(t, err)
	rx, err := local.Decode(peerFrames(t, src, subject, tid, payload))
	require.NoError(t, err)
	return rx
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*13 + 1)
	}
	return b
}

func newTestInterface(t *testing.T, driver canbus.Driver, opts ...Option) *Interface {
	t.Helper()
	ifc, err := New(DefaultConfig(), driver, nil, opts...)
	require.NoError(t, err)
	return ifc
}
