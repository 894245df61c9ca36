package canif

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomock "go.uber.org/mock/gomock"

	"github.com/tturner/servobus/internal/canbus"
	"github.com/tturner/servobus/internal/cyphal"
)

func TestSession_NextTransferIDWraps(t *testing.T) {
	s := &Session{}
	s.setTransferID(5)
	for i := 0; i < 40; i++ {
		s.NextTransferID()
	}
	assert.Equal(t, uint8(13), s.TransferID())
}

func TestSession_NextReturnsCurrent(t *testing.T) {
	s := &Session{}
	s.setTransferID(31)
	assert.Equal(t, uint8(31), s.NextTransferID())
	assert.Equal(t, uint8(0), s.NextTransferID())
	assert.Equal(t, uint8(1), s.TransferID())
}

func TestSession_Seed(t *testing.T) {
	tests := []struct {
		ms   int64
		want uint8
	}{
		{0, 0},
		{31, 31},
		{32, 0},
		{1234567, 7},
	}
	for _, tt := range tests {
		s := NewSession(time.UnixMilli(tt.ms))
		if s.TransferID() != tt.want {
			t.Errorf("seed(%d) = %d, want %d", tt.ms, s.TransferID(), tt.want)
		}
	}
}

func TestSend_MessageFragmentsInOrder(t *testing.T) {
	loop := canbus.NewLoopback()
	ifc := newTestInterface(t, loop)
	ifc.Session().setTransferID(30)

	require.NoError(t, ifc.SendMessage(testPort, pattern(150)))
	require.NoError(t, ifc.SendMessage(testPort, []byte{1}))

	sent := loop.Sent()
	require.Len(t, sent, 4)
	for n, f := range sent[:3] {
		tail := f.Data[len(f.Data)-1]
		assert.Equal(t, uint8(30), tail&cyphal.TailTransferIDMask, "frame %d", n)
		assert.Equal(t, n == 0, tail&cyphal.TailStartOfTransfer != 0, "frame %d", n)
		assert.Equal(t, n == 2, tail&cyphal.TailEndOfTransfer != 0, "frame %d", n)
	}
	assert.Equal(t, uint8(31), sent[3].Data[len(sent[3].Data)-1]&cyphal.TailTransferIDMask)
	assert.Equal(t, uint8(0), ifc.Session().TransferID())

	props, ok := cyphal.ParseID(sent[0].ID)
	require.True(t, ok)
	assert.Equal(t, cyphal.KindMessage, props.Kind)
	assert.Equal(t, localNode, props.Source)
}

func TestSend_ServiceAddressing(t *testing.T) {
	loop := canbus.NewLoopback()
	ifc := newTestInterface(t, loop)

	require.NoError(t, ifc.SendRequest(0x81, servoNode, []byte{1, 2}))
	require.NoError(t, ifc.SendResponse(0x80, servoNode, []byte{3}))

	sent := loop.Sent()
	require.Len(t, sent, 2)

	req, ok := cyphal.ParseID(sent[0].ID)
	require.True(t, ok)
	assert.Equal(t, cyphal.KindRequest, req.Kind)
	assert.Equal(t, uint16(0x81), req.PortID)
	assert.Equal(t, servoNode, req.Destination)

	resp, ok := cyphal.ParseID(sent[1].ID)
	require.True(t, ok)
	assert.Equal(t, cyphal.KindResponse, resp.Kind)
	assert.Equal(t, uint16(0x80), resp.PortID)
}

func TestSend_PartialTransmitFailure(t *testing.T) {
	loop := canbus.NewLoopback()
	ifc := newTestInterface(t, loop)
	loop.FailTransmitAt(2)

	err := ifc.SendMessage(testPort, pattern(150))
	require.Error(t, err)

	var te *TransmitError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 1, te.Sent)
	assert.Equal(t, 3, te.Total)
	assert.True(t, te.Partial())
	assert.Equal(t, KindTransmit, KindOf(err))
	assert.Len(t, loop.Sent(), 1)
}

func TestSend_FirstFrameRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	driver := NewMockDriver(ctrl)
	ifc := newTestInterface(t, driver)
	ifc.Session().setTransferID(7)

	busOff := errors.New("bus off")
	driver.EXPECT().Transmit(gomock.Any(), gomock.Any()).Return(busOff).Times(1)

	err := ifc.SendRequest(0x81, servoNode, []byte{0x01})
	var te *TransmitError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 0, te.Sent)
	assert.False(t, te.Partial())
	assert.ErrorIs(t, err, busOff)
	// The id was spent on the bus attempt.
	assert.Equal(t, uint8(8), ifc.Session().TransferID())
}

func TestSend_EncodeErrorKeepsTransferID(t *testing.T) {
	ctrl := gomock.NewController(t)
	driver := NewMockDriver(ctrl)
	ifc := newTestInterface(t, driver)
	ifc.Session().setTransferID(3)

	err := ifc.SendMessage(cyphal.SubjectIDMax+1, []byte{1})
	require.Error(t, err)
	assert.Equal(t, KindOther, KindOf(err))
	assert.Equal(t, uint8(3), ifc.Session().TransferID())
}
