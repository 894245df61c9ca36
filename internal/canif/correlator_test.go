package canif

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomock "go.uber.org/mock/gomock"

	"github.com/tturner/servobus/internal/canbus"
	"github.com/tturner/servobus/internal/cyphal"
)

const acceptedCode = 0x00

func setValueRequest() Request {
	return Request{Service: 0x81, Channel: servoNode, Payload: []byte{0x06, 'c', 'm', 'd', 'v', 'a', 'l'}}
}

func statusExpectation() Expectation {
	return Expectation{ResultPort: statusPort, Source: servoNode, Accept: AcceptCode(acceptedCode)}
}

func resultPortEntries(ifc *Interface) int {
	n := 0
	for _, f := range ifc.Complete() {
		if f.PortID() == statusPort {
			n++
		}
	}
	return n
}

func TestRequestWithTimeout_Success(t *testing.T) {
	loop := canbus.NewLoopback()
	ifc := newTestInterface(t, loop)

	// A stale rejection queued before the request must not satisfy it.
	loop.Inject(peerFrames(t, servoNode, statusPort, 1, []byte{0x05})...)

	accepted := peerFrames(t, servoNode, statusPort, 2, []byte{acceptedCode})
	go func() {
		time.Sleep(10 * time.Millisecond)
		loop.Inject(accepted...)
	}()

	start := time.Now()
	f, err := ifc.RequestWithTimeout(context.Background(), setValueRequest(), statusExpectation(), 100*time.Millisecond)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Less(t, elapsed, 90*time.Millisecond)
	assert.Equal(t, byte(acceptedCode), f.Payload[0])
	assert.Equal(t, servoNode, f.Props.Source)
	assert.Zero(t, resultPortEntries(ifc))

	sent := loop.Sent()
	require.Len(t, sent, 1)
	props, ok := cyphal.ParseID(sent[0].ID)
	require.True(t, ok)
	assert.Equal(t, cyphal.KindRequest, props.Kind)
}

func TestRequestWithTimeout_Timeout(t *testing.T) {
	loop := canbus.NewLoopback()
	ifc := newTestInterface(t, loop)

	// Results from another node and with the wrong code are consumed but
	// never match.
	loop.Inject(peerFrames(t, 9, statusPort, 1, []byte{acceptedCode})...)
	loop.Inject(peerFrames(t, servoNode, statusPort, 2, []byte{0x01})...)
	// Unrelated traffic stays queued.
	loop.Inject(peerFrames(t, servoNode, testPort, 3, []byte{0x42})...)

	start := time.Now()
	_, err := ifc.RequestWithTimeout(context.Background(), setValueRequest(), statusExpectation(), 100*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, statusPort, te.Port)
	assert.Equal(t, servoNode, te.Channel)
	assert.Equal(t, KindTimeout, KindOf(err))

	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.Zero(t, resultPortEntries(ifc))
	assert.Equal(t, 1, ifc.CompleteLen())
}

func TestRequestWithTimeout_LateResultIsSwept(t *testing.T) {
	loop := canbus.NewLoopback()
	ifc := newTestInterface(t, loop)

	_, err := ifc.RequestWithTimeout(context.Background(), setValueRequest(), statusExpectation(), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	// A result arriving after the deadline is not kept for the next call.
	loop.Inject(peerFrames(t, servoNode, statusPort, 2, []byte{0x01})...)
	_, err = ifc.RequestWithTimeout(context.Background(), setValueRequest(), statusExpectation(), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Zero(t, resultPortEntries(ifc))
}

func TestRequestWithTimeout_IgnoresCorruptTraffic(t *testing.T) {
	loop := canbus.NewLoopback()
	ifc := newTestInterface(t, loop)

	bad := peerFrames(t, 9, testPort, 1, pattern(100))
	bad[0].Data[0] ^= 0xFF
	loop.Inject(bad...)
	loop.Inject(peerFrames(t, servoNode, statusPort, 2, []byte{acceptedCode})...)

	_, err := ifc.RequestWithTimeout(context.Background(), setValueRequest(), statusExpectation(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ifc.Stats().IntegrityFailures)
}

func TestRequestWithTimeout_ContextCancel(t *testing.T) {
	loop := canbus.NewLoopback()
	ifc := newTestInterface(t, loop)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := ifc.RequestWithTimeout(ctx, setValueRequest(), statusExpectation(), time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestRequestWithTimeout_SendFailure(t *testing.T) {
	loop := canbus.NewLoopback()
	ifc := newTestInterface(t, loop)
	loop.FailTransmitAt(1)

	_, err := ifc.RequestWithTimeout(context.Background(), setValueRequest(), statusExpectation(), 50*time.Millisecond)
	assert.Equal(t, KindTransmit, KindOf(err))
}

func TestRequestWithTimeout_ReceiveFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	driver := NewMockDriver(ctrl)
	ifc := newTestInterface(t, driver)

	unplugged := errors.New("adapter unplugged")
	gomock.InOrder(
		driver.EXPECT().Transmit(gomock.Any(), gomock.Any()).Return(nil),
		driver.EXPECT().Receive().Return(nil, nil),
		driver.EXPECT().Receive().Return(nil, unplugged),
	)

	_, err := ifc.RequestWithTimeout(context.Background(), setValueRequest(), statusExpectation(), time.Second)
	require.ErrorIs(t, err, unplugged)
	assert.Equal(t, KindOther, KindOf(err))
}

func TestRequestWithTimeout_AnySource(t *testing.T) {
	loop := canbus.NewLoopback()
	ifc := newTestInterface(t, loop)
	loop.Inject(peerFrames(t, 42, statusPort, 0, []byte{acceptedCode})...)

	exp := Expectation{ResultPort: statusPort, Source: cyphal.NodeIDUnset}
	f, err := ifc.RequestWithTimeout(context.Background(), setValueRequest(), exp, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint8(42), f.Props.Source)
}
