package cyphal

import (
	"bytes"
	"testing"

	"github.com/tturner/servobus/internal/canbus"
)

// --- CRC tests ---

func TestCRC16CheckValue(t *testing.T) {
	got := CRC16([]byte("123456789"))
	if got != 0x29B1 {
		t.Errorf("CRC16(123456789) = 0x%04X, want 0x29B1", got)
	}
}

func TestCRC16Empty(t *testing.T) {
	if got := CRC16(nil); got != 0xFFFF {
		t.Errorf("CRC16(nil) = 0x%04X, want 0xFFFF", got)
	}
}

func TestChecksumResidue(t *testing.T) {
	data := []byte{0x10, 0x20, 0x30, 0x40, 0x50}
	sum := Checksum(data)
	frame := append(append([]byte(nil), data...), sum[:]...)
	if !ValidChecksum(frame) {
		t.Error("ValidChecksum returned false for valid data")
	}
	// CRC over data followed by its big-endian CRC is zero.
	if CRC16(frame) != 0 {
		t.Errorf("residue = 0x%04X, want 0", CRC16(frame))
	}
	frame[0] ^= 0x01
	if ValidChecksum(frame) {
		t.Error("ValidChecksum returned true after corruption")
	}
	if ValidChecksum([]byte{0x01}) {
		t.Error("ValidChecksum accepted a 1-byte buffer")
	}
}

// --- identifier tests ---

func TestMessageIDRoundTrip(t *testing.T) {
	id, err := MessageID(PriorityNominal, 0x488, 127)
	if err != nil {
		t.Fatalf("MessageID: %v", err)
	}
	p, ok := ParseID(id)
	if !ok {
		t.Fatalf("ParseID(0x%08X) rejected", id)
	}
	if p.Kind != KindMessage || p.PortID != 0x488 || p.Source != 127 || p.Priority != PriorityNominal {
		t.Errorf("props = %+v", p)
	}
	if p.Destination != NodeIDUnset {
		t.Errorf("Destination = %d, want unset", p.Destination)
	}
}

func TestServiceIDRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		request bool
		kind    TransferKind
	}{
		{"request", true, KindRequest},
		{"response", false, KindResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ServiceID(PriorityHigh, tt.request, 0x81, 5, 127)
			if err != nil {
				t.Fatalf("ServiceID: %v", err)
			}
			p, ok := ParseID(id)
			if !ok {
				t.Fatal("ParseID rejected service id")
			}
			if p.Kind != tt.kind || p.PortID != 0x81 || p.Destination != 5 || p.Source != 127 {
				t.Errorf("props = %+v", p)
			}
		})
	}
}

func TestIDRangeChecks(t *testing.T) {
	if _, err := MessageID(8, 1, 1); err == nil {
		t.Error("expected priority error")
	}
	if _, err := MessageID(0, SubjectIDMax+1, 1); err == nil {
		t.Error("expected subject error")
	}
	if _, err := ServiceID(0, true, ServiceIDMax+1, 1, 1); err == nil {
		t.Error("expected service error")
	}
	if _, err := ServiceID(0, true, 1, 128, 1); err == nil {
		t.Error("expected destination error")
	}
	if _, ok := ParseID(1 << 23); ok {
		t.Error("ParseID accepted reserved bit 23")
	}
}

// --- fragmentation tests ---

func reassemble(t *testing.T, packets []TxPacket) []byte {
	t.Helper()
	var out []byte
	for i, p := range packets {
		tail := p.Payload[len(p.Payload)-1]
		if !canbus.ValidLength(len(p.Payload)) {
			t.Fatalf("frame %d has invalid length %d", i, len(p.Payload))
		}
		wantStart := i == 0
		wantEnd := i == len(packets)-1
		if (tail&TailStartOfTransfer != 0) != wantStart || (tail&TailEndOfTransfer != 0) != wantEnd {
			t.Fatalf("frame %d tail 0x%02X has wrong start/end bits", i, tail)
		}
		if (tail&TailToggle != 0) != (i%2 == 0) {
			t.Fatalf("frame %d toggle bit wrong", i)
		}
		out = append(out, p.Payload[:len(p.Payload)-1]...)
	}
	return out
}

func TestFragmentSingleFrame(t *testing.T) {
	c, err := NewCodec(127, 64)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	packets, err := c.EncodeMessage(0x488, 7, payload)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("packets = %d, want 1", len(packets))
	}
	data := packets[0].Payload
	if len(data) != 12 {
		t.Errorf("frame length = %d, want 12 (10 rounded up)", len(data))
	}
	if data[len(data)-1] != TailStartOfTransfer|TailEndOfTransfer|TailToggle|7 {
		t.Errorf("tail = 0x%02X", data[len(data)-1])
	}
	if !bytes.Equal(data[:len(payload)], payload) {
		t.Errorf("payload = % X", data[:len(payload)])
	}
}

func TestFragmentMultiFrame(t *testing.T) {
	c, err := NewCodec(127, 64)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	// 124, 125 and 126 put the CRC fully in the last frame, split across
	// the last two frames, and alone in the last frame.
	for _, size := range []int{64, 100, 124, 125, 126, 189, 300} {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i * 7)
		}
		packets, err := c.EncodeRequest(9, 0x81, 31, payload)
		if err != nil {
			t.Fatalf("size %d: EncodeRequest: %v", size, err)
		}
		if len(packets) < 2 {
			t.Fatalf("size %d: packets = %d, want >= 2", size, len(packets))
		}
		stream := reassemble(t, packets)
		if !ValidChecksum(stream) {
			t.Errorf("size %d: checksum over reassembled stream invalid", size)
		}
		body := stream[:len(stream)-CRCSize]
		if !bytes.Equal(body[:size], payload) {
			t.Errorf("size %d: payload mismatch", size)
		}
		for _, b := range body[size:] {
			if b != 0 {
				t.Errorf("size %d: non-zero padding", size)
				break
			}
		}
	}
}

func TestNewCodecValidation(t *testing.T) {
	if _, err := NewCodec(128, 64); err == nil {
		t.Error("expected node id error")
	}
	if _, err := NewCodec(1, 9); err == nil {
		t.Error("expected MTU error for 9")
	}
	if _, err := NewCodec(1, 8); err != nil {
		t.Errorf("classic CAN MTU rejected: %v", err)
	}
}

// --- decode tests ---

func TestDecodeRoles(t *testing.T) {
	c, _ := NewCodec(127, 64)
	peer, _ := NewCodec(5, 64)

	payload := make([]byte, 130)
	packets, err := peer.EncodeResponse(127, 0x80, 3, payload)
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	var batch canbus.Batch
	for _, p := range packets {
		batch = append(batch, canbus.Frame{ID: p.ID, Data: p.Payload})
	}
	rx, err := c.Decode(batch)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(rx) != 3 {
		t.Fatalf("decoded %d packets, want 3", len(rx))
	}
	want := []FrameRole{RoleStart, RoleContinuation, RoleEnd}
	for i, p := range rx {
		if p.Role != want[i] {
			t.Errorf("packet %d role = %s, want %s", i, p.Role, want[i])
		}
		if p.Props.Source != 5 || p.Props.Destination != 127 || p.Props.PortID != 0x80 || p.Props.TransferID != 3 {
			t.Errorf("packet %d props = %s", i, p.Props)
		}
	}
}

func TestDecodeSkipsForeignDestination(t *testing.T) {
	c, _ := NewCodec(127, 64)
	peer, _ := NewCodec(5, 64)
	packets, _ := peer.EncodeRequest(42, 0x82, 0, []byte{1})
	rx, err := c.Decode(canbus.Batch{{ID: packets[0].ID, Data: packets[0].Payload}})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(rx) != 0 {
		t.Errorf("decoded %d packets addressed to node 42", len(rx))
	}
}

func TestDecodeErrors(t *testing.T) {
	c, _ := NewCodec(127, 64)
	id, _ := MessageID(PriorityNominal, 10, 5)
	tests := []struct {
		name  string
		frame canbus.Frame
	}{
		{"empty", canbus.Frame{ID: id}},
		{"bad length", canbus.Frame{ID: id, Data: make([]byte, 10)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			good := canbus.Frame{ID: id, Data: []byte{0x01, 0xE0}}
			if _, err := c.Decode(canbus.Batch{good, tt.frame}); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}
