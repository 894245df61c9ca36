package capture

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tturner/servobus/internal/canbus"
	"github.com/tturner/servobus/internal/cyphal"
)

func singleFrame(t *testing.T, subject uint16, source uint8, tid uint8) canbus.Frame {
	t.Helper()
	id, err := cyphal.MessageID(cyphal.PriorityNominal, subject, source)
	if err != nil {
		t.Fatalf("MessageID: %v", err)
	}
	data := []byte{1, 2, 3, 4, 5, 6, 7, cyphal.Tail(true, true, true, tid)}
	return canbus.Frame{ID: id, Flags: canbus.FlagFDF | canbus.FlagBRS, Data: data}
}

func TestRecordAndRead(t *testing.T) {
	loop := canbus.NewLoopback()
	var buf bytes.Buffer
	rec, err := NewRecorder(loop, &buf)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	step := 0
	rec.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Millisecond)
	}

	out := singleFrame(t, 0x488, 127, 1)
	if err := rec.Transmit(out.ID, out.Data); err != nil {
		t.Fatalf("Transmit: %v", err)
	}
	in := singleFrame(t, 0x87, 5, 2)
	loop.Inject(in)
	batch, err := rec.Receive()
	if err != nil || len(batch) != 1 {
		t.Fatalf("Receive = %v, %v", batch, err)
	}
	if tx, rx := rec.Counts(); tx != 1 || rx != 1 {
		t.Fatalf("Counts = %d/%d, want 1/1", tx, rx)
	}
	if err := rec.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}

	frames, err := ReadFrames(&buf)
	if err != nil {
		t.Fatalf("ReadFrames: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].ID != out.ID || !bytes.Equal(frames[0].Data, out.Data) {
		t.Errorf("frame 0 = %v, want %v", frames[0].Frame, out)
	}
	if frames[1].ID != in.ID || !bytes.Equal(frames[1].Data, in.Data) {
		t.Errorf("frame 1 = %v, want %v", frames[1].Frame, in)
	}
	if !frames[0].Timestamp.Equal(base.Add(time.Millisecond)) {
		t.Errorf("timestamp = %v", frames[0].Timestamp)
	}
}

func TestRecorderSkipsFailedTransmit(t *testing.T) {
	loop := canbus.NewLoopback()
	loop.FailTransmitAt(1)
	var buf bytes.Buffer
	rec, err := NewRecorder(loop, &buf)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	f := singleFrame(t, 0x488, 127, 0)
	if err := rec.Transmit(f.ID, f.Data); err == nil {
		t.Fatal("expected transmit error")
	}
	if tx, _ := rec.Counts(); tx != 0 {
		t.Errorf("failed transmit was recorded")
	}
}

func TestStartCaptureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.pcap")
	loop := canbus.NewLoopback()
	rec, err := StartCapture(loop, path)
	if err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	f := singleFrame(t, 0x488, 127, 3)
	if err := rec.Transmit(f.ID, f.Data); err != nil {
		t.Fatalf("Transmit: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	replay, err := OpenReplay(path)
	if err != nil {
		t.Fatalf("OpenReplay: %v", err)
	}
	batch, err := replay.Receive()
	if err != nil || len(batch) != 1 || batch[0].ID != f.ID {
		t.Fatalf("Receive = %v, %v", batch, err)
	}
	if !replay.Done() {
		t.Error("replay should be done")
	}
}

func TestReadFramesRejectsLinkType(t *testing.T) {
	var buf bytes.Buffer
	// Ethernet header, no packets.
	buf.Write([]byte{
		0xd4, 0xc3, 0xb2, 0xa1, 0x02, 0x00, 0x04, 0x00,
		0, 0, 0, 0, 0, 0, 0, 0,
		0xff, 0xff, 0, 0, 0x01, 0, 0, 0,
	})
	_, err := ReadFrames(&buf)
	if err == nil || !strings.Contains(err.Error(), "unsupported link type") {
		t.Fatalf("err = %v", err)
	}
}

func TestReplayBatchingAndReset(t *testing.T) {
	var frames []TimedFrame
	for i := 0; i < 5; i++ {
		frames = append(frames, TimedFrame{Frame: singleFrame(t, 0x488, 5, uint8(i))})
	}
	r := NewReplay(frames, WithBatchSize(2))

	var got int
	for i := 0; i < 3; i++ {
		batch, err := r.Receive()
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		got += len(batch)
	}
	if got != 5 {
		t.Fatalf("received %d frames, want 5", got)
	}
	if batch, _ := r.Receive(); len(batch) != 0 {
		t.Fatalf("expected empty batch after end, got %d", len(batch))
	}

	if err := r.Transmit(0x10, make([]byte, 8)); err != nil {
		t.Fatalf("Transmit: %v", err)
	}
	if r.Dropped() != 1 {
		t.Errorf("Dropped = %d", r.Dropped())
	}

	if err := r.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if batch, _ := r.Receive(); len(batch) != 2 {
		t.Fatalf("after reset got %d frames, want 2", len(batch))
	}
}

func TestReplayPacing(t *testing.T) {
	base := time.Unix(1000, 0)
	frames := []TimedFrame{
		{Frame: singleFrame(t, 0x488, 5, 0), Timestamp: base},
		{Frame: singleFrame(t, 0x488, 5, 1), Timestamp: base.Add(10 * time.Millisecond)},
	}
	clock := time.Unix(5000, 0)
	r := NewReplay(frames, WithPacing(func() time.Time { return clock }))

	if batch, _ := r.Receive(); len(batch) != 1 {
		t.Fatalf("first receive got %d frames, want 1", len(batch))
	}
	clock = clock.Add(5 * time.Millisecond)
	if batch, _ := r.Receive(); len(batch) != 0 {
		t.Fatalf("frame released early")
	}
	clock = clock.Add(5 * time.Millisecond)
	if batch, _ := r.Receive(); len(batch) != 1 {
		t.Fatalf("second frame not released")
	}
}

func TestReplayFilters(t *testing.T) {
	keep := singleFrame(t, 0x87, 5, 0)
	drop := singleFrame(t, 0x488, 5, 1)
	r := NewReplay([]TimedFrame{{Frame: keep}, {Frame: drop}},
		WithFilters([]canbus.Filter{{ID: keep.ID, Mask: canbus.MaxExtendedID}}))
	batch, _ := r.Receive()
	if len(batch) != 1 || batch[0].ID != keep.ID {
		t.Fatalf("batch = %v", batch)
	}
}

func TestSummarize(t *testing.T) {
	base := time.Unix(0, 0)
	frames := []TimedFrame{
		{Frame: singleFrame(t, 0x488, 127, 0), Timestamp: base},
		{Frame: singleFrame(t, 0x87, 5, 0), Timestamp: base.Add(time.Second)},
		{Frame: canbus.Frame{ID: 0x00800000, Data: make([]byte, 8)}, Timestamp: base.Add(2 * time.Second)},
	}
	s := Summarize(frames)
	if s.TotalFrames != 3 || s.CyphalFrames != 2 || s.Foreign != 1 {
		t.Fatalf("counts = %+v", s)
	}
	if s.Messages != 2 || s.SingleFrame != 2 {
		t.Errorf("messages=%d single=%d", s.Messages, s.SingleFrame)
	}
	if s.Sources[5] != 1 || s.Sources[127] != 1 {
		t.Errorf("sources = %v", s.Sources)
	}
	out := s.Format()
	for _, want := range []string{"Frames: 3", "message/1160", "node 5", "Duration: 2s"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestHexDump(t *testing.T) {
	data := []byte{0x00, 0x01, 0x02, 0x03, 0x41, 0x42}
	dump := HexDump(data, 16)
	if !strings.Contains(dump, "0000:") || !strings.Contains(dump, "00 01 02 03") {
		t.Errorf("dump = %q", dump)
	}
	if !strings.Contains(dump, "|....AB|") {
		t.Errorf("ascii column missing: %q", dump)
	}
}

func TestFormatFrame(t *testing.T) {
	out := FormatFrame(singleFrame(t, 0x488, 127, 3))
	for _, want := range []string{"port=1160", "src=127", "tail: 0xe3 single", "tid=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatFrame missing %q:\n%s", want, out)
		}
	}
}
