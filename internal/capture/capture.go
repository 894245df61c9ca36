// Package capture records bus traffic to pcap files and replays it as a
// driver. Files use LINKTYPE_CAN_SOCKETCAN, so Wireshark decodes them.
package capture

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/tturner/servobus/internal/canbus"
)

// LinkTypeCANSocketCAN is LINKTYPE_CAN_SOCKETCAN. gopacket has no name for it.
const LinkTypeCANSocketCAN layers.LinkType = 227

const snapLen = canbus.CANFDFrameSize

// Direction tags a recorded frame.
type Direction uint8

const (
	DirRx Direction = iota
	DirTx
)

// Recorder is a canbus.Driver that writes every frame it carries to a pcap
// stream before handing it on.
type Recorder struct {
	driver canbus.Driver

	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer
	now    func() time.Time
	tx     int
	rx     int
	err    error
	once   sync.Once
}

// NewRecorder wraps driver, writing frames to w. If w is an io.Closer it is
// closed with the recorder.
func NewRecorder(driver canbus.Driver, w io.Writer) (*Recorder, error) {
	pw := pcapgo.NewWriterNanos(w)
	if err := pw.WriteFileHeader(snapLen, LinkTypeCANSocketCAN); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	r := &Recorder{driver: driver, w: pw, now: time.Now}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r, nil
}

// StartCapture creates path and records driver traffic into it.
func StartCapture(driver canbus.Driver, path string) (*Recorder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create pcap file: %w", err)
	}
	r, err := NewRecorder(driver, file)
	if err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

// Transmit forwards to the wrapped driver and records the frame if it was
// accepted.
func (r *Recorder) Transmit(id uint32, payload []byte) error {
	if err := r.driver.Transmit(id, payload); err != nil {
		return err
	}
	r.write(canbus.Frame{ID: id, Flags: canbus.FlagFDF | canbus.FlagBRS, Data: payload}, DirTx)
	return nil
}

// Receive forwards to the wrapped driver and records the batch.
func (r *Recorder) Receive() (canbus.Batch, error) {
	batch, err := r.driver.Receive()
	for _, f := range batch {
		r.write(f, DirRx)
	}
	return batch, err
}

// Reset passes through to the wrapped driver when it supports it.
func (r *Recorder) Reset() error {
	if rs, ok := r.driver.(canbus.Resetter); ok {
		return rs.Reset()
	}
	return nil
}

func (r *Recorder) write(f canbus.Frame, dir Direction) {
	data, err := f.MarshalNetworkOrder()
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		ci := gopacket.CaptureInfo{Timestamp: r.now(), CaptureLength: len(data), Length: len(data)}
		err = r.w.WritePacket(ci, data)
	}
	if err != nil {
		if r.err == nil {
			r.err = fmt.Errorf("record frame 0x%08X: %w", f.ID, err)
		}
		return
	}
	if dir == DirTx {
		r.tx++
	} else {
		r.rx++
	}
}

// Counts returns the number of transmitted and received frames recorded.
func (r *Recorder) Counts() (tx, rx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tx, r.rx
}

// Err returns the first write failure. Recording failures never fail the
// bus operation itself.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close closes the wrapped driver and the capture file (idempotent).
func (r *Recorder) Close() error {
	var err error
	r.once.Do(func() {
		err = r.driver.Close()
		if r.closer != nil {
			if cerr := r.closer.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

// TimedFrame is a frame read back from a capture.
type TimedFrame struct {
	canbus.Frame
	Timestamp time.Time
}

// ReadFrames reads every frame of a LINKTYPE_CAN_SOCKETCAN capture.
// Classic CAN and standard-id frames are skipped.
func ReadFrames(r io.Reader) ([]TimedFrame, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open pcap: %w", err)
	}
	if pr.LinkType() != LinkTypeCANSocketCAN {
		return nil, fmt.Errorf("unsupported link type %d, want %d (CAN_SOCKETCAN)", pr.LinkType(), LinkTypeCANSocketCAN)
	}

	var out []TimedFrame
	for n := 1; ; n++ {
		data, ci, err := pr.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, fmt.Errorf("read packet %d: %w", n, err)
		}
		var f canbus.Frame
		if err := f.UnmarshalNetworkOrder(data); err != nil {
			continue
		}
		out = append(out, TimedFrame{Frame: f, Timestamp: ci.Timestamp})
	}
	return out, nil
}

// ReadFile is ReadFrames on a file.
func ReadFile(path string) ([]TimedFrame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	defer file.Close()
	return ReadFrames(file)
}
