// Package slcan drives serial-line CAN adapters that speak the Lawicel ASCII
// protocol with the CAN-FD extension (CANable 2.0 and compatible firmware).
//
// Frames travel as text lines terminated by '\r':
//
//	Tiiiiiiiildd..   classic frame, extended id
//	Diiiiiiiildd..   CAN-FD frame, extended id
//	Biiiiiiiildd..   CAN-FD frame with bit rate switch, extended id
//
// where l is the DLC as one hex digit.
package slcan

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/tturner/servobus/internal/canbus"
)

const (
	cr   = '\r'
	bell = 0x07

	// Lines longer than a 64-byte FD frame are garbage.
	maxLine = 1 + 8 + 1 + 2*canbus.CANFDMaxData + 4

	readTimeout = 2 * time.Millisecond
	readChunk   = 1024
)

// Config selects the serial device and bus timing.
type Config struct {
	Port        string
	Baud        int
	Bitrate     uint8 // S0..S8, 8 = 1 Mbit/s
	DataBitrate uint8 // Y code for the FD data phase
	Filters     []canbus.Filter
}

// Driver is a canbus.Driver over an SLCAN adapter.
type Driver struct {
	mu      sync.Mutex
	port    io.ReadWriteCloser
	cfg     Config
	buf     []byte
	errors  int
	skipped int
	closed  bool
}

// Open opens the serial port and puts the adapter on the bus.
func Open(cfg Config) (*Driver, error) {
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("slcan: open %s: %w", cfg.Port, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("slcan: set read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("slcan: flush input: %w", err)
	}
	d, err := New(port, cfg)
	if err != nil {
		port.Close()
		return nil, err
	}
	return d, nil
}

// New runs the setup sequence on an already open port.
func New(port io.ReadWriteCloser, cfg Config) (*Driver, error) {
	d := &Driver{port: port, cfg: cfg}
	if err := d.setup(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Driver) setup() error {
	if d.cfg.Bitrate > 8 || d.cfg.DataBitrate > 8 {
		return fmt.Errorf("slcan: bitrate code S%d/Y%d out of range", d.cfg.Bitrate, d.cfg.DataBitrate)
	}
	cmds := []string{
		"C",
		"S" + strconv.Itoa(int(d.cfg.Bitrate)),
		"Y" + strconv.Itoa(int(d.cfg.DataBitrate)),
		"O",
	}
	for _, c := range cmds {
		if _, err := d.port.Write([]byte(c + "\r")); err != nil {
			return fmt.Errorf("slcan: command %q: %w", c, err)
		}
	}
	d.buf = d.buf[:0]
	return nil
}

// Transmit sends one frame as a 'B' line.
func (d *Driver) Transmit(id uint32, payload []byte) error {
	line, err := EncodeFrame(canbus.Frame{ID: id, Flags: canbus.FlagFDF | canbus.FlagBRS, Data: payload})
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("slcan: transmit on closed driver")
	}
	if _, err := d.port.Write(line); err != nil {
		return fmt.Errorf("slcan: write: %w", err)
	}
	return nil
}

// Receive reads whatever the adapter has sent and returns the complete
// frame lines. A read timeout ends the drain.
func (d *Driver) Receive() (canbus.Batch, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("slcan: receive on closed driver")
	}

	chunk := make([]byte, readChunk)
	for {
		n, err := d.port.Read(chunk)
		d.buf = append(d.buf, chunk[:n]...)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("slcan: read: %w", err)
		}
		if n < len(chunk) {
			break
		}
	}

	var out canbus.Batch
	for {
		i := bytes.IndexAny(d.buf, "\r\a")
		if i < 0 {
			if len(d.buf) > maxLine {
				d.skipped++
				d.buf = d.buf[:0]
			}
			break
		}
		line, term := d.buf[:i], d.buf[i]
		d.buf = d.buf[i+1:]
		if term == bell {
			d.errors++
			continue
		}
		f, ok, err := ParseLine(line)
		if err != nil {
			d.skipped++
			continue
		}
		if ok && canbus.Accept(d.cfg.Filters, f.ID) {
			out = append(out, f)
		}
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return out, nil
}

// Stats returns the adapter error replies and unparseable lines seen so far.
func (d *Driver) Stats() (adapterErrors, skipped int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errors, d.skipped
}

// Reset closes and reopens the channel with the configured bitrates.
func (d *Driver) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setup()
}

// Close takes the adapter off the bus and closes the port.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.port.Write([]byte("C\r"))
	return d.port.Close()
}

// EncodeFrame renders f as a command line including the terminator.
// Frames without the FD flag use the classic 'T' form.
func EncodeFrame(f canbus.Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	cmd := byte('T')
	switch {
	case f.Flags&canbus.FlagFDF == 0:
		if len(f.Data) > 8 {
			return nil, fmt.Errorf("slcan: classic frame with %d bytes", len(f.Data))
		}
	case f.Flags&canbus.FlagBRS != 0:
		cmd = 'B'
	default:
		cmd = 'D'
	}
	line := make([]byte, 0, 11+2*len(f.Data))
	line = append(line, cmd)
	line = fmt.Appendf(line, "%08X%X", f.ID, canbus.LengthToDLC(len(f.Data)))
	line = append(line, bytes.ToUpper([]byte(hex.EncodeToString(f.Data)))...)
	return append(line, cr), nil
}

// ParseLine decodes one received line without its terminator. ok is false
// for lines that are not extended-id data frames (acks, standard ids,
// remote frames, version replies).
func ParseLine(line []byte) (f canbus.Frame, ok bool, err error) {
	if len(line) == 0 {
		return f, false, nil
	}
	switch line[0] {
	case 'T':
	case 'D':
		f.Flags = canbus.FlagFDF
	case 'B':
		f.Flags = canbus.FlagFDF | canbus.FlagBRS
	default:
		return f, false, nil
	}
	if len(line) < 10 {
		return f, false, fmt.Errorf("slcan: short frame line %q", line)
	}
	id, err := strconv.ParseUint(string(line[1:9]), 16, 32)
	if err != nil {
		return f, false, fmt.Errorf("slcan: bad identifier in %q: %w", line, err)
	}
	dlc, err := strconv.ParseUint(string(line[9:10]), 16, 8)
	if err != nil {
		return f, false, fmt.Errorf("slcan: bad dlc in %q: %w", line, err)
	}
	n := canbus.DLCToLength(uint8(dlc))
	if f.Flags&canbus.FlagFDF == 0 && n > 8 {
		n = 8
	}
	hexData := line[10:]
	if len(hexData) < 2*n {
		return f, false, fmt.Errorf("slcan: line %q carries %d data bytes, dlc says %d", line, len(hexData)/2, n)
	}
	// Anything after the data is a timestamp.
	f.Data = make([]byte, n)
	if _, err := hex.Decode(f.Data, hexData[:2*n]); err != nil {
		return f, false, fmt.Errorf("slcan: bad data in %q: %w", line, err)
	}
	f.ID = uint32(id)
	if err := f.Validate(); err != nil {
		return f, false, err
	}
	return f, true, nil
}
