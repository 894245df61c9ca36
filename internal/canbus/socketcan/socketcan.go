//go:build linux

// Package socketcan drives Linux SocketCAN interfaces through a raw CAN-FD
// socket.
package socketcan

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/tturner/servobus/internal/canbus"
)

const (
	classicFrameSize = 16
	maxBatch         = 256
	writeWaitMs      = 10
)

// Driver is a canbus.Driver bound to one SocketCAN interface.
type Driver struct {
	mu      sync.Mutex
	fd      int
	iface   string
	filters []canbus.Filter
	closed  bool
}

// Open binds a non-blocking raw socket with CAN-FD frames enabled.
func Open(iface string, filters []canbus.Filter) (*Driver, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan: %s: %w", iface, err)
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socketcan: socket: %w", err)
	}
	d := &Driver{fd: fd, iface: iface, filters: filters}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("socketcan: enable FD frames on %s: %w", iface, err)
	}
	if err := d.applyFilters(); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("socketcan: bind %s: %w", iface, err)
	}
	return d, nil
}

func (d *Driver) applyFilters() error {
	if err := unix.SetsockoptCanRawFilter(d.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, kernelFilters(d.filters)); err != nil {
		return fmt.Errorf("socketcan: set filters on %s: %w", d.iface, err)
	}
	return nil
}

// kernelFilters converts acceptance filters to can_filter entries. Every
// entry also requires the extended-frame flag, and an empty set still
// admits only extended frames.
func kernelFilters(filters []canbus.Filter) []unix.CanFilter {
	if len(filters) == 0 {
		return []unix.CanFilter{{Id: unix.CAN_EFF_FLAG, Mask: unix.CAN_EFF_FLAG}}
	}
	out := make([]unix.CanFilter, 0, len(filters))
	for _, f := range filters {
		out = append(out, unix.CanFilter{
			Id:   f.ID&unix.CAN_EFF_MASK | unix.CAN_EFF_FLAG,
			Mask: f.Mask&unix.CAN_EFF_MASK | unix.CAN_EFF_FLAG,
		})
	}
	return out
}

// Transmit writes one canfd_frame. A full transmit queue is waited on
// briefly before giving up.
func (d *Driver) Transmit(id uint32, payload []byte) error {
	buf, err := canbus.Frame{ID: id, Flags: canbus.FlagFDF | canbus.FlagBRS, Data: payload}.MarshalBinary()
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("socketcan: transmit on closed driver")
	}
	for attempt := 0; ; attempt++ {
		_, err = unix.Write(d.fd, buf)
		if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.ENOBUFS) || attempt > 0 {
			break
		}
		fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLOUT}}
		if _, perr := unix.Poll(fds, writeWaitMs); perr != nil && !errors.Is(perr, unix.EINTR) {
			return fmt.Errorf("socketcan: poll %s: %w", d.iface, perr)
		}
	}
	if err != nil {
		return fmt.Errorf("socketcan: write %s: %w", d.iface, err)
	}
	return nil
}

// Receive reads pending frames until the socket would block.
// Error frames and standard identifiers are dropped.
func (d *Driver) Receive() (canbus.Batch, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("socketcan: receive on closed driver")
	}

	var out canbus.Batch
	buf := make([]byte, canbus.CANFDFrameSize)
	for len(out) < maxBatch {
		n, err := unix.Read(d.fd, buf)
		if errors.Is(err, unix.EAGAIN) {
			break
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return out, fmt.Errorf("socketcan: read %s: %w", d.iface, err)
		}
		if n != canbus.CANFDFrameSize && n != classicFrameSize {
			continue
		}
		f, ok := decode(buf[:n])
		if !ok {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func decode(raw []byte) (canbus.Frame, bool) {
	var f canbus.Frame
	if raw[3]&(unix.CAN_ERR_FLAG>>24) != 0 {
		return f, false
	}
	if err := f.UnmarshalBinary(raw); err != nil {
		return f, false
	}
	if len(raw) == canbus.CANFDFrameSize {
		f.Flags |= canbus.FlagFDF
	}
	return f, true
}

// Reset reapplies the filters and discards queued input.
func (d *Driver) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("socketcan: reset on closed driver")
	}
	if err := d.applyFilters(); err != nil {
		return err
	}
	buf := make([]byte, canbus.CANFDFrameSize)
	for {
		if _, err := unix.Read(d.fd, buf); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			break
		}
	}
	return nil
}

// Close closes the socket.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return unix.Close(d.fd)
}
