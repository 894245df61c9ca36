//go:build !linux

package socketcan

import (
	"fmt"
	"runtime"

	"github.com/tturner/servobus/internal/canbus"
)

// Driver is unavailable outside Linux.
type Driver struct{}

// Open always fails.
func Open(iface string, filters []canbus.Filter) (*Driver, error) {
	return nil, fmt.Errorf("socketcan: %s: address family not supported on %s", iface, runtime.GOOS)
}

func (d *Driver) Transmit(uint32, []byte) error  { return fmt.Errorf("socketcan: unsupported") }
func (d *Driver) Receive() (canbus.Batch, error) { return nil, fmt.Errorf("socketcan: unsupported") }
func (d *Driver) Reset() error                   { return nil }
func (d *Driver) Close() error                   { return nil }
