// Package netdetect finds the CAN interfaces and serial CAN adapters
// present on this machine.
package netdetect

import (
	"fmt"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

// Kinds match the bus driver that opens the interface.
const (
	KindSocketCAN = "socketcan"
	KindSLCAN     = "slcan"
)

// InterfaceInfo describes one candidate bus interface.
type InterfaceInfo struct {
	Name        string // netdev name ("can0") or serial port ("/dev/ttyACM0")
	Kind        string
	Description string
	IsUp        bool
}

var serialPorts = enumerator.GetDetailedPortsList

// ListInterfaces returns SocketCAN netdevs followed by USB serial ports.
// A serial enumeration failure is returned only when no CAN netdev was found.
func ListInterfaces() ([]InterfaceInfo, error) {
	out, canErr := listCAN()

	ports, err := serialPorts()
	if err != nil {
		if len(out) == 0 {
			if canErr != nil {
				return nil, fmt.Errorf("list CAN interfaces: %w; list serial ports: %v", canErr, err)
			}
			return nil, fmt.Errorf("list serial ports: %w", err)
		}
		return out, nil
	}
	var serial []InterfaceInfo
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		desc := strings.TrimSpace(p.Product)
		if desc == "" {
			desc = "USB serial"
		}
		desc = fmt.Sprintf("%s (%s:%s)", desc, strings.ToLower(p.VID), strings.ToLower(p.PID))
		if p.SerialNumber != "" {
			desc += " sn " + p.SerialNumber
		}
		serial = append(serial, InterfaceInfo{Name: p.Name, Kind: KindSLCAN, Description: desc, IsUp: true})
	}
	sort.Slice(serial, func(i, j int) bool { return serial[i].Name < serial[j].Name })
	return append(out, serial...), nil
}

// DefaultInterface returns the first interface of kind that is up.
func DefaultInterface(list []InterfaceInfo, kind string) (string, error) {
	for _, info := range list {
		if info.Kind == kind && info.IsUp {
			return info.Name, nil
		}
	}
	return "", fmt.Errorf("no %s interface is up", kind)
}
