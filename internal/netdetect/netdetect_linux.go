//go:build linux

package netdetect

import (
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ARPHRD_CAN
const arphrdCAN = "280"

var sysClassNet = "/sys/class/net"

func listCAN() ([]InterfaceInfo, error) {
	entries, err := os.ReadDir(sysClassNet)
	if err != nil {
		return nil, err
	}
	var out []InterfaceInfo
	for _, e := range entries {
		name := e.Name()
		typ, err := os.ReadFile(filepath.Join(sysClassNet, name, "type"))
		if err != nil || strings.TrimSpace(string(typ)) != arphrdCAN {
			continue
		}
		info := InterfaceInfo{Name: name, Kind: KindSocketCAN, Description: "SocketCAN"}
		if strings.HasPrefix(name, "vcan") {
			info.Description = "virtual CAN"
		}
		if state, err := os.ReadFile(filepath.Join(sysClassNet, name, "operstate")); err == nil {
			s := strings.TrimSpace(string(state))
			// vcan reports "unknown" while up
			info.IsUp = s == "up" || s == "unknown"
		}
		if iface, err := net.InterfaceByName(name); err == nil {
			info.IsUp = info.IsUp && iface.Flags&net.FlagUp != 0
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
