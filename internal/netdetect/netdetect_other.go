//go:build !linux

package netdetect

func listCAN() ([]InterfaceInfo, error) { return nil, nil }
