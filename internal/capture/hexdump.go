package capture

// Hex dump utilities for frame inspection

import (
	"fmt"
	"strings"

	"github.com/tturner/servobus/internal/canbus"
	"github.com/tturner/servobus/internal/cyphal"
)

// HexDump creates a hex dump of frame data
func HexDump(data []byte, width int) string {
	if width <= 0 {
		width = 16
	}

	var sb strings.Builder
	for i := 0; i < len(data); i += width {
		fmt.Fprintf(&sb, "%04x: ", i)

		for j := 0; j < width; j++ {
			if i+j < len(data) {
				fmt.Fprintf(&sb, "%02x ", data[i+j])
			} else {
				sb.WriteString("   ")
			}
		}

		sb.WriteString(" |")
		for j := 0; j < width && i+j < len(data); j++ {
			b := data[i+j]
			if b >= 32 && b < 127 {
				sb.WriteByte(b)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteString("|\n")
	}

	return sb.String()
}

// FormatFrame renders one frame with its decoded routing fields and a dump
// of the payload. The tail byte is annotated separately.
func FormatFrame(f canbus.Frame) string {
	var sb strings.Builder
	props, ok := cyphal.ParseID(f.ID)
	if !ok {
		fmt.Fprintf(&sb, "%08X  (not cyphal)\n", f.ID)
		sb.WriteString(HexDump(f.Data, 16))
		return sb.String()
	}
	fmt.Fprintf(&sb, "%08X  prio=%d %s\n", f.ID, props.Priority, props)
	if len(f.Data) == 0 {
		return sb.String()
	}
	tail := f.Data[len(f.Data)-1]
	sb.WriteString(HexDump(f.Data[:len(f.Data)-1], 16))
	fmt.Fprintf(&sb, "tail: 0x%02x %s toggle=%t tid=%d\n",
		tail, cyphal.RoleFromTail(tail), tail&cyphal.TailToggle != 0, tail&cyphal.TailTransferIDMask)
	return sb.String()
}
