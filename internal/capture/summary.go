package capture

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tturner/servobus/internal/cyphal"
)

// Summary provides high-level stats for Cyphal traffic in a capture.
type Summary struct {
	TotalFrames  int
	CyphalFrames int
	Foreign      int // identifiers with reserved bits set
	Messages     int
	Requests     int
	Responses    int
	SingleFrame  int
	MultiFrame   int // start frames of multi-frame transfers
	Ports        map[string]int
	Sources      map[uint8]int
	First        time.Time
	Last         time.Time
}

// Summarize counts frames by kind, port and source node.
func Summarize(frames []TimedFrame) *Summary {
	s := &Summary{
		Ports:   make(map[string]int),
		Sources: make(map[uint8]int),
	}
	for i, f := range frames {
		s.TotalFrames++
		if i == 0 {
			s.First = f.Timestamp
		}
		s.Last = f.Timestamp

		props, ok := cyphal.ParseID(f.ID)
		if !ok || len(f.Data) == 0 {
			s.Foreign++
			continue
		}
		s.CyphalFrames++
		switch props.Kind {
		case cyphal.KindMessage:
			s.Messages++
		case cyphal.KindRequest:
			s.Requests++
		case cyphal.KindResponse:
			s.Responses++
		}
		switch cyphal.RoleFromTail(f.Data[len(f.Data)-1]) {
		case cyphal.RoleSingle:
			s.SingleFrame++
		case cyphal.RoleStart:
			s.MultiFrame++
		}
		s.Ports[fmt.Sprintf("%s/%d", props.Kind, props.PortID)]++
		s.Sources[props.Source]++
	}
	return s
}

// Format renders the summary as a text report.
func (s *Summary) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Frames: %d (cyphal %d, foreign %d)\n", s.TotalFrames, s.CyphalFrames, s.Foreign)
	if s.TotalFrames > 0 {
		fmt.Fprintf(&b, "Duration: %s\n", s.Last.Sub(s.First).Round(time.Microsecond))
	}
	fmt.Fprintf(&b, "Messages: %d  Requests: %d  Responses: %d\n", s.Messages, s.Requests, s.Responses)
	fmt.Fprintf(&b, "Single-frame transfers: %d  Multi-frame transfers: %d\n", s.SingleFrame, s.MultiFrame)

	if len(s.Ports) > 0 {
		b.WriteString("\nPorts:\n")
		keys := make([]string, 0, len(s.Ports))
		for k := range s.Ports {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %-20s %d\n", k, s.Ports[k])
		}
	}
	if len(s.Sources) > 0 {
		b.WriteString("\nSources:\n")
		ids := make([]int, 0, len(s.Sources))
		for id := range s.Sources {
			ids = append(ids, int(id))
		}
		sort.Ints(ids)
		for _, id := range ids {
			fmt.Fprintf(&b, "  node %-3d %d\n", id, s.Sources[uint8(id)])
		}
	}
	return b.String()
}
