// Package progress draws single-line progress indicators on a terminal.
package progress

import (
	"fmt"
	"io"
	"strings"
	"time"
)

const barWidth = 40

// Bar is a fixed-total progress bar redrawn in place with a carriage return.
type Bar struct {
	out         io.Writer
	total       int
	current     int
	description string
	enabled     bool
	start       time.Time
	lastDraw    time.Time
	interval    time.Duration
	now         func() time.Time
}

// NewBar returns a bar that draws to out at most every 100ms.
func NewBar(out io.Writer, total int, description string) *Bar {
	b := &Bar{
		out:         out,
		total:       total,
		description: description,
		enabled:     true,
		interval:    100 * time.Millisecond,
		now:         time.Now,
	}
	b.start = b.now()
	return b
}

// SetEnabled turns drawing on or off. Counting continues either way.
func (b *Bar) SetEnabled(on bool) { b.enabled = on }

// Current returns the count so far.
func (b *Bar) Current() int { return b.current }

// Add advances the bar by n.
func (b *Bar) Add(n int) {
	b.current += n
	if b.current > b.total {
		b.current = b.total
	}
	b.draw(false)
}

// Finish draws the final state and ends the line.
func (b *Bar) Finish() {
	if !b.enabled {
		return
	}
	b.draw(true)
	fmt.Fprint(b.out, "\n")
}

func (b *Bar) draw(force bool) {
	if !b.enabled {
		return
	}
	now := b.now()
	if !force && b.current < b.total && now.Sub(b.lastDraw) < b.interval {
		return
	}
	b.lastDraw = now

	var frac float64
	if b.total > 0 {
		frac = float64(b.current) / float64(b.total)
	}
	filled := int(frac * barWidth)
	bar := strings.Repeat("=", filled)
	if filled < barWidth {
		bar += ">" + strings.Repeat("-", barWidth-filled-1)
	}

	elapsed := now.Sub(b.start)
	line := fmt.Sprintf("\r%s [%s] %d/%d (%.1f%%) %s", b.description, bar, b.current, b.total, frac*100, FormatDuration(elapsed))
	if b.current > 0 && b.current < b.total {
		rate := float64(b.current) / elapsed.Seconds()
		if rate > 0 {
			eta := time.Duration(float64(b.total-b.current) / rate * float64(time.Second))
			line += " eta " + FormatDuration(eta)
		}
	}
	fmt.Fprint(b.out, line)
}

// FormatDuration prints d as 850ms, 12.3s or 4m05s.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
}
