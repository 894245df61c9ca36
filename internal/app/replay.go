package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tturner/servobus/internal/capture"
	"github.com/tturner/servobus/internal/cyphal"
	"github.com/tturner/servobus/internal/progress"
)

// ReplayOptions tunes CaptureReplay.
type ReplayOptions struct {
	// Speed scales the recorded inter-frame gaps: 1 keeps them, 2 halves
	// them. Zero sends back to back.
	Speed float64
	// Source only replays transfers sent by this node. Negative replays all.
	Source int
	Limit  int
	// Progress receives a progress bar. Nil draws nothing.
	Progress io.Writer
}

// CaptureReplay transmits the frames of a capture file onto the session's
// bus and returns how many were sent.
func CaptureReplay(ctx context.Context, s *Session, path string, opts ReplayOptions) (int, error) {
	frames, err := capture.ReadFile(path)
	if err != nil {
		return 0, err
	}
	selected := frames[:0]
	for _, f := range frames {
		if opts.Source >= 0 {
			p, ok := cyphal.ParseID(f.ID)
			if !ok || int(p.Source) != opts.Source {
				continue
			}
		}
		selected = append(selected, f)
		if opts.Limit > 0 && len(selected) == opts.Limit {
			break
		}
	}
	if len(selected) == 0 {
		return 0, fmt.Errorf("%s: no frames to replay", path)
	}

	out := opts.Progress
	if out == nil {
		out = io.Discard
	}
	bar := progress.NewBar(out, len(selected), "replay")
	bar.SetEnabled(opts.Progress != nil)

	first := selected[0].Timestamp
	start := time.Now()
	sent := 0
	for _, f := range selected {
		if opts.Speed > 0 {
			due := start.Add(time.Duration(float64(f.Timestamp.Sub(first)) / opts.Speed))
			if wait := time.Until(due); wait > 0 {
				select {
				case <-ctx.Done():
					bar.Finish()
					return sent, ctx.Err()
				case <-time.After(wait):
				}
			}
		} else if err := ctx.Err(); err != nil {
			bar.Finish()
			return sent, err
		}
		if err := s.Driver.Transmit(f.ID, f.Data); err != nil {
			bar.Finish()
			return sent, fmt.Errorf("replay frame %d (id %08X): %w", sent+1, f.ID, err)
		}
		sent++
		bar.Add(1)
	}
	bar.Finish()
	s.Logger.Info("Replayed %d frames from %s in %s", sent, path, progress.FormatDuration(time.Since(start)))
	return sent, nil
}
