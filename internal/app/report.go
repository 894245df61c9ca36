package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tturner/servobus/internal/capture"
	"github.com/tturner/servobus/internal/metrics"
)

// MetricsReport summarises one or more metrics CSV files.
func MetricsReport(paths []string, out io.Writer) error {
	var all []metrics.Metric
	loaded := 0
	for _, p := range paths {
		records, first, last, err := metrics.ReadMetricsCSV(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: skipping %s: %v\n", filepath.Base(p), err)
			continue
		}
		loaded++
		fmt.Fprintf(out, "%s: %d records, %s .. %s\n", filepath.Base(p), len(records),
			first.Format("2006-01-02 15:04:05"), last.Format("15:04:05"))
		all = append(all, records...)
	}
	if loaded == 0 {
		return fmt.Errorf("no readable metrics files among %s", strings.Join(paths, ", "))
	}
	fmt.Fprintln(out)
	fmt.Fprint(out, metrics.FormatSummary(metrics.Summarize(all)))
	return nil
}

// CaptureSummary prints frame statistics for a capture file.
func CaptureSummary(path string, out io.Writer) error {
	frames, err := capture.ReadFile(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Capture: %s\n", path)
	fmt.Fprint(out, capture.Summarize(frames).Format())
	return nil
}

// CaptureDump prints every frame of a capture, up to limit frames when
// limit is positive.
func CaptureDump(path string, out io.Writer, limit int) error {
	frames, err := capture.ReadFile(path)
	if err != nil {
		return err
	}
	for i, f := range frames {
		if limit > 0 && i >= limit {
			fmt.Fprintf(out, "... %d more frames\n", len(frames)-limit)
			break
		}
		fmt.Fprintf(out, "#%d %s\n", i+1, f.Timestamp.Format("15:04:05.000000"))
		fmt.Fprint(out, capture.FormatFrame(f.Frame))
	}
	return nil
}
