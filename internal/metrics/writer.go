package metrics

// Metrics output (CSV/JSON) and summary formatting

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

var csvHeader = []string{
	"timestamp",
	"operation",
	"channel",
	"key",
	"success",
	"rtt_ms",
	"outcome",
	"error",
}

// Writer handles writing metrics to files
type Writer struct {
	csvFile   *os.File
	csvWriter *csv.Writer
	jsonFile  *os.File
	jsonCount int
}

// NewWriter creates a new metrics writer. Either path may be empty.
func NewWriter(csvPath, jsonPath string) (*Writer, error) {
	w := &Writer{}

	if csvPath != "" {
		file, err := os.Create(csvPath)
		if err != nil {
			return nil, fmt.Errorf("create CSV file: %w", err)
		}
		w.csvFile = file
		w.csvWriter = csv.NewWriter(file)

		if err := w.csvWriter.Write(csvHeader); err != nil {
			file.Close()
			return nil, fmt.Errorf("write CSV header: %w", err)
		}
		w.csvWriter.Flush()
	}

	if jsonPath != "" {
		file, err := os.Create(jsonPath)
		if err != nil {
			if w.csvFile != nil {
				w.csvFile.Close()
			}
			return nil, fmt.Errorf("create JSON file: %w", err)
		}
		w.jsonFile = file

		if _, err := file.WriteString("[\n"); err != nil {
			file.Close()
			if w.csvFile != nil {
				w.csvFile.Close()
			}
			return nil, fmt.Errorf("write JSON start: %w", err)
		}
	}

	return w, nil
}

// NewFormatWriter opens path in the given format ("csv" or "json")
func NewFormatWriter(path, format string) (*Writer, error) {
	switch format {
	case "csv":
		return NewWriter(path, "")
	case "json":
		return NewWriter("", path)
	default:
		return nil, fmt.Errorf("unknown metrics format %q", format)
	}
}

// WriteMetric writes a single metric
func (w *Writer) WriteMetric(m Metric) error {
	if w.csvWriter != nil {
		record := []string{
			m.Timestamp.Format(time.RFC3339Nano),
			string(m.Operation),
			fmt.Sprintf("%d", m.Channel),
			m.Key,
			fmt.Sprintf("%t", m.Success),
			formatRTT(m.RTTMs),
			m.Outcome,
			m.Error,
		}
		if err := w.csvWriter.Write(record); err != nil {
			return fmt.Errorf("write CSV record: %w", err)
		}
		w.csvWriter.Flush()
	}

	if w.jsonFile != nil {
		jsonData, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}

		if w.jsonCount > 0 {
			if _, err := w.jsonFile.WriteString(",\n"); err != nil {
				return fmt.Errorf("write JSON comma: %w", err)
			}
		}

		var buf bytes.Buffer
		if err := json.Indent(&buf, jsonData, "", "  "); err != nil {
			return fmt.Errorf("indent JSON: %w", err)
		}
		if _, err := w.jsonFile.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("write JSON: %w", err)
		}
		w.jsonCount++
	}

	return nil
}

// Close closes the writer and flushes all data
func (w *Writer) Close() error {
	var errs []error

	if w.csvWriter != nil {
		w.csvWriter.Flush()
	}
	if w.csvFile != nil {
		if err := w.csvFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if w.jsonFile != nil {
		if _, err := w.jsonFile.WriteString("\n]\n"); err != nil {
			errs = append(errs, err)
		}
		if err := w.jsonFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close writer: %v", errs)
	}

	return nil
}

// formatRTT formats RTT value for CSV (empty string if 0)
func formatRTT(rtt float64) string {
	if rtt == 0 {
		return ""
	}
	return fmt.Sprintf("%.3f", rtt)
}

// FormatSummary formats a summary for human-readable output
func FormatSummary(summary *Summary) string {
	var buf strings.Builder

	if summary.TotalOperations == 0 {
		return "No operations recorded\n"
	}

	fmt.Fprintf(&buf, "Total Operations: %d\n", summary.TotalOperations)
	fmt.Fprintf(&buf, "Successful: %d (%.1f%%)\n",
		summary.SuccessfulOps,
		float64(summary.SuccessfulOps)/float64(summary.TotalOperations)*100)
	fmt.Fprintf(&buf, "Failed: %d (%.1f%%)\n",
		summary.FailedOps,
		float64(summary.FailedOps)/float64(summary.TotalOperations)*100)

	if summary.TimeoutCount > 0 {
		fmt.Fprintf(&buf, "Timeouts: %d\n", summary.TimeoutCount)
	}
	if summary.TransmitFailures > 0 {
		fmt.Fprintf(&buf, "Transmit Failures: %d\n", summary.TransmitFailures)
	}

	if summary.SuccessfulOps > 0 {
		buf.WriteString("\nRTT Statistics (all operations):\n")
		fmt.Fprintf(&buf, "  Min: %.3f ms\n", summary.MinRTT)
		fmt.Fprintf(&buf, "  Max: %.3f ms\n", summary.MaxRTT)
		fmt.Fprintf(&buf, "  Avg: %.3f ms\n", summary.AvgRTT)
		if summary.P50RTT > 0 || summary.P90RTT > 0 || summary.P99RTT > 0 {
			fmt.Fprintf(&buf, "  P50: %.3f ms\n", summary.P50RTT)
			fmt.Fprintf(&buf, "  P90: %.3f ms\n", summary.P90RTT)
			fmt.Fprintf(&buf, "  P99: %.3f ms\n", summary.P99RTT)
		}
		if len(summary.RTTBuckets) > 0 {
			fmt.Fprintf(&buf, "  Buckets: <1ms=%d 1-5ms=%d 5-10ms=%d 10-50ms=%d 50-100ms=%d >100ms=%d\n",
				summary.RTTBuckets["lt_1ms"],
				summary.RTTBuckets["1_5ms"],
				summary.RTTBuckets["5_10ms"],
				summary.RTTBuckets["10_50ms"],
				summary.RTTBuckets["50_100ms"],
				summary.RTTBuckets["gt_100ms"],
			)
		}
	}

	if len(summary.RTTByOperation) > 0 {
		buf.WriteString("\nPer-Operation Statistics:\n")
		ops := make([]string, 0, len(summary.RTTByOperation))
		for op := range summary.RTTByOperation {
			ops = append(ops, string(op))
		}
		sort.Strings(ops)
		for _, op := range ops {
			writeStats(&buf, op, summary.RTTByOperation[OperationType(op)])
		}
	}

	if len(summary.RTTByChannel) > 0 {
		buf.WriteString("\nPer-Channel Statistics:\n")
		channels := make([]int, 0, len(summary.RTTByChannel))
		for ch := range summary.RTTByChannel {
			channels = append(channels, int(ch))
		}
		sort.Ints(channels)
		for _, ch := range channels {
			writeStats(&buf, fmt.Sprintf("channel %d", ch), summary.RTTByChannel[uint8(ch)])
		}
	}

	return buf.String()
}

func writeStats(buf *strings.Builder, label string, stats *OperationStats) {
	fmt.Fprintf(buf, "  %s: %d ops (%d success, %d failed)",
		label, stats.Count, stats.Success, stats.Failed)
	if stats.Success > 0 {
		fmt.Fprintf(buf, " - RTT: min=%.3fms, max=%.3fms, avg=%.3fms",
			stats.MinRTT, stats.MaxRTT, stats.AvgRTT)
	}
	buf.WriteString("\n")
}
