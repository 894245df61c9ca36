package metrics

// Metrics collection for servo bus operations

import (
	"math"
	"sort"
	"sync"
	"time"
)

// OperationType represents the type of operation
type OperationType string

const (
	OperationSetValue     OperationType = "SET_VALUE"
	OperationGetValue     OperationType = "GET_VALUE"
	OperationDriveEnable  OperationType = "DRIVE_ENABLE"
	OperationDriveDisable OperationType = "DRIVE_DISABLE"
)

// Outcomes recorded with each metric
const (
	OutcomeSuccess   = "success"
	OutcomeTimeout   = "timeout"
	OutcomeTransmit  = "transmit"
	OutcomeIntegrity = "integrity"
	OutcomeDecode    = "decode"
	OutcomeError     = "error"
)

// Metric represents a single operation metric
type Metric struct {
	Timestamp time.Time     `json:"timestamp"`
	Operation OperationType `json:"operation"`
	Channel   uint8         `json:"channel"`
	Key       string        `json:"key,omitempty"`
	Success   bool          `json:"success"`
	RTTMs     float64       `json:"rtt_ms"`
	Outcome   string        `json:"outcome"`
	Error     string        `json:"error,omitempty"`
}

// Sink collects and aggregates metrics
type Sink struct {
	mu      sync.RWMutex
	metrics []Metric
	summary *Summary
}

func newSummary() *Summary {
	return &Summary{
		RTTBuckets:     make(map[string]int),
		RTTByOperation: make(map[OperationType]*OperationStats),
		RTTByChannel:   make(map[uint8]*OperationStats),
	}
}

// Summary contains aggregated statistics
type Summary struct {
	TotalOperations  int
	SuccessfulOps    int
	FailedOps        int
	TimeoutCount     int
	TransmitFailures int
	MinRTT           float64
	MaxRTT           float64
	AvgRTT           float64
	P50RTT           float64
	P90RTT           float64
	P99RTT           float64
	RTTBuckets       map[string]int
	RTTByOperation   map[OperationType]*OperationStats
	RTTByChannel     map[uint8]*OperationStats
}

// OperationStats contains statistics for one operation type or channel
type OperationStats struct {
	Count   int
	Success int
	Failed  int
	MinRTT  float64
	MaxRTT  float64
	AvgRTT  float64
	SumRTT  float64
}

// NewSink creates a new metrics sink
func NewSink() *Sink {
	return &Sink{
		metrics: make([]Metric, 0),
		summary: newSummary(),
	}
}

// Record records a new metric
func (s *Sink) Record(m Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics = append(s.metrics, m)
	s.updateSummary(m)
}

// GetMetrics returns a copy of all recorded metrics
func (s *Sink) GetMetrics() []Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metrics := make([]Metric, len(s.metrics))
	copy(metrics, s.metrics)
	return metrics
}

// GetSummary returns the aggregated summary
func (s *Sink) GetSummary() *Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := &Summary{
		TotalOperations:  s.summary.TotalOperations,
		SuccessfulOps:    s.summary.SuccessfulOps,
		FailedOps:        s.summary.FailedOps,
		TimeoutCount:     s.summary.TimeoutCount,
		TransmitFailures: s.summary.TransmitFailures,
		MinRTT:           s.summary.MinRTT,
		MaxRTT:           s.summary.MaxRTT,
		AvgRTT:           s.summary.AvgRTT,
		RTTBuckets:       make(map[string]int),
		RTTByOperation:   make(map[OperationType]*OperationStats),
		RTTByChannel:     make(map[uint8]*OperationStats),
	}
	for op, stats := range s.summary.RTTByOperation {
		copied := *stats
		summary.RTTByOperation[op] = &copied
	}
	for ch, stats := range s.summary.RTTByChannel {
		copied := *stats
		summary.RTTByChannel[ch] = &copied
	}

	percentiles, buckets := summarizeDistribution(s.metrics)
	summary.P50RTT = percentiles[0]
	summary.P90RTT = percentiles[1]
	summary.P99RTT = percentiles[2]
	for k, v := range buckets {
		summary.RTTBuckets[k] = v
	}

	return summary
}

// Summarize builds a summary from metrics read back from a file
func Summarize(metrics []Metric) *Summary {
	sink := NewSink()
	for _, m := range metrics {
		sink.Record(m)
	}
	return sink.GetSummary()
}

// updateSummary updates the summary statistics with a new metric
func (s *Sink) updateSummary(m Metric) {
	s.summary.TotalOperations++

	if m.Success {
		s.summary.SuccessfulOps++
	} else {
		s.summary.FailedOps++
		switch m.Outcome {
		case OutcomeTimeout:
			s.summary.TimeoutCount++
		case OutcomeTransmit:
			s.summary.TransmitFailures++
		}
	}

	if m.Success && m.RTTMs > 0 {
		if s.summary.MinRTT == 0 || m.RTTMs < s.summary.MinRTT {
			s.summary.MinRTT = m.RTTMs
		}
		if m.RTTMs > s.summary.MaxRTT {
			s.summary.MaxRTT = m.RTTMs
		}

		totalRTT := s.summary.AvgRTT * float64(s.summary.SuccessfulOps-1)
		totalRTT += m.RTTMs
		s.summary.AvgRTT = totalRTT / float64(s.summary.SuccessfulOps)
	}

	opStats, exists := s.summary.RTTByOperation[m.Operation]
	if !exists {
		opStats = &OperationStats{}
		s.summary.RTTByOperation[m.Operation] = opStats
	}
	opStats.add(m)

	chStats, exists := s.summary.RTTByChannel[m.Channel]
	if !exists {
		chStats = &OperationStats{}
		s.summary.RTTByChannel[m.Channel] = chStats
	}
	chStats.add(m)
}

func (o *OperationStats) add(m Metric) {
	o.Count++
	if !m.Success {
		o.Failed++
		return
	}
	o.Success++
	if m.RTTMs > 0 {
		if o.MinRTT == 0 || m.RTTMs < o.MinRTT {
			o.MinRTT = m.RTTMs
		}
		if m.RTTMs > o.MaxRTT {
			o.MaxRTT = m.RTTMs
		}
		o.SumRTT += m.RTTMs
		o.AvgRTT = o.SumRTT / float64(o.Success)
	}
}

func summarizeDistribution(metrics []Metric) ([3]float64, map[string]int) {
	rtts := make([]float64, 0, len(metrics))
	buckets := make(map[string]int)

	for _, m := range metrics {
		if m.Success && m.RTTMs > 0 {
			rtts = append(rtts, m.RTTMs)
			incrementBucket(buckets, m.RTTMs)
		}
	}

	return computePercentiles(rtts), buckets
}

func incrementBucket(buckets map[string]int, value float64) {
	switch {
	case value < 1:
		buckets["lt_1ms"]++
	case value < 5:
		buckets["1_5ms"]++
	case value < 10:
		buckets["5_10ms"]++
	case value < 50:
		buckets["10_50ms"]++
	case value < 100:
		buckets["50_100ms"]++
	default:
		buckets["gt_100ms"]++
	}
}

func computePercentiles(values []float64) [3]float64 {
	var result [3]float64
	if len(values) == 0 {
		return result
	}
	sort.Float64s(values)
	result[0] = percentile(values, 0.50)
	result[1] = percentile(values, 0.90)
	result[2] = percentile(values, 0.99)
	return result
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
