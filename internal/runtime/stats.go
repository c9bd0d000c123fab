package runtime

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	errspkg "github.com/drblury/streambridge/internal/runtime/errors"
	jsoncodec "github.com/drblury/streambridge/internal/runtime/jsoncodec"
)

const latencySampleSize = 256

// BindingStats counts invocations of the function behind a consumer binding.
// Every attempt is counted, including redeliveries.
type BindingStats struct {
	mu       sync.Mutex
	snapshot BindingStatsSnapshot
	window   *latencyWindow
}

// BindingStatsSnapshot is a point-in-time copy of BindingStats.
type BindingStatsSnapshot struct {
	MessagesProcessed   uint64         `json:"messagesProcessed"`
	MessagesFailed      uint64         `json:"messagesFailed"`
	TotalProcessingTime int64          `json:"totalProcessingTimeNs"`
	LastProcessedAt     time.Time      `json:"lastProcessedAt"`
	Latency             LatencyMetrics `json:"latency"`
	Errors              ErrorBreakdown `json:"errors"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"averageNs"`
	P50Ns      int64 `json:"p50Ns"`
	P95Ns      int64 `json:"p95Ns"`
	P99Ns      int64 `json:"p99Ns"`
	LastNs     int64 `json:"lastNs"`
	SampleSize int   `json:"sampleSize"`
}

type ErrorBreakdown struct {
	Transport  uint64 `json:"transport"`
	Downstream uint64 `json:"downstream"`
	Other      uint64 `json:"other"`
	LastError  string `json:"lastError,omitempty"`
}

type ErrorCategory string

const (
	ErrorCategoryNone       ErrorCategory = "none"
	ErrorCategoryTransport  ErrorCategory = "transport"
	ErrorCategoryDownstream ErrorCategory = "downstream"
	ErrorCategoryOther      ErrorCategory = "other"
)

// ErrorClassifier sorts handler errors into the buckets of ErrorBreakdown.
type ErrorClassifier func(error) ErrorCategory

func newBindingStats() *BindingStats {
	return &BindingStats{window: newLatencyWindow(latencySampleSize)}
}

func (b *BindingStats) record(duration time.Duration, err error, classifier ErrorClassifier) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &b.snapshot
	s.MessagesProcessed++
	if err != nil {
		s.MessagesFailed++
	}
	s.TotalProcessingTime += int64(duration)
	s.LastProcessedAt = time.Now().UTC()

	b.window.Add(duration)
	latency := b.window.Snapshot()
	latency.AverageNs = s.TotalProcessingTime / int64(s.MessagesProcessed)
	s.Latency = latency

	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	s.Errors.Record(classifier(err), err)
}

func (b *BindingStats) Snapshot() BindingStatsSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot
}

func (b *BindingStats) MarshalJSON() ([]byte, error) {
	return jsoncodec.Marshal(b.Snapshot())
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Other++
	case ErrorCategoryTransport:
		e.Transport++
	case ErrorCategoryDownstream:
		e.Downstream++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

// defaultErrorClassifier treats endpoint replies as downstream failures and
// unreachable endpoints or timeouts as transport failures.
func defaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	var delivery *errspkg.DeliveryError
	if errors.As(err, &delivery) {
		if delivery.StatusCode > 0 {
			return ErrorCategoryDownstream
		}
		return ErrorCategoryTransport
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryTransport
	}
	return ErrorCategoryOther
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	metrics := LatencyMetrics{LastNs: lw.last}
	if lw.filled == 0 {
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.AverageNs = sum / int64(len(samples))
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}
