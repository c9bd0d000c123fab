package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DLQMetrics tracks messages routed to dead-letter destinations.
type DLQMetrics struct {
	mu sync.RWMutex

	destinations map[string]*DLQDestinationMetrics

	messagesTotal        *prometheus.CounterVec
	publishFailuresTotal *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

// DLQDestinationMetrics holds the counters of one dead-letter destination.
type DLQDestinationMetrics struct {
	MessagesReceived uint64            `json:"messagesReceived"`
	PublishFailures  uint64            `json:"publishFailures"`
	ByBinding        map[string]uint64 `json:"byBinding,omitempty"`
	FirstMessageAt   time.Time         `json:"firstMessageAt,omitempty"`
	LastMessageAt    time.Time         `json:"lastMessageAt,omitempty"`
}

// DLQMetricsSnapshot provides a point-in-time view of DLQ metrics.
type DLQMetricsSnapshot struct {
	TotalMessages        uint64                            `json:"totalMessages"`
	TotalPublishFailures uint64                            `json:"totalPublishFailures"`
	Destinations         map[string]*DLQDestinationMetrics `json:"destinations"`
	CollectedAt          time.Time                         `json:"collectedAt"`
}

func newDLQCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streambridge",
			Subsystem: "dlq",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewDLQMetrics creates a new DLQ metrics collector. Call Register to expose
// it through registerer.
func NewDLQMetrics(registerer prometheus.Registerer) *DLQMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &DLQMetrics{
		destinations:         make(map[string]*DLQDestinationMetrics),
		registerer:           registerer,
		messagesTotal:        newDLQCounterVec("messages_total", "Total number of messages sent to a dead-letter destination", []string{"destination", "binding"}),
		publishFailuresTotal: newDLQCounterVec("publish_failures_total", "Total number of failed publishes to a dead-letter destination", []string{"destination"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *DLQMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	for _, c := range []prometheus.Collector{m.messagesTotal, m.publishFailuresTotal} {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordDeadLetter records a message published to destination after binding
// exhausted its retries.
func (m *DLQMetrics) RecordDeadLetter(destination, binding string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	metrics := m.getOrCreate(destination)
	metrics.MessagesReceived++
	if metrics.ByBinding == nil {
		metrics.ByBinding = make(map[string]uint64)
	}
	metrics.ByBinding[binding]++
	if metrics.FirstMessageAt.IsZero() {
		metrics.FirstMessageAt = now
	}
	metrics.LastMessageAt = now

	m.messagesTotal.WithLabelValues(destination, binding).Inc()
}

// RecordPublishFailure records a message that could not be dead-lettered.
func (m *DLQMetrics) RecordPublishFailure(destination string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.getOrCreate(destination).PublishFailures++
	m.publishFailuresTotal.WithLabelValues(destination).Inc()
}

// GetSnapshot returns a point-in-time snapshot of all DLQ metrics.
func (m *DLQMetrics) GetSnapshot() DLQMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := DLQMetricsSnapshot{
		Destinations: make(map[string]*DLQDestinationMetrics, len(m.destinations)),
		CollectedAt:  time.Now(),
	}
	for name, metrics := range m.destinations {
		snapshot.Destinations[name] = metrics.clone()
		snapshot.TotalMessages += metrics.MessagesReceived
		snapshot.TotalPublishFailures += metrics.PublishFailures
	}
	return snapshot
}

// GetDestinationMetrics returns a copy of the metrics of destination, or nil.
func (m *DLQMetrics) GetDestinationMetrics(destination string) *DLQDestinationMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if metrics, ok := m.destinations[destination]; ok {
		return metrics.clone()
	}
	return nil
}

// Reset clears all metrics.
func (m *DLQMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.destinations = make(map[string]*DLQDestinationMetrics)
	m.messagesTotal.Reset()
	m.publishFailuresTotal.Reset()
}

func (m *DLQMetrics) getOrCreate(destination string) *DLQDestinationMetrics {
	if metrics, ok := m.destinations[destination]; ok {
		return metrics
	}
	metrics := &DLQDestinationMetrics{}
	m.destinations[destination] = metrics
	return metrics
}

func (d *DLQDestinationMetrics) clone() *DLQDestinationMetrics {
	cp := *d
	if d.ByBinding != nil {
		cp.ByBinding = make(map[string]uint64, len(d.ByBinding))
		for k, v := range d.ByBinding {
			cp.ByBinding[k] = v
		}
	}
	return &cp
}
