package runtime

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDLQMetrics_RecordDeadLetter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDLQMetrics(reg)
	require.NoError(t, m.Register())

	m.RecordDeadLetter("error.dlt", "proxyConsumer-in-0")
	m.RecordDeadLetter("error.dlt", "proxyConsumer-in-0")
	m.RecordDeadLetter("error.dlt", "audit-in-0")

	metrics := m.GetDestinationMetrics("error.dlt")
	require.NotNil(t, metrics)
	assert.Equal(t, uint64(3), metrics.MessagesReceived)
	assert.Equal(t, uint64(2), metrics.ByBinding["proxyConsumer-in-0"])
	assert.Equal(t, uint64(1), metrics.ByBinding["audit-in-0"])
	assert.False(t, metrics.FirstMessageAt.IsZero())
	assert.False(t, metrics.LastMessageAt.Before(metrics.FirstMessageAt))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messagesTotal.WithLabelValues("error.dlt", "proxyConsumer-in-0")))
}

func TestDLQMetrics_RecordPublishFailure(t *testing.T) {
	m := NewDLQMetrics(prometheus.NewRegistry())
	require.NoError(t, m.Register())

	m.RecordPublishFailure("error.dlt")

	metrics := m.GetDestinationMetrics("error.dlt")
	require.NotNil(t, metrics)
	assert.Equal(t, uint64(0), metrics.MessagesReceived)
	assert.Equal(t, uint64(1), metrics.PublishFailures)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishFailuresTotal.WithLabelValues("error.dlt")))
}

func TestDLQMetrics_Snapshot(t *testing.T) {
	m := NewDLQMetrics(prometheus.NewRegistry())
	require.NoError(t, m.Register())

	m.RecordDeadLetter("a.dlt", "one-in-0")
	m.RecordDeadLetter("b.dlt", "two-in-0")
	m.RecordPublishFailure("b.dlt")

	snapshot := m.GetSnapshot()
	assert.Equal(t, uint64(2), snapshot.TotalMessages)
	assert.Equal(t, uint64(1), snapshot.TotalPublishFailures)
	assert.Len(t, snapshot.Destinations, 2)
	assert.False(t, snapshot.CollectedAt.IsZero())

	snapshot.Destinations["a.dlt"].ByBinding["one-in-0"] = 99
	assert.Equal(t, uint64(1), m.GetDestinationMetrics("a.dlt").ByBinding["one-in-0"])
}

func TestDLQMetrics_UnknownDestination(t *testing.T) {
	m := NewDLQMetrics(prometheus.NewRegistry())
	assert.Nil(t, m.GetDestinationMetrics("missing"))
}

func TestDLQMetrics_Reset(t *testing.T) {
	m := NewDLQMetrics(prometheus.NewRegistry())
	require.NoError(t, m.Register())

	m.RecordDeadLetter("error.dlt", "proxyConsumer-in-0")
	m.Reset()

	assert.Nil(t, m.GetDestinationMetrics("error.dlt"))
	assert.Equal(t, uint64(0), m.GetSnapshot().TotalMessages)
}

func TestDLQMetrics_RegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDLQMetrics(reg)
	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	other := NewDLQMetrics(reg)
	require.NoError(t, other.Register())
}
