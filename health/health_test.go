package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetailsMarshalJSONKeepsOrder(t *testing.T) {
	v := Up().With("topicsInUse", []string{"orders", "payments"}).With("error", errors.New("boom"))

	data, err := v.Details.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"topicsInUse":["orders","payments"],"error":"boom"}`, string(data))

	value, ok := v.Details.Get("topicsInUse")
	require.True(t, ok)
	assert.Equal(t, []string{"orders", "payments"}, value)
}

func TestVerdictWithDoesNotShareDetails(t *testing.T) {
	base := Up().With("a", 1)
	left := base.With("b", 2)
	right := base.With("c", 3)

	assert.Len(t, base.Details, 1)
	_, ok := left.Details.Get("c")
	assert.False(t, ok)
	_, ok = right.Details.Get("b")
	assert.False(t, ok)
}

func TestDownWithErrorCarriesError(t *testing.T) {
	boom := errors.New("boom")
	v := DownWithError(boom)
	assert.Equal(t, StatusDown, v.Status)
	assert.Same(t, boom, v.Err())
	assert.Nil(t, Up().Err())
}

func TestHealthProbeErrorUnwraps(t *testing.T) {
	err := &HealthProbeError{Indicator: "kafka", Err: context.DeadlineExceeded}
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "kafka")
}

func TestAggregate(t *testing.T) {
	assert.Equal(t, StatusUnknown, Aggregate())
	assert.Equal(t, StatusUnknown, Aggregate(Unknown(), Unknown()))
	assert.Equal(t, StatusUp, Aggregate(Unknown(), Up()))
	assert.Equal(t, StatusDown, Aggregate(Up(), Down(), Unknown()))
}

func TestCompositeNestsFacets(t *testing.T) {
	c := NewComposite()
	c.Register("binder", IndicatorFunc(func(context.Context) Verdict { return Up().With("topicsInUse", []string{"orders"}) }))
	c.Register("listeners", IndicatorFunc(func(context.Context) Verdict { return Unknown() }))
	c.Register("ignored", nil)

	v := c.Health(context.Background())
	assert.Equal(t, StatusUp, v.Status)
	assert.Equal(t, []string{"binder", "listeners"}, c.Names())

	facet, ok := v.Details.Get("binder")
	require.True(t, ok)
	assert.Equal(t, StatusUp, facet.(Verdict).Status)

	c.Register("listeners", IndicatorFunc(func(context.Context) Verdict { return Down() }))
	assert.Equal(t, StatusDown, c.Health(context.Background()).Status)
	assert.Len(t, c.Names(), 2)
}

func TestProberReturnsIndicatorVerdict(t *testing.T) {
	p := NewProber(IndicatorFunc(func(context.Context) Verdict { return Up() }), time.Second)
	t.Cleanup(func() { _ = p.Close() })

	assert.Equal(t, StatusUp, p.Health(context.Background()).Status)
}

func TestProberTimeoutReportsDetail(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	slow := IndicatorFunc(func(ctx context.Context) Verdict {
		<-release
		return Up()
	})
	p := NewProber(slow, 20*time.Millisecond, WithTimeoutDetail("Failed to retrieve partition information in"))
	t.Cleanup(func() { _ = p.Close() })

	v := p.Health(context.Background())
	assert.Equal(t, StatusDown, v.Status)
	value, ok := v.Details.Get("Failed to retrieve partition information in")
	require.True(t, ok)
	assert.Equal(t, "1 seconds", value)
}

func TestProberCallerCancellation(t *testing.T) {
	p := NewProber(IndicatorFunc(func(ctx context.Context) Verdict {
		<-ctx.Done()
		return Up()
	}), 0, WithName("kafka"))
	t.Cleanup(func() { _ = p.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := p.Health(ctx)
	assert.Equal(t, StatusDown, v.Status)
	var probeErr *HealthProbeError
	require.ErrorAs(t, v.Err(), &probeErr)
	assert.ErrorIs(t, probeErr, context.Canceled)
}

func TestProberRecoversPanics(t *testing.T) {
	p := NewProber(IndicatorFunc(func(context.Context) Verdict { panic("metadata exploded") }), time.Second)
	t.Cleanup(func() { _ = p.Close() })

	v := p.Health(context.Background())
	assert.Equal(t, StatusDown, v.Status)
	assert.Contains(t, v.Err().Error(), "metadata exploded")

	// the worker survives the panic
	assert.Equal(t, StatusDown, p.Health(context.Background()).Status)
}

func TestProberRunsOneProbeAtATime(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	p := NewProber(IndicatorFunc(func(context.Context) Verdict {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return Up()
	}), time.Second)
	t.Cleanup(func() { _ = p.Close() })

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			p.Health(context.Background())
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestProberClosed(t *testing.T) {
	p := NewProber(IndicatorFunc(func(context.Context) Verdict { return Up() }), time.Second)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	v := p.Health(context.Background())
	assert.Equal(t, StatusDown, v.Status)
	assert.ErrorIs(t, v.Err(), ErrProberClosed)
}

type fakeListener struct {
	id, group   string
	running, ok bool
	paused      bool
}

func (f fakeListener) ListenerID() string      { return f.id }
func (f fakeListener) GroupID() string         { return f.group }
func (f fakeListener) IsRunning() bool         { return f.running }
func (f fakeListener) IsInExpectedState() bool { return f.ok }
func (f fakeListener) IsPaused() bool          { return f.paused }

func listenerSource(ls ...Listener) ListenerSource {
	return func() []Listener { return ls }
}

func TestListenerIndicatorNoListeners(t *testing.T) {
	v := NewListenerIndicator(listenerSource()).Health(context.Background())
	assert.Equal(t, StatusUnknown, v.Status)
	assert.Empty(t, v.Details)

	assert.Equal(t, StatusUnknown, NewListenerIndicator(nil).Health(context.Background()).Status)
}

func TestListenerIndicatorUp(t *testing.T) {
	v := NewListenerIndicator(listenerSource(
		fakeListener{id: "proxyConsumer-in-0", group: "billing", running: true, ok: true},
		fakeListener{id: "audit-in-0", running: false, ok: true, paused: true},
	)).Health(context.Background())

	assert.Equal(t, StatusUp, v.Status)
	value, ok := v.Details.Get("listenerContainers")
	require.True(t, ok)
	states := value.([]ListenerState)
	require.Len(t, states, 2)
	assert.Equal(t, ListenerState{IsRunning: true, ListenerID: "proxyConsumer-in-0", GroupID: "billing"}, states[0])
	assert.False(t, states[1].IsStoppedAbnormally)
	assert.True(t, states[1].IsPaused)
}

func TestListenerIndicatorDownWhenNotInExpectedState(t *testing.T) {
	v := NewListenerIndicator(listenerSource(
		fakeListener{id: "a", running: true, ok: true},
		fakeListener{id: "b", running: false, ok: false},
	)).Health(context.Background())

	assert.Equal(t, StatusDown, v.Status)
	value, _ := v.Details.Get("listenerContainers")
	states := value.([]ListenerState)
	assert.True(t, states[1].IsStoppedAbnormally)
	assert.False(t, states[0].IsStoppedAbnormally)
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, component string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "streambridge_health_status" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "component" && label.GetValue() == component {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("no gauge for component %q", component)
	return 0
}

func TestStatusGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	gauge, err := NewStatusGauge(reg)
	require.NoError(t, err)

	again, err := NewStatusGauge(reg)
	require.NoError(t, err)
	assert.NotNil(t, again)

	c := NewComposite()
	c.Register("binder", IndicatorFunc(func(context.Context) Verdict { return Down() }))
	c.Register("listeners", IndicatorFunc(func(context.Context) Verdict { return Unknown() }))

	v := gauge.Instrument(c).Health(context.Background())
	assert.Equal(t, StatusDown, v.Status)

	assert.Equal(t, float64(0), gaugeValue(t, reg, "overall"))
	assert.Equal(t, float64(0), gaugeValue(t, reg, "binder"))
	assert.Equal(t, float64(-1), gaugeValue(t, reg, "listeners"))

	again.Observe("binder", StatusUp)
	assert.Equal(t, float64(1), gaugeValue(t, reg, "binder"))
}
