package health

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrProberClosed is returned in a DOWN verdict once the prober has stopped.
var ErrProberClosed = errors.New("streambridge: health prober closed")

// ProberOption customizes a Prober.
type ProberOption func(*Prober)

// WithTimeoutDetail sets the detail key reported when a probe times out. The
// value is the timeout in whole seconds, e.g. "5 seconds".
func WithTimeoutDetail(key string) ProberOption {
	return func(p *Prober) { p.timeoutDetail = key }
}

// WithName names the prober in HealthProbeError values.
func WithName(name string) ProberOption {
	return func(p *Prober) { p.name = name }
}

type probeRequest struct {
	ctx   context.Context
	reply chan Verdict
}

// Prober runs an indicator on one dedicated goroutine so at most one probe of
// the broker is in flight. Each probe is bounded by the timeout and by the
// caller's context; either expiring resolves to DOWN.
type Prober struct {
	inner         Indicator
	timeout       time.Duration
	name          string
	timeoutDetail string

	requests chan probeRequest
	stop     chan struct{}
	once     sync.Once
}

// NewProber starts the worker goroutine. A non-positive timeout disables the
// per-probe bound; the caller's context still applies.
func NewProber(inner Indicator, timeout time.Duration, opts ...ProberOption) *Prober {
	p := &Prober{
		inner:    inner,
		timeout:  timeout,
		requests: make(chan probeRequest),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.run()
	return p
}

func (p *Prober) run() {
	for {
		select {
		case <-p.stop:
			return
		case req := <-p.requests:
			req.reply <- p.probe(req.ctx)
		}
	}
}

func (p *Prober) probe(ctx context.Context) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			verdict = DownWithError(&HealthProbeError{Indicator: p.name, Err: fmt.Errorf("panic: %v", r)})
		}
	}()
	return p.inner.Health(ctx)
}

// Health submits a probe to the worker and waits for it, the timeout, or ctx.
// An abandoned probe keeps running on the worker; the next caller queues
// behind it.
func (p *Prober) Health(ctx context.Context) Verdict {
	select {
	case <-p.stop:
		return DownWithError(&HealthProbeError{Indicator: p.name, Err: ErrProberClosed})
	default:
	}
	if err := ctx.Err(); err != nil {
		return p.expired(err)
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	req := probeRequest{ctx: ctx, reply: make(chan Verdict, 1)}
	select {
	case p.requests <- req:
	case <-p.stop:
		return DownWithError(&HealthProbeError{Indicator: p.name, Err: ErrProberClosed})
	case <-ctx.Done():
		return p.expired(ctx.Err())
	}

	select {
	case verdict := <-req.reply:
		return verdict
	case <-ctx.Done():
		return p.expired(ctx.Err())
	}
}

func (p *Prober) expired(err error) Verdict {
	if errors.Is(err, context.DeadlineExceeded) && p.timeoutDetail != "" {
		seconds := int(math.Ceil(p.timeout.Seconds()))
		return Down().With(p.timeoutDetail, fmt.Sprintf("%d seconds", seconds))
	}
	return DownWithError(&HealthProbeError{Indicator: p.name, Err: err})
}

// Close stops the worker. A probe that is still running finishes in the
// background.
func (p *Prober) Close() error {
	p.once.Do(func() { close(p.stop) })
	return nil
}
