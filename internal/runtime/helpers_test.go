package runtime

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"

	"github.com/drblury/streambridge/binder"
	"github.com/drblury/streambridge/binder/channel"
	configpkg "github.com/drblury/streambridge/internal/runtime/config"
	loggingpkg "github.com/drblury/streambridge/internal/runtime/logging"
)

func newTestSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(newTestSlogLogger())
}

// channelFactory builds the in-memory binder, optionally letting the test
// adjust it before the service uses it.
func channelFactory(adjust func(b *binder.Binder)) BinderFactory {
	return BinderFactoryFunc(func(ctx context.Context, cfg binder.Config, logger watermill.LoggerAdapter) (*binder.Binder, error) {
		b, err := channel.Build(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		if adjust != nil {
			adjust(b)
		}
		return b, nil
	})
}

func publisherConfig(destination string) *configpkg.Config {
	return &configpkg.Config{
		Binder:      channel.BinderName,
		RunningMode: configpkg.ModePublisher,
		Publisher:   configpkg.Publisher{Destination: destination},
	}
}

func subscriberConfig(destination, endpoint string) *configpkg.Config {
	return &configpkg.Config{
		Binder:      channel.BinderName,
		RunningMode: configpkg.ModeSubscriber,
		Subscriber: configpkg.Subscriber{
			Destination:       destination,
			InvokableEndpoint: endpoint,
		},
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     5 * time.Millisecond,
	}
}

func newChannelService(t *testing.T, cfg *configpkg.Config, deps ServiceDependencies) *Service {
	t.Helper()
	if deps.BinderFactory == nil {
		deps.BinderFactory = channelFactory(nil)
	}
	svc, err := TryNewService(cfg, newTestLogger(), context.Background(), deps)
	require.NoError(t, err)
	return svc
}

// startService runs svc without binding real ports and stops it when the
// test ends.
func startService(t *testing.T, svc *Service) {
	t.Helper()

	origServe := serveHTTP
	serveHTTP = func(ctx context.Context, _ *http.Server) error {
		<-ctx.Done()
		return nil
	}
	t.Cleanup(func() { serveHTTP = origServe })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Error("service did not stop")
		}
		_ = svc.Close()
	})

	select {
	case <-svc.Running():
	case err := <-done:
		t.Fatalf("service stopped before running: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}
}

// subscribe collects payloads published to topic on the service's binder.
func subscribe(t *testing.T, svc *Service, topic string) *collector {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	msgs, err := svc.binder.Subscriber.Subscribe(ctx, topic)
	require.NoError(t, err)

	c := &collector{}
	go func() {
		for msg := range msgs {
			c.add(msg)
			msg.Ack()
		}
	}()
	return c
}

type collector struct {
	mu       sync.Mutex
	messages []*message.Message
}

func (c *collector) add(msg *message.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

func (c *collector) Payloads() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	payloads := make([]string, len(c.messages))
	for i, msg := range c.messages {
		payloads[i] = string(msg.Payload)
	}
	return payloads
}

func (c *collector) Messages() []*message.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*message.Message(nil), c.messages...)
}

func (c *collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// endpoint records the requests the proxy consumer sends.
type endpoint struct {
	mu       sync.Mutex
	bodies   []string
	status   int
	response string
}

func (e *endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	e.mu.Lock()
	e.bodies = append(e.bodies, string(body))
	status, response := e.status, e.response
	e.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, response)
}

func (e *endpoint) Bodies() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.bodies...)
}

func (e *endpoint) Hits() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.bodies)
}

func publishRaw(t *testing.T, svc *Service, topic, payload string) {
	t.Helper()
	require.NoError(t, svc.binder.Publisher.Publish(topic, message.NewMessage(watermill.NewUUID(), []byte(payload))))
}

// flakyProvisioner fails with ErrBrokerUnavailable a fixed number of times.
type flakyProvisioner struct {
	inner    binder.Provisioner
	failures int
	err      error

	mu    sync.Mutex
	calls int
}

func (p *flakyProvisioner) attempt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return p.err
	}
	if p.calls <= p.failures {
		return binder.ErrBrokerUnavailable
	}
	return nil
}

func (p *flakyProvisioner) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *flakyProvisioner) EnsureProducerDestination(ctx context.Context, name string, props binder.ProducerProperties) (binder.Destination, error) {
	if err := p.attempt(); err != nil {
		return binder.Destination{}, err
	}
	return p.inner.EnsureProducerDestination(ctx, name, props)
}

func (p *flakyProvisioner) EnsureConsumerDestination(ctx context.Context, name, group string, props binder.ConsumerProperties) (binder.Destination, error) {
	if err := p.attempt(); err != nil {
		return binder.Destination{}, err
	}
	return p.inner.EnsureConsumerDestination(ctx, name, group, props)
}
