package http

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/streambridge/binder"
	"github.com/drblury/streambridge/binder/bindertest"
	"github.com/drblury/streambridge/health"
)

type serverSubscriber struct {
	bindertest.Subscriber
	starts atomic.Int32
}

func (s *serverSubscriber) StartHTTPServer() error {
	s.starts.Add(1)
	return nil
}

func stubFactories(t *testing.T, sub message.Subscriber) *http.PublisherConfig {
	t.Helper()
	origPub, origSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() { PublisherFactory, SubscriberFactory = origPub, origSub })

	var pubConfig http.PublisherConfig
	PublisherFactory = func(cfg http.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		pubConfig = cfg
		return &bindertest.Publisher{}, nil
	}
	SubscriberFactory = func(string, http.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
		return sub, nil
	}
	return &pubConfig
}

func TestRegister(t *testing.T) {
	original := binder.DefaultRegistry
	t.Cleanup(func() { binder.DefaultRegistry = original })
	binder.DefaultRegistry = binder.NewRegistry()
	Register()

	assert.True(t, binder.DefaultRegistry.Has(BinderName))
	assert.Equal(t, binder.HTTPCapabilities, Capabilities())
}

func TestTopicURL(t *testing.T) {
	assert.Equal(t, "http://svc/orders", TopicURL("http://svc/", "orders"))
	assert.Equal(t, "http://svc/orders", TopicURL("http://svc", "/orders"))
	assert.Equal(t, "orders", TopicURL("", "orders"))
}

func TestBuild(t *testing.T) {
	sub := &serverSubscriber{}
	pubConfig := stubFactories(t, sub)

	b, err := Build(context.Background(), &bindertest.Config{HTTPServerAddress: ":0", HTTPPublisherURL: "http://svc"}, watermill.NopLogger{})
	require.NoError(t, err)

	req, err := pubConfig.MarshalMessageFunc("orders", message.NewMessage("1", []byte("hello")))
	require.NoError(t, err)
	assert.Equal(t, "http://svc/orders", req.URL.String())
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	assert.Zero(t, sub.starts.Load())
	_, err = b.Subscriber.Subscribe(context.Background(), "/orders")
	require.NoError(t, err)
	_, err = b.Subscriber.Subscribe(context.Background(), "/payments")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return sub.starts.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"/orders", "/payments"}, sub.Topics)

	v := b.Health.Health(context.Background())
	assert.Equal(t, health.StatusUnknown, v.Status)

	dest, err := b.Provisioner.EnsureConsumerDestination(context.Background(), "/orders", "", binder.ConsumerProperties{})
	require.NoError(t, err)
	assert.Equal(t, "/orders", dest.Handle)

	require.NoError(t, b.Close())
}

func TestBuildErrors(t *testing.T) {
	t.Run("requires an address", func(t *testing.T) {
		_, err := Build(context.Background(), &bindertest.Config{}, watermill.NopLogger{})
		assert.Error(t, err)
	})

	t.Run("subscriber failure closes publisher", func(t *testing.T) {
		stubFactories(t, nil)
		pub := &bindertest.Publisher{}
		PublisherFactory = func(http.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) { return pub, nil }
		SubscriberFactory = func(string, http.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("listen error")
		}

		_, err := Build(context.Background(), &bindertest.Config{HTTPServerAddress: ":0"}, watermill.NopLogger{})
		assert.EqualError(t, err, "listen error")
		assert.True(t, pub.Closed)
	})
}
