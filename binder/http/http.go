// Package http provides the HTTP binder: watermill-http publishes by POSTing
// to a base URL and subscribes by serving one route per destination.
package http

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/streambridge/binder"
	"github.com/drblury/streambridge/health"
)

// BinderName is the name used to register this binder.
const BinderName = "http"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

func init() {
	Register()
}

// Register adds the HTTP binder to the default registry.
func Register() {
	binder.RegisterWithCapabilities(BinderName, Build, binder.HTTPCapabilities)
}

// Build creates the HTTP publisher and subscriber. The subscriber's server is
// started after the first Subscribe, once its route exists.
func Build(ctx context.Context, cfg binder.Config, logger watermill.LoggerAdapter) (*binder.Binder, error) {
	serverAddr := cfg.GetHTTPServerAddress()
	publisherURL := cfg.GetHTTPPublisherURL()
	if publisherURL == "" && serverAddr == "" {
		return nil, fmt.Errorf("http: server address or publisher url is required")
	}

	publisher, err := PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
				return http.DefaultMarshalMessageFunc(TopicURL(publisherURL, topic), msg)
			},
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	subscriber, err := SubscriberFactory(
		serverAddr,
		http.SubscriberConfig{
			UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return nil, err
	}

	return &binder.Binder{
		Name:        BinderName,
		Publisher:   publisher,
		Subscriber:  &serverStarter{Subscriber: subscriber, logger: logger},
		Provisioner: binder.NopProvisioner{},
		Topics:      binder.NewTopicRegistry(),
		Health: health.IndicatorFunc(func(context.Context) health.Verdict {
			return health.Unknown().With("binder", "HTTP destinations are not tracked")
		}),
	}, nil
}

// Capabilities returns the capabilities of this binder.
func Capabilities() binder.Capabilities {
	return binder.HTTPCapabilities
}

// TopicURL joins the publisher base URL and a destination with one slash.
func TopicURL(base, topic string) string {
	if base == "" {
		return topic
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(topic, "/")
}

type httpServer interface {
	StartHTTPServer() error
}

// serverStarter runs the watermill-http server once a route is registered.
type serverStarter struct {
	message.Subscriber
	logger watermill.LoggerAdapter
	once   sync.Once
}

func (s *serverStarter) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	messages, err := s.Subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	if server, ok := s.Subscriber.(httpServer); ok {
		s.once.Do(func() {
			go func() {
				if err := server.StartHTTPServer(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
					s.logger.Error("Failed to start HTTP subscriber server", err, nil)
				}
			}()
		})
	}
	return messages, nil
}
