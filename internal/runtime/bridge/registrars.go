package bridge

import (
	"errors"
	"strings"

	"github.com/drblury/streambridge/internal/runtime/binding"
	configpkg "github.com/drblury/streambridge/internal/runtime/config"
	errspkg "github.com/drblury/streambridge/internal/runtime/errors"
)

var errBlank = errors.New("must not be blank")

// SinkRegistrar binds the proxy consumer in SUBSCRIBER and
// SUBSCRIBER_PUBLISHER modes.
type SinkRegistrar struct {
	// Requester overrides the HTTP request function built from config.
	Requester Requester
}

func (r *SinkRegistrar) Register(rc *binding.Context) error {
	cfg := rc.Config
	if !cfg.RunningMode.IsSubscriber() {
		return nil
	}
	sub := cfg.Subscriber
	if strings.TrimSpace(sub.Destination) == "" {
		return errspkg.NewConfigurationError("subscriber.destination", errBlank)
	}
	if strings.TrimSpace(sub.InvokableEndpoint) == "" {
		return errspkg.NewConfigurationError("subscriber.invokable-endpoint", errspkg.ErrEndpointRequired)
	}

	if err := rc.Bindings.Set(ProxyConsumerInput, binding.Properties{
		Destination:    sub.Destination,
		Group:          sub.Group,
		Retries:        sub.RetriesOnError,
		DLTDestination: sub.DLTDestination,
	}); err != nil {
		return err
	}
	if sub.SendToDestination != "" {
		if err := rc.Bindings.Set(SendToBinding, binding.Properties{Destination: sub.SendToDestination}); err != nil {
			return err
		}
	}

	requester := r.Requester
	if requester == nil {
		requester = NewHTTPRequester(cfg.RequestTimeout, cfg.RequestContentType)
	}
	forward := cfg.RunningMode == configpkg.ModeSubscriberPublisher && sub.SendToDestination != ""
	consumer := NewProxyConsumer(sub.InvokableEndpoint, requester, rc.Sender, forward)
	return rc.Functions.Register(consumer.Function())
}

// SourceRegistrar binds the HTTP supplier in PUBLISHER mode and mounts its
// route on the bridge port.
type SourceRegistrar struct{}

func (SourceRegistrar) Register(rc *binding.Context) error {
	cfg := rc.Config
	if cfg.RunningMode != configpkg.ModePublisher {
		return nil
	}
	if strings.TrimSpace(cfg.Publisher.Destination) == "" {
		return errspkg.NewConfigurationError("publisher.destination", errBlank)
	}

	if err := rc.Bindings.Set(HTTPSupplierOutput, binding.Properties{Destination: cfg.Publisher.Destination}); err != nil {
		return err
	}

	supplier := NewHTTPSupplier(SupplierOptions{
		PathPattern:   cfg.HTTPPathPattern,
		MappedHeaders: cfg.HTTPMappedRequestHeaders,
		CORS:          cfg.HTTPCORS,
	}, rc.Logger)
	if rc.HTTP != nil {
		rc.HTTP.RegisterHTTPHandler(cfg.HTTPPort, "/*", supplier.Handler())
	}
	return rc.Functions.Register(supplier.Function())
}
