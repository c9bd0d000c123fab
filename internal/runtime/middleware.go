package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/drblury/streambridge/internal/runtime/binding"
	idspkg "github.com/drblury/streambridge/internal/runtime/ids"
	loggingpkg "github.com/drblury/streambridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/streambridge/internal/runtime/metadata"
)

// MiddlewareBuilder constructs a handler middleware using the provided service instance.
type MiddlewareBuilder func(*Service) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a router-level middleware is registered.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// ErrorHandler observes a message whose delivery failed after every retry,
// before it is dead-lettered.
type ErrorHandler func(ctx context.Context, binding string, msg *message.Message, err error)

// RetryMiddlewareConfig customises the retry middleware behaviour.
type RetryMiddlewareConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	RetryIf         func(error) bool
}

func (cfg RetryMiddlewareConfig) withDefaults() RetryMiddlewareConfig {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 10 * time.Second
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = cfg.InitialInterval
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2
	}
	return cfg
}

// DefaultMiddlewares returns the router-level chain applied to every binding.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
	}
}

// MetricsMiddleware adds watermill's Prometheus router metrics when metrics
// are enabled.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if !s.Conf.MetricsEnabled {
				return nil, nil
			}
			metricsBuilder := metrics.NewPrometheusMetricsBuilder(s.registerer, "streambridge", s.Conf.Binder)
			metricsBuilder.AddPrometheusRouterMetrics(s.router)
			return nil, nil
		},
	}
}

// CorrelationIDMiddleware ensures each processed message carries a correlation identifier.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return correlationIDMiddleware, nil
		},
	}
}

// LogMessagesMiddleware logs the payload and metadata of handled messages at debug level.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return logMessagesMiddleware(l), nil
		},
	}
}

// TracerMiddleware wraps handler execution in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "tracer",
		Middleware: tracerMiddleware,
	}
}

// RegisterMiddleware attaches the supplied middleware to the router.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if s.router == nil {
		return errors.New("router is not initialised")
	}

	var mw message.HandlerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	s.router.AddMiddleware(mw)
	return nil
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

// bindingMiddlewares builds the per-binding chain, outermost first:
// dead-letter, error handler, retry, recoverer, pause gate.
func (s *Service) bindingMiddlewares(name string, props binding.Properties, container *listenerContainer) ([]message.HandlerMiddleware, error) {
	var chain []message.HandlerMiddleware
	if props.DLTDestination != "" {
		deadLetter, err := s.deadLetterMiddleware(name, props.DLTDestination)
		if err != nil {
			return nil, err
		}
		chain = append(chain, deadLetter)
	}
	chain = append(chain, s.errorHandlerMiddleware(name))
	if props.Retries > 0 {
		chain = append(chain, s.retryMiddlewareWithConfig(RetryMiddlewareConfig{
			MaxRetries:      props.Retries,
			InitialInterval: s.Conf.RetryInitialInterval,
			MaxInterval:     s.Conf.RetryMaxInterval,
			RetryIf:         isRedeliverable,
		}))
	}
	chain = append(chain, middleware.Recoverer, container.gate)
	return chain, nil
}

// deadLetterMiddleware publishes messages that still fail after retries to
// dlt and acknowledges them. If publishing fails the message is nacked.
func (s *Service) deadLetterMiddleware(bindingName, dlt string) (message.HandlerMiddleware, error) {
	if s.binder == nil || s.binder.Publisher == nil {
		return nil, errors.New("publisher is required for dead-letter middleware")
	}
	poison, err := middleware.PoisonQueueWithFilter(s.binder.Publisher, dlt, isRedeliverable)
	if err != nil {
		return nil, err
	}

	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			var failure error
			tracked := func(msg *message.Message) ([]*message.Message, error) {
				msgs, err := h(msg)
				if err != nil && isRedeliverable(err) {
					failure = err
				}
				return msgs, err
			}

			msgs, err := poison(tracked)(msg)
			switch {
			case failure == nil:
			case err == nil:
				s.dlq.RecordDeadLetter(dlt, bindingName)
				s.Logger.Info("Message sent to dead-letter destination", loggingpkg.LogFields{
					"binding":      bindingName,
					"destination":  dlt,
					"message_uuid": msg.UUID,
					"reason":       failure.Error(),
				})
			default:
				s.dlq.RecordPublishFailure(dlt)
				s.Logger.Error("Failed to publish message to dead-letter destination", err, loggingpkg.LogFields{
					"binding":      bindingName,
					"destination":  dlt,
					"message_uuid": msg.UUID,
				})
			}
			return msgs, err
		}
	}, nil
}

func (s *Service) errorHandlerMiddleware(bindingName string) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			msgs, err := h(msg)
			if err != nil && isRedeliverable(err) && s.errorHandler != nil {
				s.errorHandler(msg.Context(), bindingName, msg, err)
			}
			return msgs, err
		}
	}
}

func (s *Service) retryMiddlewareWithConfig(cfg RetryMiddlewareConfig) message.HandlerMiddleware {
	normalized := cfg.withDefaults()
	return middleware.Retry{
		MaxRetries:      normalized.MaxRetries,
		InitialInterval: normalized.InitialInterval,
		MaxInterval:     normalized.MaxInterval,
		Multiplier:      normalized.Multiplier,
		Logger:          s.wmLogger,
		ShouldRetry: func(params middleware.RetryParams) bool {
			if normalized.RetryIf != nil {
				return normalized.RetryIf(params.Err)
			}
			return true
		},
	}.Middleware
}

// correlationIDMiddleware injects a correlation ID into the message metadata when missing.
func correlationIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if msg.Metadata.Get(metadatapkg.KeyCorrelationID) == "" {
			msg.Metadata.Set(metadatapkg.KeyCorrelationID, idspkg.NewCorrelationID())
		}
		return h(msg)
	}
}

func logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing message", loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"payload":      string(msg.Payload),
				"metadata":     msg.Metadata,
			})
			return h(msg)
		}
	}
}

// tracerMiddleware wraps message handling with an OpenTelemetry span.
func tracerMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		tracer := otel.Tracer("streambridge")
		ctx, span := tracer.Start(msg.Context(), "ProcessMessage")
		defer span.End()
		msg.SetContext(ctx)

		span.SetAttributes(
			attribute.String("message.uuid", msg.UUID),
			attribute.String("message.handler", message.HandlerNameFromCtx(ctx)),
			attribute.String("message.topic", message.SubscribeTopicFromCtx(ctx)),
		)
		msgs, err := h(msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return msgs, err
	}
}
