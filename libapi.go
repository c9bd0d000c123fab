package streambridge

import (
	"context"

	"github.com/drblury/streambridge/binder"
	"github.com/drblury/streambridge/health"
	runtimepkg "github.com/drblury/streambridge/internal/runtime"
	bindingpkg "github.com/drblury/streambridge/internal/runtime/binding"
	bridgepkg "github.com/drblury/streambridge/internal/runtime/bridge"
	configpkg "github.com/drblury/streambridge/internal/runtime/config"
	errspkg "github.com/drblury/streambridge/internal/runtime/errors"
	idspkg "github.com/drblury/streambridge/internal/runtime/ids"
	jsoncodec "github.com/drblury/streambridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/streambridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/streambridge/internal/runtime/metadata"
	"google.golang.org/protobuf/proto"
)

type (
	Config              = configpkg.Config
	PublisherConfig     = configpkg.Publisher
	SubscriberConfig    = configpkg.Subscriber
	RunningMode         = configpkg.RunningMode
	TransportMode       = configpkg.TransportMode
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	BinderFactory       = runtimepkg.BinderFactory
	BinderFactoryFunc   = runtimepkg.BinderFactoryFunc
	ErrorHandler        = runtimepkg.ErrorHandler

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig  = runtimepkg.RetryMiddlewareConfig

	Binder             = binder.Binder
	Provisioner        = binder.Provisioner
	Destination        = binder.Destination
	ProvisioningError  = binder.ProvisioningError
	TopicInformation   = binder.TopicInformation
	ProducerProperties = binder.ProducerProperties
	ConsumerProperties = binder.ConsumerProperties

	Function          = bindingpkg.Function
	BindingProperties = bindingpkg.Properties
	Registrar         = bindingpkg.Registrar
	RegistrarFunc     = bindingpkg.RegistrarFunc
	RegistrarContext  = bindingpkg.Context
	Codec[T any]      = bindingpkg.Codec[T]
	Input[T any]      = bindingpkg.Input[T]
	Output[T any]     = bindingpkg.Output[T]
	BytesCodec        = bindingpkg.BytesCodec
	StringCodec       = bindingpkg.StringCodec

	Requester     = bridgepkg.Requester
	RequesterFunc = bridgepkg.RequesterFunc

	HealthStatus    = health.Status
	HealthVerdict   = health.Verdict
	HealthIndicator = health.Indicator

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	BindingView          = runtimepkg.BindingView
	BindingStatsSnapshot = runtimepkg.BindingStatsSnapshot
	DLQMetrics           = runtimepkg.DLQMetrics
	DLQMetricsSnapshot   = runtimepkg.DLQMetricsSnapshot
	ErrorClassifier      = runtimepkg.ErrorClassifier
	ErrorCategory        = runtimepkg.ErrorCategory

	ConfigurationError = errspkg.ConfigurationError
	DeliveryError      = errspkg.DeliveryError
)

const (
	ModePublisher           = configpkg.ModePublisher
	ModeSubscriber          = configpkg.ModeSubscriber
	ModeSubscriberPublisher = configpkg.ModeSubscriberPublisher

	StatusUp      = health.StatusUp
	StatusDown    = health.StatusDown
	StatusUnknown = health.StatusUnknown

	ErrorCategoryNone       = runtimepkg.ErrorCategoryNone
	ErrorCategoryTransport  = runtimepkg.ErrorCategoryTransport
	ErrorCategoryDownstream = runtimepkg.ErrorCategoryDownstream
	ErrorCategoryOther      = runtimepkg.ErrorCategoryOther

	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyRequestMethod = metadatapkg.KeyRequestMethod
	MetadataKeyBinding       = metadatapkg.KeyBinding
	MetadataKeyDestination   = metadatapkg.KeyDestination
)

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	ValidateConfig = configpkg.ValidateConfig
	LoadConfig     = configpkg.Load

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware

	NewDLQMetrics = runtimepkg.NewDLQMetrics

	Idempotent     = binder.Idempotent
	RegisterBinder = binder.Register

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode
	Decode    = jsoncodec.Decode

	ErrConfigRequired      = errspkg.ErrConfigRequired
	ErrLoggerRequired      = errspkg.ErrLoggerRequired
	ErrBinderRequired      = errspkg.ErrBinderRequired
	ErrBindingNameRequired = errspkg.ErrBindingNameRequired
	ErrBindingNotFound     = errspkg.ErrBindingNotFound
	ErrBrokerUnavailable   = binder.ErrBrokerUnavailable
	ErrPartitionConflict   = binder.ErrPartitionConflict
	ErrInvalidDestination  = binder.ErrInvalidDestination
	ErrDestinationNotFound = binder.ErrDestinationNotFound
	IsConfigurationError   = errspkg.IsConfigurationError

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewZapServiceLogger  = loggingpkg.NewZapServiceLogger

	NewMessageID = idspkg.NewMessageID
)

// NewConsumer declares a function bound to one input and no output.
func NewConsumer[I any](name string, codec Codec[I], fn func(ctx context.Context, in Input[I]) error) *Function {
	return bindingpkg.NewConsumer(name, codec, fn)
}

// NewFunction declares a function bound to one input and one output.
func NewFunction[I, O any](name string, in Codec[I], out Codec[O], fn func(ctx context.Context, in Input[I]) ([]Output[O], error)) *Function {
	return bindingpkg.NewFunction(name, in, out, fn)
}

// NewSupplier declares a function bound to one output and no input.
func NewSupplier[O any](name string, codec Codec[O], run func(ctx context.Context, emit func(ctx context.Context, out Output[O]) error) error) *Function {
	return bindingpkg.NewSupplier(name, codec, run)
}

// JSONCodec returns a codec that encodes T as JSON.
func JSONCodec[T any]() Codec[T] {
	return bindingpkg.JSONCodec[T]{}
}

// ProtoCodec returns a codec that encodes T with protojson.
func ProtoCodec[T proto.Message]() Codec[T] {
	return bindingpkg.ProtoCodec[T]{}
}
