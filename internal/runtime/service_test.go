package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/streambridge/binder"
	"github.com/drblury/streambridge/binder/bindertest"
	"github.com/drblury/streambridge/binder/channel"
	"github.com/drblury/streambridge/internal/runtime/binding"
	"github.com/drblury/streambridge/internal/runtime/bridge"
	configpkg "github.com/drblury/streambridge/internal/runtime/config"
	errspkg "github.com/drblury/streambridge/internal/runtime/errors"
	metadatapkg "github.com/drblury/streambridge/internal/runtime/metadata"
)

func TestTryNewServiceRejectsInvalidConfig(t *testing.T) {
	built := false
	cfg := &configpkg.Config{
		Binder:      channel.BinderName,
		RunningMode: configpkg.ModeSubscriberPublisher,
		Subscriber: configpkg.Subscriber{
			Destination:       "orders",
			InvokableEndpoint: "http://localhost:9000",
		},
	}

	_, err := TryNewService(cfg, newTestLogger(), context.Background(), ServiceDependencies{
		BinderFactory: BinderFactoryFunc(func(context.Context, binder.Config, watermill.LoggerAdapter) (*binder.Binder, error) {
			built = true
			return nil, errors.New("unexpected")
		}),
	})

	require.Error(t, err)
	assert.True(t, errspkg.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "send-to-destination")
	assert.False(t, built, "binder must not be built for an invalid config")
}

func TestTryNewServiceRequiresConfigAndLogger(t *testing.T) {
	_, err := TryNewService(nil, newTestLogger(), context.Background(), ServiceDependencies{})
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)

	_, err = TryNewService(publisherConfig("orders"), nil, context.Background(), ServiceDependencies{})
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)
}

func TestTryNewServiceBinderFailure(t *testing.T) {
	boom := errors.New("dial failed")
	_, err := TryNewService(publisherConfig("orders"), newTestLogger(), context.Background(), ServiceDependencies{
		BinderFactory: BinderFactoryFunc(func(context.Context, binder.Config, watermill.LoggerAdapter) (*binder.Binder, error) {
			return nil, boom
		}),
	})
	assert.ErrorIs(t, err, boom)
}

func TestTryNewServiceRequiresPubSub(t *testing.T) {
	_, err := TryNewService(publisherConfig("orders"), newTestLogger(), context.Background(), ServiceDependencies{
		BinderFactory: BinderFactoryFunc(func(context.Context, binder.Config, watermill.LoggerAdapter) (*binder.Binder, error) {
			return &binder.Binder{Name: "empty"}, nil
		}),
	})
	assert.ErrorIs(t, err, errspkg.ErrBinderRequired)
}

func TestTryNewServiceAppliesDefaults(t *testing.T) {
	cfg := publisherConfig("orders")
	svc := newChannelService(t, cfg, ServiceDependencies{})
	t.Cleanup(func() { _ = svc.Close() })

	assert.Equal(t, configpkg.DefaultHTTPPort, svc.Conf.HTTPPort)
	assert.Equal(t, configpkg.DefaultManagementPort, svc.Conf.ManagementPort)
	assert.Zero(t, cfg.HTTPPort, "caller config must not be mutated")
	assert.NotNil(t, svc.router)
	assert.Len(t, svc.lifecycles, 2)
	for _, lc := range svc.lifecycles {
		assert.Equal(t, binding.StateConfigured, lc.State())
	}
}

func TestNewServicePanicsOnMiddlewareBuilderError(t *testing.T) {
	badMiddleware := MiddlewareRegistration{
		Name: "bad",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return nil, errors.New("boom")
		},
	}

	assert.Panics(t, func() {
		NewService(publisherConfig("orders"), newTestLogger(), context.Background(), ServiceDependencies{
			BinderFactory: channelFactory(nil),
			Middlewares:   []MiddlewareRegistration{badMiddleware},
		})
	})
}

func TestServiceWrapsProvisionerIdempotently(t *testing.T) {
	inner := channel.NewMemoryProvisioner(binder.NewTopicRegistry())
	svc := newChannelService(t, publisherConfig("orders"), ServiceDependencies{
		BinderFactory: channelFactory(func(b *binder.Binder) { b.Provisioner = inner }),
	})
	t.Cleanup(func() { _ = svc.Close() })

	require.IsType(t, &binder.IdempotentProvisioner{}, svc.provisioner)
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Send(context.Background(), "audit", []byte("x"), nil))
	}
	assert.Equal(t, 1, inner.Creations("audit"))
}

func TestIdempotentProvisionerIsNotWrappedTwice(t *testing.T) {
	wrapped := binder.Idempotent(binder.NopProvisioner{})
	assert.Same(t, wrapped, idempotentProvisioner(wrapped))
	assert.IsType(t, &binder.IdempotentProvisioner{}, idempotentProvisioner(nil))
}

func TestSendRequiresBindingName(t *testing.T) {
	svc := newChannelService(t, publisherConfig("orders"), ServiceDependencies{})
	t.Cleanup(func() { _ = svc.Close() })

	err := svc.Send(context.Background(), " ", []byte("x"), nil)
	assert.ErrorIs(t, err, errspkg.ErrBindingNameRequired)
}

func TestSendUsesBindingDestination(t *testing.T) {
	pub := &bindertest.Publisher{}
	svc := newChannelService(t, publisherConfig("orders"), ServiceDependencies{
		BinderFactory: channelFactory(func(b *binder.Binder) { b.Publisher = pub }),
	})
	t.Cleanup(func() { _ = svc.Close() })
	require.NoError(t, svc.bindings.Set(bridge.SendToBinding, binding.Properties{Destination: "results"}))

	err := svc.Send(context.Background(), bridge.SendToBinding, []byte("ok"), metadatapkg.Metadata{"k": "v"})
	require.NoError(t, err)
	require.NoError(t, svc.Send(context.Background(), "unbound", []byte("x"), nil))

	results := pub.Messages("results")
	require.Len(t, results, 1)
	assert.Equal(t, "ok", string(results[0].Payload))
	assert.Equal(t, "v", results[0].Metadata.Get("k"))
	assert.Equal(t, bridge.SendToBinding, results[0].Metadata.Get(metadatapkg.KeyBinding))
	assert.Equal(t, "results", results[0].Metadata.Get(metadatapkg.KeyDestination))
	assert.NotEmpty(t, results[0].UUID)
	assert.Len(t, pub.Messages("unbound"), 1)
}

func TestSendPublishFailure(t *testing.T) {
	pub := &bindertest.Publisher{Err: errors.New("broker gone")}
	svc := newChannelService(t, publisherConfig("orders"), ServiceDependencies{
		BinderFactory: channelFactory(func(b *binder.Binder) { b.Publisher = pub }),
	})
	t.Cleanup(func() { _ = svc.Close() })

	err := svc.Send(context.Background(), "audit", []byte("x"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker gone")
}

func TestProvisionRetriesWhileBrokerUnavailable(t *testing.T) {
	var flaky *flakyProvisioner
	cfg := publisherConfig("orders")
	cfg.ProvisioningInitialInterval = 1
	svc := newChannelService(t, cfg, ServiceDependencies{
		BinderFactory: channelFactory(func(b *binder.Binder) {
			flaky = &flakyProvisioner{inner: b.Provisioner, failures: 2}
			b.Provisioner = flaky
		}),
	})
	t.Cleanup(func() { _ = svc.Close() })

	require.NoError(t, svc.Send(context.Background(), "audit", []byte("x"), nil))
	assert.Equal(t, 3, flaky.Calls())
}

func TestProvisionGivesUpAfterMaxRetries(t *testing.T) {
	var flaky *flakyProvisioner
	cfg := publisherConfig("orders")
	cfg.ProvisioningInitialInterval = 1
	cfg.ProvisioningMaxRetries = 2
	svc := newChannelService(t, cfg, ServiceDependencies{
		BinderFactory: channelFactory(func(b *binder.Binder) {
			flaky = &flakyProvisioner{inner: b.Provisioner, failures: 10}
			b.Provisioner = flaky
		}),
	})
	t.Cleanup(func() { _ = svc.Close() })

	err := svc.Send(context.Background(), "audit", []byte("x"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, binder.ErrBrokerUnavailable)
	var pe *binder.ProvisioningError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "audit", pe.Destination)
	assert.Equal(t, binder.KindProducer, pe.Kind)
	assert.Equal(t, 3, flaky.Calls())
}

func TestProvisionDoesNotRetryPermanentErrors(t *testing.T) {
	var flaky *flakyProvisioner
	svc := newChannelService(t, publisherConfig("orders"), ServiceDependencies{
		BinderFactory: channelFactory(func(b *binder.Binder) {
			flaky = &flakyProvisioner{inner: b.Provisioner, err: binder.ErrPartitionConflict}
			b.Provisioner = flaky
		}),
	})
	t.Cleanup(func() { _ = svc.Close() })

	err := svc.Send(context.Background(), "audit", []byte("x"), nil)
	assert.ErrorIs(t, err, binder.ErrPartitionConflict)
	assert.Equal(t, 1, flaky.Calls())
}

func TestStartFailsWhenProvisioningFails(t *testing.T) {
	svc := newChannelService(t, publisherConfig("orders"), ServiceDependencies{
		BinderFactory: channelFactory(func(b *binder.Binder) {
			b.Provisioner = &flakyProvisioner{inner: b.Provisioner, err: binder.ErrInvalidDestination}
		}),
	})
	t.Cleanup(func() { _ = svc.Close() })

	err := svc.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, binder.ErrInvalidDestination)
	assert.Contains(t, err.Error(), bridge.HTTPSupplierName)
}

func TestStartFailsOnRegistrarConfigurationError(t *testing.T) {
	svc := newChannelService(t, publisherConfig("orders"), ServiceDependencies{
		Registrars: []binding.Registrar{binding.RegistrarFunc(func(rc *binding.Context) error {
			return errspkg.NewConfigurationError("custom.destination", errors.New("must not be blank"))
		})},
	})
	t.Cleanup(func() { _ = svc.Close() })

	err := svc.Start(context.Background())
	assert.True(t, errspkg.IsConfigurationError(err))
	assert.Equal(t, binding.StateConfigured, svc.lifecycles[2].State())
	assert.Equal(t, binding.StateBound, svc.lifecycles[0].State())
}

func TestBindFunctionRejectsUnsupportedArity(t *testing.T) {
	svc := newChannelService(t, publisherConfig("orders"), ServiceDependencies{})
	t.Cleanup(func() { _ = svc.Close() })

	err := svc.bindFunction(context.Background(), &binding.Function{Name: "multi", Arity: binding.Arity{Inputs: 2, Outputs: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2/1")
}

func TestHealthIsInstrumentedWhenMetricsEnabled(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := publisherConfig("orders")
	cfg.MetricsEnabled = true
	svc := newChannelService(t, cfg, ServiceDependencies{MetricsRegistry: reg})
	t.Cleanup(func() { _ = svc.Close() })

	verdict := svc.Health(context.Background())
	_, hasBinder := verdict.Details.Get(channel.BinderName)
	_, hasListeners := verdict.Details.Get("listeners")
	assert.True(t, hasBinder)
	assert.True(t, hasListeners)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "streambridge_health_status")
}

func TestCloseReleasesBinder(t *testing.T) {
	pub := &bindertest.Publisher{}
	sub := &bindertest.Subscriber{}
	svc := newChannelService(t, publisherConfig("orders"), ServiceDependencies{
		BinderFactory: channelFactory(func(b *binder.Binder) {
			b.Publisher = pub
			b.Subscriber = sub
		}),
	})

	require.NoError(t, svc.Close())
	assert.True(t, pub.Closed)
	assert.True(t, sub.Closed)
}
