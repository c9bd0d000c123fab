package streambridge

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	_ "github.com/drblury/streambridge/binder/channel"
)

func TestTryNewServiceRejectsMissingConfig(t *testing.T) {
	_, err := TryNewService(nil, nil, context.Background(), ServiceDependencies{})
	assert.ErrorIs(t, err, ErrConfigRequired)
}

func TestValidateConfigReportsConfigurationError(t *testing.T) {
	cfg := Config{Binder: "channel", RunningMode: ModeSubscriberPublisher}.WithDefaults()
	require.Error(t, ValidateConfig(&cfg))

	_, err := TryNewService(&Config{Binder: "channel", RunningMode: ModeSubscriberPublisher}, NewSlogServiceLogger(slog.Default()), context.Background(), ServiceDependencies{})
	assert.True(t, IsConfigurationError(err))
}

func TestFunctionConstructors(t *testing.T) {
	consumer := NewConsumer("audit", StringCodec{}, func(ctx context.Context, in Input[string]) error { return nil })
	assert.Equal(t, "audit-in-0", consumer.InputBinding())

	fn := NewFunction("upper", JSONCodec[map[string]string](), ProtoCodec[*structpb.Struct](),
		func(ctx context.Context, in Input[map[string]string]) ([]Output[*structpb.Struct], error) { return nil, nil })
	assert.Equal(t, "upper-out-0", fn.OutputBinding())
	assert.Equal(t, "google.protobuf.Struct", fn.OutputType)

	supplier := NewSupplier("ticks", BytesCodec{}, func(ctx context.Context, emit func(ctx context.Context, out Output[[]byte]) error) error {
		return nil
	})
	assert.Equal(t, "ticks-out-0", supplier.OutputBinding())
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	data, err := Marshal(payload)
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, Unmarshal(data, &decoded))
	assert.Equal(t, payload, decoded)
}

func TestProvisioningErrorsAreExported(t *testing.T) {
	assert.False(t, errors.Is(ErrBrokerUnavailable, ErrDestinationNotFound))
	assert.Equal(t, HealthStatus("UP"), StatusUp)
}

func TestErrorCategoryConstants(t *testing.T) {
	assert.Equal(t, ErrorCategory("none"), ErrorCategoryNone)
	assert.Equal(t, ErrorCategory("downstream"), ErrorCategoryDownstream)
}
