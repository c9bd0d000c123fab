package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v4"

	"github.com/drblury/streambridge/binder"
	"github.com/drblury/streambridge/internal/runtime/binding"
	errspkg "github.com/drblury/streambridge/internal/runtime/errors"
	idspkg "github.com/drblury/streambridge/internal/runtime/ids"
	loggingpkg "github.com/drblury/streambridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/streambridge/internal/runtime/metadata"
)

// Send publishes payload to the destination bound to bindingName. Bindings
// without configured properties publish to a destination named after the
// binding. The producer destination is provisioned on first use.
func (s *Service) Send(ctx context.Context, bindingName string, payload []byte, md metadatapkg.Metadata) error {
	if strings.TrimSpace(bindingName) == "" {
		return errspkg.ErrBindingNameRequired
	}
	props, _ := s.bindings.Get(bindingName)
	destination := props.DestinationOr(bindingName)
	if _, err := s.provisionProducer(ctx, destination, props.ProducerProperties()); err != nil {
		return err
	}
	return s.publish(destination, bindingName, payload, md)
}

func (s *Service) publish(destination, bindingName string, payload []byte, md metadatapkg.Metadata) error {
	msg := toWatermillMessage(payload, md.
		With(metadatapkg.KeyBinding, bindingName).
		With(metadatapkg.KeyDestination, destination))
	if err := s.binder.Publisher.Publish(destination, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", destination, err)
	}
	s.Logger.Debug("Published message", loggingpkg.LogFields{
		"binding":      bindingName,
		"destination":  destination,
		"message_uuid": msg.UUID,
	})
	return nil
}

func (s *Service) provisionProducer(ctx context.Context, name string, props binder.ProducerProperties) (binder.Destination, error) {
	return s.provision(ctx, name, binder.KindProducer, func(ctx context.Context) (binder.Destination, error) {
		return s.provisioner.EnsureProducerDestination(ctx, name, props)
	})
}

// provision retries ensure with exponential backoff while the broker is
// unavailable. Any other failure is returned at once.
func (s *Service) provision(ctx context.Context, name string, kind binder.Kind, ensure func(context.Context) (binder.Destination, error)) (binder.Destination, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.Conf.ProvisioningInitialInterval
	policy.MaxElapsedTime = 0

	var destination binder.Destination
	operation := func() error {
		d, err := ensure(ctx)
		if err != nil {
			if binder.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		destination = d
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.Logger.Info("Broker unavailable, retrying provisioning", loggingpkg.LogFields{
			"destination": name,
			"kind":        kind.String(),
			"retry_in":    wait.String(),
			"error":       err.Error(),
		})
	}

	retries := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(max(s.Conf.ProvisioningMaxRetries, 0))), ctx)
	if err := backoff.RetryNotify(operation, retries, notify); err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
		return binder.Destination{}, binder.NewProvisioningError(name, kind, err)
	}
	return destination, nil
}

func toWatermillMessage(payload []byte, md metadatapkg.Metadata) *message.Message {
	msg := message.NewMessage(idspkg.NewMessageID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(md)
	return msg
}

func fromWatermillMessage(msg *message.Message) binding.Message {
	return binding.Message{
		Payload:  msg.Payload,
		Metadata: metadatapkg.FromWatermill(msg.Metadata),
	}
}
