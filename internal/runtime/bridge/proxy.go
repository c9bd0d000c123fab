package bridge

import (
	"context"

	"github.com/drblury/streambridge/internal/runtime/binding"
	errspkg "github.com/drblury/streambridge/internal/runtime/errors"
	metadatapkg "github.com/drblury/streambridge/internal/runtime/metadata"
)

// Binding and function names used by the bridge registrars.
const (
	ProxyConsumerName  = "proxyConsumer"
	HTTPSupplierName   = "httpSupplier"
	SendToBinding      = "streamBridge-out-0"
	ProxyConsumerInput = "proxyConsumer-in-0"
	HTTPSupplierOutput = "httpSupplier-out-0"
)

// ProxyConsumer hands each consumed payload to an HTTP endpoint. When
// forwarding is enabled a non-empty response is sent to SendToBinding.
type ProxyConsumer struct {
	endpoint  string
	requester Requester
	sender    binding.Sender
	forward   bool
}

// NewProxyConsumer builds the consumer. sender may be nil when forward is
// false.
func NewProxyConsumer(endpoint string, requester Requester, sender binding.Sender, forward bool) *ProxyConsumer {
	return &ProxyConsumer{
		endpoint:  endpoint,
		requester: requester,
		sender:    sender,
		forward:   forward && sender != nil,
	}
}

// Consume delivers one payload. Errors are returned so the runtime can retry
// and dead-letter.
func (p *ProxyConsumer) Consume(ctx context.Context, in binding.Input[[]byte]) error {
	headers := in.Metadata.With(URLHeader, p.endpoint)

	body, err := p.requester.Request(ctx, in.Payload, headers)
	if err != nil {
		return err
	}
	if !p.forward || len(body) == 0 {
		return nil
	}

	var md metadatapkg.Metadata
	if id := in.Metadata.Get(metadatapkg.KeyCorrelationID); id != "" {
		md = metadatapkg.Metadata{metadatapkg.KeyCorrelationID: id}
	}
	if err := p.sender.Send(ctx, SendToBinding, body, md); err != nil {
		return &errspkg.DeliveryError{Op: "send", Target: SendToBinding, Err: err}
	}
	return nil
}

// Function wraps the consumer as the 1/0 "proxyConsumer" function.
func (p *ProxyConsumer) Function() *binding.Function {
	return binding.NewConsumer(ProxyConsumerName, binding.BytesCodec{}, p.Consume)
}
