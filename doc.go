// Package streambridge lets application code publish and consume messages
// without binding to a specific broker, and bridges HTTP traffic onto message
// destinations.
//
// A binder (Kafka, RabbitMQ, NATS, AWS SNS/SQS, HTTP or an in-memory channel)
// is selected by Config.Binder. Each binder supplies watermill publishers and
// subscribers, a Provisioner that creates broker destinations on demand, and
// a health indicator. Provisioning is idempotent: concurrent requests for the
// same destination share one broker call.
//
// Service runs the bridge. In PUBLISHER mode an HTTP supplier accepts requests
// and publishes their bodies to the publisher destination. In SUBSCRIBER mode
// a proxy consumer POSTs every consumed payload to the invokable endpoint;
// SUBSCRIBER_PUBLISHER additionally forwards non-empty responses to the
// send-to destination. Failed deliveries are retried and then dead-lettered.
//
// # Binders
//
// Import the binders you need for registration, or all of them at once:
//
//	import _ "github.com/drblury/streambridge/binder/binders"
//
// # Management
//
// The management port serves /actuator/health, /actuator/bindings (list,
// pause and resume consumer bindings), /actuator/deadletters and, when
// metrics are enabled, /metrics.
//
// A minimal setup loads a Config, creates a Service and calls Start:
//
//	cfg, err := streambridge.LoadConfig("bridge.yaml")
//	if err != nil {
//		return err
//	}
//	svc, err := streambridge.TryNewService(cfg, logger, ctx, streambridge.ServiceDependencies{})
//	if err != nil {
//		return err
//	}
//	defer svc.Close()
//	return svc.Start(ctx)
package streambridge
