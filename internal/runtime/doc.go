/*
Package runtime runs the stream bridge: it binds registered functions to a
broker through a Watermill router and serves the bridge and management HTTP
endpoints.

# Architecture Overview

A Service owns one binder (publisher, subscribers, provisioner and health
facet) and one router. Registrars declare bindings and functions; Start binds
them and runs everything under one errgroup until the context is cancelled.

# Package Structure

## Core Service (service.go)

The Service struct wires together:
  - the binder built by a BinderFactory (binder.DefaultRegistry by default)
  - the registrar lifecycles of the HTTP source and the proxy sink
  - one router handler per consumer function and one goroutine per supplier
  - HTTP servers, one chi router per port

## Stream bridge (send.go)

Send publishes to the destination behind a binding, provisioning the producer
destination on first use. Provisioning retries with exponential backoff while
the broker is unavailable.

## Middleware (middleware.go)

Router-level stages:
  - CorrelationID: ensures message traceability
  - LogMessages: debug logging of message payloads
  - Tracer: OpenTelemetry spans
  - Metrics: Prometheus router metrics

Per-binding stages, outermost first:
  - DeadLetter: publishes exhausted messages to the DLT destination
  - ErrorHandler: optional hook for failed deliveries
  - Retry: exponential backoff redelivery
  - Recoverer: panic recovery
  - Gate: holds messages while the binding is paused

## Listeners and stats (listeners.go, stats.go)

Each consumer binding has a listener container that feeds the listener health
facet, supports pause and resume, and records latency percentiles and error
categories.

## Management (management.go)

  - GET /actuator/health
  - GET /actuator/bindings and /actuator/bindings/{name}
  - POST /actuator/bindings/{name} with {"state":"PAUSED"|"RESUMED"}
  - GET /actuator/deadletters
  - GET /metrics when metrics are enabled

# Sub-packages

  - binding/: binding properties, typed functions, registrar lifecycle
  - bridge/: HTTP supplier, HTTP request function, proxy consumer, registrars
  - config/: configuration with defaults, validation and a viper loader
  - errors/: sentinel errors and error types
  - ids/: ULID generation for message IDs
  - jsoncodec/: JSON marshaling utilities
  - logging/: logger interface and adapters
  - metadata/: message metadata utilities

# Usage Example

	cfg := &config.Config{
		Binder:      "kafka",
		RunningMode: config.ModeSubscriber,
		Subscriber: config.Subscriber{
			Destination:       "orders",
			InvokableEndpoint: "http://localhost:9000/orders",
		},
		KafkaBrokers: []string{"localhost:9092"},
	}

	svc, err := runtime.TryNewService(cfg, logger, ctx, runtime.ServiceDependencies{})
	if err != nil {
		return err
	}
	defer svc.Close()
	return svc.Start(ctx)
*/
package runtime
