// Package binders imports every built-in binder for registration with the
// default registry.
package binders

import (
	_ "github.com/drblury/streambridge/binder/aws"
	_ "github.com/drblury/streambridge/binder/channel"
	_ "github.com/drblury/streambridge/binder/http"
	_ "github.com/drblury/streambridge/binder/kafka"
	_ "github.com/drblury/streambridge/binder/nats"
	_ "github.com/drblury/streambridge/binder/rabbitmq"
)
