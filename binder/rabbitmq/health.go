package rabbitmq

import (
	"context"

	"github.com/drblury/streambridge/health"
)

// connectionState is satisfied by *amqp.ConnectionWrapper.
type connectionState interface {
	IsConnected() bool
}

// ConnectionIndicator reports the shared connection's state.
type ConnectionIndicator struct {
	conn connectionState
}

func NewConnectionIndicator(conn connectionState) *ConnectionIndicator {
	return &ConnectionIndicator{conn: conn}
}

func (c *ConnectionIndicator) Health(context.Context) health.Verdict {
	if c.conn == nil || !c.conn.IsConnected() {
		return health.Down().With("connection", "RabbitMQ connection is not open")
	}
	return health.Up().With("connection", "open")
}
