package nats

import (
	"context"

	"github.com/drblury/streambridge/health"
)

// ConnectionIndicator reports the management connection's status.
type ConnectionIndicator struct {
	conn Connection
}

func NewConnectionIndicator(conn Connection) *ConnectionIndicator {
	return &ConnectionIndicator{conn: conn}
}

func (c *ConnectionIndicator) Health(context.Context) health.Verdict {
	status := c.conn.Status().String()
	if !c.conn.IsConnected() {
		return health.Down().With("status", status)
	}
	return health.Up().With("status", status)
}
