package checks

import (
	"context"
	"fmt"

	"github.com/charlesng35/socialcounter/internal/monitoring"
)

// ConnectionCounter exposes the number of live websocket subscribers.
type ConnectionCounter interface {
	Connections() int
}

// BrokerConnection reports whether the message broker channel is open.
type BrokerConnection interface {
	Connected() bool
}

// Realtime reports the websocket hub and its subscriber count.
func Realtime(hub ConnectionCounter) monitoring.Check {
	return monitoring.NewCheck("websocket", false, func(context.Context) monitoring.ProbeResult {
		if hub == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "websocket stream disabled"}
		}
		return monitoring.ProbeResult{
			Status:  monitoring.StatusUp,
			Details: fmt.Sprintf("%d connections", hub.Connections()),
		}
	})
}

// Broker reports the AMQP publisher. A dropped channel degrades the service
// because scheduled notifications stop reaching consumers.
func Broker(conn BrokerConnection, enabled bool) monitoring.Check {
	return monitoring.NewCheck("amqp", false, func(context.Context) monitoring.ProbeResult {
		switch {
		case !enabled:
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "amqp disabled"}
		case conn == nil:
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "amqp unavailable"}
		case !conn.Connected():
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "amqp channel closed"}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	})
}
