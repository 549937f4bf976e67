package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/c360studio/semstreams/natsclient"
)

// SubjectPrefix is the NATS subject root for forwarded bus events.
// A bus event of type "pipeline.started" publishes to
// "concord.events.pipeline.started".
const SubjectPrefix = "concord.events."

// wireEvent is the JSON envelope published to NATS.
type wireEvent struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NATSBridge forwards bus events to NATS subjects so external consumers
// (dashboards, log monitors) can observe pipeline and router activity
// without linking against the engine.
type NATSBridge struct {
	nc          *natsclient.Client
	logger      *slog.Logger
	unsubscribe func()
}

// NewNATSBridge attaches a bridge to the bus. Forwarding starts immediately
// and continues until Stop is called.
func NewNATSBridge(bus *Bus, nc *natsclient.Client, logger *slog.Logger) *NATSBridge {
	if logger == nil {
		logger = slog.Default()
	}

	b := &NATSBridge{nc: nc, logger: logger}
	b.unsubscribe = bus.SubscribeAll(b.forward)
	return b
}

// forward publishes a single bus event to its NATS subject.
// Publish failures are logged and dropped; event forwarding is best effort
// and must never back-pressure the engine.
func (b *NATSBridge) forward(event Event) {
	data, err := json.Marshal(wireEvent{
		Type:      event.Type,
		Timestamp: event.Timestamp,
		Data:      event.Data,
	})
	if err != nil {
		b.logger.Warn("Failed to marshal event for NATS", "type", event.Type, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	subject := SubjectPrefix + string(event.Type)
	if err := b.nc.Publish(ctx, subject, data); err != nil {
		b.logger.Warn("Failed to publish event to NATS", "subject", subject, "error", err)
	}
}

// Stop detaches the bridge from the bus.
func (b *NATSBridge) Stop() {
	if b.unsubscribe != nil {
		b.unsubscribe()
		b.unsubscribe = nil
	}
}
