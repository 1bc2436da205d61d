package license

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// managerMetrics holds the OpenTelemetry instruments for the lifecycle
// manager. Instrument creation failures fall back to nil instruments and
// recording becomes a no-op; metrics never break the business path.
type managerMetrics struct {
	keysGenerated   metric.Int64Counter
	keyCollisions   metric.Int64Counter
	activations     metric.Int64Counter
	ordersFulfilled metric.Int64Counter
}

func newManagerMetrics() *managerMetrics {
	meter := otel.Meter("keymint/license")
	m := &managerMetrics{}

	m.keysGenerated, _ = meter.Int64Counter("license_keys_generated_total",
		metric.WithDescription("License keys generated and persisted"))
	m.keyCollisions, _ = meter.Int64Counter("license_key_collisions_total",
		metric.WithDescription("Generated candidates discarded as hash collisions"))
	m.activations, _ = meter.Int64Counter("license_activations_total",
		metric.WithDescription("License activation attempts by outcome"))
	m.ordersFulfilled, _ = meter.Int64Counter("license_orders_fulfilled_total",
		metric.WithDescription("Orders fully fulfilled with license keys"))

	return m
}

func (m *managerMetrics) recordGenerated(ctx context.Context, inserted, collisions int) {
	if m.keysGenerated != nil && inserted > 0 {
		m.keysGenerated.Add(ctx, int64(inserted))
	}
	if m.keyCollisions != nil && collisions > 0 {
		m.keyCollisions.Add(ctx, int64(collisions))
	}
}

func (m *managerMetrics) recordActivation(ctx context.Context, success bool) {
	if m.activations == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.activations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *managerMetrics) recordFulfillment(ctx context.Context) {
	if m.ordersFulfilled != nil {
		m.ordersFulfilled.Add(ctx, 1)
	}
}
