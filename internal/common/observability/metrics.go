// internal/common/observability/metrics.go
package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Observability owns the otel meter. A nil *Observability records nothing.
type Observability struct {
	meterProvider  *metric.MeterProvider
	meter          otelmetric.Meter
	reconciled     otelmetric.Int64Counter
	notifications  otelmetric.Int64Counter
	verifyDuration otelmetric.Float64Histogram
}

func New(serviceName string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	reconciled, _ := meter.Int64Counter(
		"entitlements.reconciled",
		otelmetric.WithDescription("Entitlement records written"),
	)
	notifications, _ := meter.Int64Counter(
		"notifications.processed",
		otelmetric.WithDescription("Bus notifications processed"),
	)
	verifyDuration, _ := meter.Float64Histogram(
		"billing.verify.duration",
		otelmetric.WithDescription("Billing provider verification latency"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meterProvider:  provider,
		meter:          meter,
		reconciled:     reconciled,
		notifications:  notifications,
		verifyDuration: verifyDuration,
	}
}

func (o *Observability) RecordReconciled(ctx context.Context, source string, isPro bool) {
	if o == nil || o.reconciled == nil {
		return
	}
	o.reconciled.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("source", source),
		attribute.Bool("is_pro", isPro),
	))
}

func (o *Observability) RecordNotification(ctx context.Context, kind, outcome string) {
	if o == nil || o.notifications == nil {
		return
	}
	o.notifications.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

func (o *Observability) RecordVerifyDuration(ctx context.Context, duration time.Duration, outcome string) {
	if o == nil || o.verifyDuration == nil {
		return
	}
	o.verifyDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

func (o *Observability) Shutdown() {
	if o == nil || o.meterProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = o.meterProvider.Shutdown(ctx)
}
