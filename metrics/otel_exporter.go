package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelExporter provides OpenTelemetry metrics export following OTel standards
type OTelExporter struct {
	meterProvider *sdkmetric.MeterProvider
	collector     Collector

	// OTel meters and instruments
	meter              metric.Meter
	webhookCountGauge  metric.Int64ObservableGauge
	deliveryCountGauge metric.Int64ObservableGauge
	successRateGauge   metric.Float64ObservableGauge
	retryBacklogGauge  metric.Int64ObservableGauge
}

// NewOTelExporter creates a new OpenTelemetry metrics exporter with Prometheus format
func NewOTelExporter(collector Collector) (*OTelExporter, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	meter := meterProvider.Meter(
		"webhook-engine",
		metric.WithInstrumentationVersion("1.0.0"),
	)

	oe := &OTelExporter{
		meterProvider: meterProvider,
		collector:     collector,
		meter:         meter,
	}

	if err := oe.registerInstruments(); err != nil {
		return nil, fmt.Errorf("registering instruments: %w", err)
	}

	return oe, nil
}

// registerInstruments creates and registers all OpenTelemetry metric instruments
func (oe *OTelExporter) registerInstruments() error {
	var err error

	// Webhook count gauge (per registration status)
	oe.webhookCountGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.registrations",
		metric.WithDescription("Number of registered webhooks by status"),
		metric.WithUnit("{webhooks}"),
		metric.WithInt64Callback(oe.observeWebhookCounts),
	)
	if err != nil {
		return fmt.Errorf("creating webhook count gauge: %w", err)
	}

	// Delivery count gauge (per delivery status)
	oe.deliveryCountGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.deliveries",
		metric.WithDescription("Number of deliveries by status"),
		metric.WithUnit("{deliveries}"),
		metric.WithInt64Callback(oe.observeDeliveryCounts),
	)
	if err != nil {
		return fmt.Errorf("creating delivery count gauge: %w", err)
	}

	// Success rate gauge (per webhook)
	oe.successRateGauge, err = oe.meter.Float64ObservableGauge(
		"webhook.success.rate",
		metric.WithDescription("Delivery success rate per webhook"),
		metric.WithUnit("1"),
		metric.WithFloat64Callback(oe.observeSuccessRates),
	)
	if err != nil {
		return fmt.Errorf("creating success rate gauge: %w", err)
	}

	// Retry backlog gauge
	oe.retryBacklogGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.retry.backlog",
		metric.WithDescription("Number of deliveries waiting on a scheduled retry"),
		metric.WithUnit("{deliveries}"),
		metric.WithInt64Callback(oe.observeRetryBacklog),
	)
	if err != nil {
		return fmt.Errorf("creating retry backlog gauge: %w", err)
	}

	return nil
}

// observeWebhookCounts is a callback that reports webhook counts by status
func (oe *OTelExporter) observeWebhookCounts(ctx context.Context, observer metric.Int64Observer) error {
	counts, err := oe.collector.GetWebhookCounts(ctx)
	if err != nil {
		return err
	}

	for status, count := range counts {
		observer.Observe(count, metric.WithAttributes(
			attribute.String("webhook.status", status),
		))
	}

	return nil
}

// observeDeliveryCounts is a callback that reports delivery counts by status
func (oe *OTelExporter) observeDeliveryCounts(ctx context.Context, observer metric.Int64Observer) error {
	counts, err := oe.collector.GetDeliveryCounts(ctx)
	if err != nil {
		return err
	}

	for status, count := range counts {
		observer.Observe(count, metric.WithAttributes(
			attribute.String("delivery.status", status),
		))
	}

	return nil
}

// observeSuccessRates is a callback that reports per-webhook success rates
func (oe *OTelExporter) observeSuccessRates(ctx context.Context, observer metric.Float64Observer) error {
	rates, err := oe.collector.GetSuccessRates(ctx)
	if err != nil {
		return err
	}

	for webhookID, rate := range rates {
		observer.Observe(rate, metric.WithAttributes(
			attribute.String("webhook.id", webhookID),
		))
	}

	return nil
}

// observeRetryBacklog is a callback that reports the retry backlog size
func (oe *OTelExporter) observeRetryBacklog(ctx context.Context, observer metric.Int64Observer) error {
	backlog, err := oe.collector.GetRetryBacklog(ctx)
	if err != nil {
		return err
	}

	observer.Observe(backlog)
	return nil
}

// ServeHTTP serves Prometheus-formatted metrics on the given HTTP handler
func (oe *OTelExporter) ServeHTTP() http.Handler {
	return promhttp.Handler()
}

// Shutdown gracefully shuts down the meter provider
func (oe *OTelExporter) Shutdown(ctx context.Context) error {
	if oe.meterProvider != nil {
		return oe.meterProvider.Shutdown(ctx)
	}
	return nil
}
