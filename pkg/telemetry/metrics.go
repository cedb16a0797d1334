// Package telemetry wires OpenTelemetry metrics for the classifier:
// per-agent duration, per-retrieval-mode latency, and dispatcher
// throughput (spec §6), generalized from the teacher's
// pkg/observability Provider — metrics only, since nothing here needs
// the teacher's distributed tracing surface.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
)

// Config configures the metrics provider.
type Config struct {
	ServiceName  string
	OTLPEndpoint string
	Insecure     bool
	Enabled      bool
}

// Provider exposes the classifier's RED-style metrics: agent duration,
// retrieval-mode latency, and dispatcher throughput.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter

	agentDuration     metric.Float64Histogram
	retrievalLatency  metric.Float64Histogram
	dispatcherCounter metric.Int64Counter
	dispatcherActive  metric.Int64UpDownCounter
}

// New creates a Provider. When cfg.Enabled is false (e.g. local dev with
// no collector running) it returns a Provider whose recording methods are
// safe no-ops, so call sites never need a nil check.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{}
	if !cfg.Enabled {
		return p, nil
	}

	res, err := sdkresource.Merge(
		sdkresource.Default(),
		sdkresource.NewWithAttributes(
			"",
			attribute.String("service.name", cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = otel.Meter("fiscalclass.classifier")

	if err := p.initMetrics(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) initMetrics() error {
	var err error
	p.agentDuration, err = p.meter.Float64Histogram("classifier.agent.duration",
		metric.WithDescription("Agent Process duration in seconds, by agent name"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}
	p.retrievalLatency, err = p.meter.Float64Histogram("classifier.retrieval.latency",
		metric.WithDescription("Toolbox retrieval latency in seconds, by mode"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}
	p.dispatcherCounter, err = p.meter.Int64Counter("classifier.dispatcher.jobs_total",
		metric.WithDescription("Dispatcher jobs completed, by outcome"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return err
	}
	p.dispatcherActive, err = p.meter.Int64UpDownCounter("classifier.dispatcher.jobs_active",
		metric.WithDescription("Dispatcher jobs currently in flight"),
		metric.WithUnit("{job}"),
	)
	return err
}

// RecordAgentDuration records one agent Process call's wall time.
func (p *Provider) RecordAgentDuration(ctx context.Context, agent string, d time.Duration) {
	if p.agentDuration == nil {
		return
	}
	p.agentDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("agent", agent)))
}

// RecordRetrievalLatency records one Toolbox.Retrieve call's wall time
// for a single mode.
func (p *Provider) RecordRetrievalLatency(ctx context.Context, mode string, d time.Duration) {
	if p.retrievalLatency == nil {
		return
	}
	p.retrievalLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("mode", mode)))
}

// JobStarted marks one dispatcher job as in flight; the returned func
// must be called exactly once when the job finishes.
func (p *Provider) JobStarted(ctx context.Context) func(outcome string) {
	if p.dispatcherActive != nil {
		p.dispatcherActive.Add(ctx, 1)
	}
	return func(outcome string) {
		if p.dispatcherActive != nil {
			p.dispatcherActive.Add(ctx, -1)
		}
		if p.dispatcherCounter != nil {
			p.dispatcherCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		}
	}
}

// Shutdown flushes and stops the metric provider. Safe to call on a
// disabled Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}
