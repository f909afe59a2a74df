package observe

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Resource attribute keys describing the capture pipeline of a device.
const (
	AttrSampleRate   = attribute.Key("genie.audio.sample_rate")
	AttrFrameSamples = attribute.Key("genie.audio.frame_samples")
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName defaults to "genie".
	ServiceName    string
	ServiceVersion string

	// DeviceID is reported as device.id. Empty falls back to the host name.
	DeviceID string

	// SampleRate and FrameSamples describe the capture pipeline. Zero values
	// are omitted.
	SampleRate   int
	FrameSamples int

	// TraceExporter receives finished spans. Nil records spans without
	// exporting them.
	TraceExporter sdktrace.SpanExporter
}

// NewResource builds the telemetry resource of one device: service identity,
// host, device id and the capture format.
func NewResource(ctx context.Context, cfg ProviderConfig) (*resource.Resource, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "genie"
	}
	host, err := resource.New(ctx, resource.WithHost())
	if err != nil {
		return nil, fmt.Errorf("observe: detect host: %w", err)
	}
	if cfg.DeviceID == "" {
		if v, ok := host.Set().Value(semconv.HostNameKey); ok {
			cfg.DeviceID = v.AsString()
		}
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.DeviceID != "" {
		attrs = append(attrs, semconv.DeviceID(cfg.DeviceID))
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.SampleRate > 0 {
		attrs = append(attrs, AttrSampleRate.Int(cfg.SampleRate))
	}
	if cfg.FrameSamples > 0 {
		attrs = append(attrs, AttrFrameSamples.Int(cfg.FrameSamples))
	}

	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithFromEnv(),
		resource.WithAttributes(attrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}
	return resource.Merge(host, res)
}

// InitProvider registers global meter and tracer providers for the device.
// Metrics are exposed through a Prometheus reader for /metrics; spans go to
// cfg.TraceExporter when set.
//
// The returned shutdown flushes both providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	res, err := NewResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	reader, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
