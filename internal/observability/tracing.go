// Package observability wires OpenTelemetry tracing for the control surface.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName is the instrumentation scope used by the API layer.
const TracerName = "github.com/jscheidtmann/BadWeatherMountTester/internal/api"

// TracingConfig governs how tracing is initialised.
type TracingConfig struct {
	Enabled     bool    `env:"ENABLED" envDefault:"false"`
	ServiceName string  `env:"SERVICE_NAME" envDefault:"bwmt"`
	Exporter    string  `env:"EXPORTER" envDefault:"stdout"`
	SampleRatio float64 `env:"SAMPLE_RATIO" envDefault:"1"`

	// Writer receives stdout exporter output; nil means os.Stdout.
	Writer io.Writer
}

// Validate checks exporter and sampling settings.
func (c TracingConfig) Validate() error {
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("tracing sample ratio %v outside [0,1]", c.SampleRatio)
	}
	switch strings.ToLower(c.Exporter) {
	case "stdout", "":
	default:
		return fmt.Errorf("unsupported tracing exporter: %s", c.Exporter)
	}
	return nil
}

// InitTracing installs a global tracer provider and returns a shutdown
// function that flushes pending spans. Disabled tracing installs a noop
// provider.
func InitTracing(ctx context.Context, cfg TracingConfig, logger *slog.Logger) (func(context.Context) error, error) {
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		logger.Debug("tracing disabled; using noop tracer provider")
		return func(context.Context) error { return nil }, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	exp, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithoutTimestamps(),
	)
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.namespace", "bwmt"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	logger.Info("tracing enabled",
		"exporter", "stdout",
		"service_name", cfg.ServiceName,
		"sample_ratio", cfg.SampleRatio,
	)
	return tp.Shutdown, nil
}

// Tracer returns the API tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// ShutdownWithTimeout runs shutdown with a bounded timeout and logs failures.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, logger *slog.Logger) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("tracing shutdown failed", "error", err)
	}
}
