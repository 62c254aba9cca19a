package observability

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, testLogger())
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracingStdout(t *testing.T) {
	var buf bytes.Buffer
	cfg := TracingConfig{
		Enabled:     true,
		ServiceName: "bwmt-test",
		Exporter:    "stdout",
		SampleRatio: 1,
		Writer:      &buf,
	}
	shutdown, err := InitTracing(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = InitTracing(context.Background(), TracingConfig{}, testLogger())
	})

	_, span := Tracer().Start(context.Background(), "session.start")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	ShutdownWithTimeout(context.Background(), shutdown, testLogger())
	assert.Contains(t, buf.String(), "session.start")
}

func TestTracingConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     TracingConfig
		wantErr bool
	}{
		{"default", TracingConfig{Exporter: "stdout", SampleRatio: 1}, false},
		{"empty exporter", TracingConfig{SampleRatio: 0.5}, false},
		{"otlp", TracingConfig{Exporter: "otlp", SampleRatio: 1}, true},
		{"ratio high", TracingConfig{Exporter: "stdout", SampleRatio: 1.5}, true},
		{"ratio negative", TracingConfig{Exporter: "stdout", SampleRatio: -0.1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInitTracingRejectsBadExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin", SampleRatio: 1}, testLogger())
	assert.Error(t, err)
}
