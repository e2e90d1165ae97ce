// Package tracing installs the global OpenTelemetry tracer provider used
// around dispatch attempts and connection checks.
package tracing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

type Config struct {
	ServiceName    string
	ServiceVersion string
	Enabled        bool
	Exporter       string
	OTLPEndpoint   string
	SampleRate     float64
}

type Manager struct {
	cfg      Config
	logger   *slog.Logger
	out      io.Writer
	provider *sdktrace.TracerProvider
}

func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, logger: logger, out: os.Stdout}
}

// WithWriter redirects the stdout exporter.
func (m *Manager) WithWriter(w io.Writer) *Manager {
	m.out = w
	return m
}

// Init installs the tracer provider. With tracing disabled it does nothing
// and the global no-op provider stays in place.
func (m *Manager) Init(ctx context.Context) error {
	if !m.cfg.Enabled {
		m.logger.Info("tracing disabled")
		return nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", m.cfg.ServiceName),
		attribute.String("service.version", m.cfg.ServiceVersion),
	))
	if err != nil {
		return fmt.Errorf("tracing resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch m.cfg.Exporter {
	case ExporterStdout, "":
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(m.out))
	case ExporterOTLP:
		exporter, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(m.cfg.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
	default:
		return fmt.Errorf("unknown trace exporter %q", m.cfg.Exporter)
	}
	if err != nil {
		return fmt.Errorf("create %s exporter: %w", m.cfg.Exporter, err)
	}

	m.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(m.cfg.SampleRate))),
	)
	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	m.logger.Info("tracing initialized",
		"exporter", m.cfg.Exporter,
		"endpoint", m.cfg.OTLPEndpoint,
		"sample_rate", m.cfg.SampleRate,
	)
	return nil
}

// Shutdown flushes pending spans.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := m.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}
