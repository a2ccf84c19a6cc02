package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "authgate"

type appMetricsSet struct {
	loginCounter        metric.Int64Counter
	revocationCounter   metric.Int64Counter
	twoFactorCounter    metric.Int64Counter
	codeIssueCounter    metric.Int64Counter
	codeValidateCounter metric.Int64Counter
	validationCounter   metric.Int64Counter
	repoCounter         metric.Int64Counter
	reaperCounter       metric.Int64Counter
	rateLimitCounter    metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *appMetricsSet
)

type MetricsConfig struct {
	Enabled        bool
	Endpoint       string
	Insecure       bool
	ServiceName    string
	Environment    string
	ExportInterval time.Duration
}

func InitMetrics(ctx context.Context, cfg MetricsConfig, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.Enabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.ExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)
	set := &appMetricsSet{}
	counters := []struct {
		name string
		dst  *metric.Int64Counter
	}{
		{"auth.login.attempts", &set.loginCounter},
		{"session.revocations", &set.revocationCounter},
		{"twofactor.verifications", &set.twoFactorCounter},
		{"verification.codes.issued", &set.codeIssueCounter},
		{"verification.codes.validated", &set.codeValidateCounter},
		{"session.validations", &set.validationCounter},
		{"repository.operations", &set.repoCounter},
		{"session.reaper.deleted", &set.reaperCounter},
		{"ratelimit.decisions", &set.rateLimitCounter},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	metricsMu.Lock()
	appMetrics = set
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.Endpoint)
	return mp, nil
}

func current() *appMetricsSet {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAuthLogin(provider, status string) {
	m := current()
	if m == nil {
		return
	}
	m.loginCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	))
}

func RecordSessionRevocation(scope, status string) {
	m := current()
	if m == nil {
		return
	}
	m.revocationCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("status", status),
	))
}

func RecordTwoFactorVerification(method, status string) {
	m := current()
	if m == nil {
		return
	}
	m.twoFactorCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("status", status),
	))
}

func RecordVerificationCodeIssued(kind, status string) {
	m := current()
	if m == nil {
		return
	}
	m.codeIssueCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("type", kind),
		attribute.String("status", status),
	))
}

func RecordVerificationCodeValidated(kind, status string) {
	m := current()
	if m == nil {
		return
	}
	m.codeValidateCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("type", kind),
		attribute.String("status", status),
	))
}

func RecordSessionValidation(status string) {
	m := current()
	if m == nil {
		return
	}
	m.validationCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.repoCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordReaperDeleted(kind string, count int64) {
	m := current()
	if m == nil || count <= 0 {
		return
	}
	m.reaperCounter.Add(context.Background(), count, metric.WithAttributes(attribute.String("kind", kind)))
}

func RecordRateLimitDecision(ctx context.Context, scope, decision, mode, keyType string) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("decision", decision),
		attribute.String("mode", mode),
		attribute.String("key_type", keyType),
	))
}
