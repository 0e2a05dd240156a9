package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
	organizations    metric.Int64Counter
	invites          metric.Int64Counter
	memberships      metric.Int64Counter
	billingEvents    metric.Int64Counter
	schedulerJobs    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}
	return provider, nil
}

// New creates the domain instruments on the given provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "stencilflow"
	}
	meter := provider.Meter(name)

	var (
		m   Metrics
		err error
	)
	counters := []struct {
		name   string
		target *metric.Int64Counter
	}{
		{"stencilflow_rate_limit_allowed_total", &m.rateLimitAllowed},
		{"stencilflow_rate_limit_denied_total", &m.rateLimitDenied},
		{"stencilflow_organizations_total", &m.organizations},
		{"stencilflow_invites_total", &m.invites},
		{"stencilflow_memberships_total", &m.memberships},
		{"stencilflow_billing_events_total", &m.billingEvents},
		{"stencilflow_scheduler_job_runs_total", &m.schedulerJobs},
	}
	for _, c := range counters {
		*c.target, err = meter.Int64Counter(c.name)
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", c.name, err)
		}
	}
	return &m, nil
}

func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, profile, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("profile", strings.TrimSpace(profile)),
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
	)...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, profile, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("profile", strings.TrimSpace(profile)),
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
	)...))
}

// RecordOrganization counts organization lifecycle events (created, updated, archived).
func (m *Metrics) RecordOrganization(ctx context.Context, event, tier string) {
	if m == nil {
		return
	}
	m.organizations.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("event", strings.TrimSpace(event)),
		attribute.String("org_tier", strings.TrimSpace(tier)),
	)...))
}

// RecordInvite counts invite transitions (created, accepted, cancelled, expired, conflict).
func (m *Metrics) RecordInvite(ctx context.Context, event string) {
	if m == nil {
		return
	}
	m.invites.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("event", strings.TrimSpace(event)),
	)...))
}

func (m *Metrics) RecordMembership(ctx context.Context, event string) {
	if m == nil {
		return
	}
	m.memberships.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("event", strings.TrimSpace(event)),
	)...))
}

func (m *Metrics) RecordBillingEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	m.billingEvents.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)...))
}

// RecordSchedulerJob counts background job runs by outcome (ok, error, timeout).
func (m *Metrics) RecordSchedulerJob(ctx context.Context, job, outcome string) {
	if m == nil {
		return
	}
	m.schedulerJobs.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("job", strings.TrimSpace(job)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// User, org and invite identifiers are unbounded, so they never become labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"org_tier":    {},
	"endpoint":    {},
	"profile":     {},
	"event":       {},
	"status_code": {},
	"provider":    {},
	"event_type":  {},
	"job":         {},
	"outcome":     {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
