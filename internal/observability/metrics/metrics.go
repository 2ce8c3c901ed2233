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

// Metrics exposes domain instruments for assignments and hierarchy edits.
type Metrics struct {
	assignmentsOpened     metric.Int64Counter
	assignmentsClosed     metric.Int64Counter
	hierarchyMutations    metric.Int64Counter
	consistencyViolations metric.Int64Counter
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

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "congregate"
	}
	meter := provider.Meter(name)

	assignmentsOpened, err := meter.Int64Counter("congregate_assignments_opened_total")
	if err != nil {
		return nil, err
	}
	assignmentsClosed, err := meter.Int64Counter("congregate_assignments_closed_total")
	if err != nil {
		return nil, err
	}
	hierarchyMutations, err := meter.Int64Counter("congregate_hierarchy_mutations_total")
	if err != nil {
		return nil, err
	}
	consistencyViolations, err := meter.Int64Counter("congregate_consistency_violations_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		assignmentsOpened:     assignmentsOpened,
		assignmentsClosed:     assignmentsClosed,
		hierarchyMutations:    hierarchyMutations,
		consistencyViolations: consistencyViolations,
	}, nil
}

// RecordAssignmentsOpened counts history rows opened on an axis.
func (m *Metrics) RecordAssignmentsOpened(ctx context.Context, orgID, axis string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(
		attribute.String("org_id", strings.TrimSpace(orgID)),
		attribute.String("axis", strings.TrimSpace(axis)),
	)
	m.assignmentsOpened.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordAssignmentsClosed counts history rows closed on an axis.
func (m *Metrics) RecordAssignmentsClosed(ctx context.Context, orgID, axis string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(
		attribute.String("org_id", strings.TrimSpace(orgID)),
		attribute.String("axis", strings.TrimSpace(axis)),
	)
	m.assignmentsClosed.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordHierarchyMutation counts structural edits to the group tree.
func (m *Metrics) RecordHierarchyMutation(ctx context.Context, orgID, operation string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("org_id", strings.TrimSpace(orgID)),
		attribute.String("operation", strings.TrimSpace(operation)),
	)
	m.hierarchyMutations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordConsistencyViolation counts affected-row tripwires and counter drift.
func (m *Metrics) RecordConsistencyViolation(ctx context.Context, orgID, operation string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("org_id", strings.TrimSpace(orgID)),
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("kind", "internal_consistency"),
	)
	m.consistencyViolations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
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

var allowedLabelKeys = map[attribute.Key]struct{}{
	"org_id":    {},
	"axis":      {},
	"operation": {},
	"kind":      {},
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
