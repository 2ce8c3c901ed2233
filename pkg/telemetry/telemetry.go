package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Module wires the Prometheus collectors via Fx.
var Module = fx.Options(
	fx.Provide(
		func() prometheus.Registerer { return prometheus.DefaultRegisterer },
		NewMetrics,
	),
)
