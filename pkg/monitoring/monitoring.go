package monitoring

import (
	"fmt"

	"github.com/grafana/pyroscope-go"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
	"github.com/smartcontractkit/chainlink-common/pkg/beholder"
	"github.com/smartcontractkit/chainlink-common/pkg/metrics"
)

type CoordinatorBeholderMonitoring struct {
	metrics common.CoordinatorMetricLabeler
}

// InitMonitoring installs the beholder client as the global otel provider and starts profiling
// when pyroscopeURL is set.
func InitMonitoring(pyroscopeURL string, config beholder.Config) (common.CoordinatorMonitoring, error) {
	config.MetricViews = MetricViews()

	client, err := beholder.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create beholder client: %w", err)
	}

	beholder.SetClient(client)
	beholder.SetGlobalOtelProviders()

	coordinatorMetrics, err := InitMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize coordinator metrics: %w", err)
	}

	if pyroscopeURL != "" {
		if _, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "ccv-coordinator",
			ServerAddress:   pyroscopeURL,
			Logger:          pyroscope.StandardLogger,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileGoroutines,
				pyroscope.ProfileMutexDuration,
			},
		}); err != nil {
			return nil, fmt.Errorf("failed to initialize pyroscope client: %w", err)
		}
	}

	return &CoordinatorBeholderMonitoring{
		metrics: NewCoordinatorMetricLabeler(metrics.NewLabeler(), coordinatorMetrics),
	}, nil
}

func (m *CoordinatorBeholderMonitoring) Metrics() common.CoordinatorMetricLabeler {
	return m.metrics
}
