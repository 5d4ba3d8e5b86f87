package ports

import (
	"context"

	"github.com/vshulcz/synapse-stats-exporter/internal/domain"
)

// DataSource reads the current homeserver counts.
type DataSource interface {
	Fetch(ctx context.Context) (domain.Sample, error)
	Close() error
}

// MetricsSink receives complete samples. Publish must make both counts
// visible to scrapers together.
type MetricsSink interface {
	Publish(s domain.Sample)
}
