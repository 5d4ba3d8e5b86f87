// Package postgres reads homeserver counts straight from the Synapse database.
package postgres

import (
	"context"
	"errors"

	"github.com/vshulcz/synapse-stats-exporter/internal/adapters/dbpool"
	"github.com/vshulcz/synapse-stats-exporter/internal/domain"
	"github.com/vshulcz/synapse-stats-exporter/internal/ports"
)

const (
	qRooms = `SELECT COUNT(*) FROM rooms`
	qUsers = `SELECT COUNT(*) FROM users`
)

// Source runs both count queries on one pooled session per fetch.
type Source struct {
	pool *dbpool.Manager
}

var _ ports.DataSource = (*Source)(nil)

// New returns a database-backed data source. The source owns pool and closes it.
func New(pool *dbpool.Manager) *Source {
	return &Source{pool: pool}
}

// Fetch borrows one session, counts rooms then users, and hands the session back.
func (s *Source) Fetch(ctx context.Context) (domain.Sample, error) {
	lease, err := s.pool.Acquire(ctx)
	if err != nil {
		return domain.Sample{}, classify(ctx, "acquire", err)
	}
	defer func() {
		_ = lease.Release()
	}()

	conn := lease.Conn()
	var sample domain.Sample
	if err := conn.QueryRowContext(ctx, qRooms).Scan(&sample.Rooms); err != nil {
		return domain.Sample{}, classify(ctx, "count rooms", err)
	}
	if err := conn.QueryRowContext(ctx, qUsers).Scan(&sample.Users); err != nil {
		return domain.Sample{}, classify(ctx, "count users", err)
	}
	if err := sample.Validate(); err != nil {
		return domain.Sample{}, domain.NewFetchError(domain.ErrProtocol, "count", err)
	}
	return sample, nil
}

// Close shuts the pool down. Fetches after Close fail with domain.ErrPoolClosed.
func (s *Source) Close() error {
	return s.pool.Close()
}

// Stats exposes the pool bookkeeping.
func (s *Source) Stats() dbpool.Stats {
	return s.pool.Stats()
}

func classify(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrPoolExhausted):
		return domain.NewFetchError(domain.ErrPoolExhausted, op, err)
	case errors.Is(err, domain.ErrPoolClosed):
		return domain.NewFetchError(domain.ErrConnection, op, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), ctx.Err() != nil:
		return domain.NewFetchError(domain.ErrTransport, op, err)
	case dbpool.IsConnectionError(err):
		return domain.NewFetchError(domain.ErrConnection, op, err)
	default:
		return domain.NewFetchError(domain.ErrQuery, op, err)
	}
}
