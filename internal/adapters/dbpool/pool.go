// Package dbpool bounds and tracks the database sessions used by the SQL data source.
package dbpool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/vshulcz/synapse-stats-exporter/internal/config"
	"github.com/vshulcz/synapse-stats-exporter/internal/domain"
	"github.com/vshulcz/synapse-stats-exporter/internal/misc"
)

const defaultAcquireTimeout = 2 * time.Second

// Manager hands out at most max sessions at a time. Acquire never waits longer
// than the configured acquire timeout.
type Manager struct {
	db             *sql.DB
	slots          chan struct{}
	min            int
	acquireTimeout time.Duration

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	acquired atomic.Int64
	released atomic.Int64
}

// Stats is a point-in-time view of pool usage.
type Stats struct {
	Acquired int64
	Released int64
	InUse    int64
	Open     int
	Max      int
}

// Open connects with the configured driver and warms min sessions. Any error
// here is a startup failure.
func Open(ctx context.Context, cfg config.DBSourceConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open(cfg.Driver, BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	m := New(db, cfg.PoolMin, cfg.PoolMax, cfg.AcquireTimeout)

	op := func() error {
		err := m.Warm(ctx)
		if err != nil && isRetryableStartup(err) {
			logger.Warn("database not ready, retrying",
				zap.String("host", cfg.Host), zap.Int("port", cfg.Port), zap.Error(err))
		}
		return err
	}
	if err := misc.Retry(ctx, misc.StartupBackoff, isRetryableStartup, op); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Database, err)
	}

	logger.Info("database pool ready",
		zap.String("driver", cfg.Driver),
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
		zap.Int("pool_min", cfg.PoolMin),
		zap.Int("pool_max", cfg.PoolMax),
	)
	return m, nil
}

// New wraps an existing *sql.DB. Bounds are clamped to min >= 0, max >= 1, min <= max.
func New(db *sql.DB, minConns, maxConns int, acquireTimeout time.Duration) *Manager {
	if maxConns < 1 {
		maxConns = 1
	}
	minConns = max(0, min(minConns, maxConns))
	if acquireTimeout <= 0 {
		acquireTimeout = defaultAcquireTimeout
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	return &Manager{
		db:             db,
		slots:          make(chan struct{}, maxConns),
		min:            minConns,
		acquireTimeout: acquireTimeout,
	}
}

// Warm pings the server and opens min sessions so the first fetch does not pay for them.
func (m *Manager) Warm(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return err
	}
	conns := make([]*sql.Conn, 0, m.min)
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()
	for range m.min {
		c, err := m.db.Conn(ctx)
		if err != nil {
			return err
		}
		conns = append(conns, c)
	}
	return nil
}

// Acquire borrows one session. It returns domain.ErrPoolExhausted when no slot
// frees up within the acquire timeout, and domain.ErrPoolClosed after Close.
func (m *Manager) Acquire(ctx context.Context) (*Lease, error) {
	if m.closed.Load() {
		return nil, domain.ErrPoolClosed
	}

	t := time.NewTimer(m.acquireTimeout)
	defer t.Stop()
	select {
	case m.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
		return nil, domain.ErrPoolExhausted
	}

	conn, err := m.db.Conn(ctx)
	if err != nil {
		<-m.slots
		if m.closed.Load() {
			return nil, domain.ErrPoolClosed
		}
		return nil, err
	}
	m.acquired.Add(1)
	return &Lease{conn: conn, m: m}, nil
}

// Stats reports acquire/release bookkeeping.
func (m *Manager) Stats() Stats {
	acq, rel := m.acquired.Load(), m.released.Load()
	return Stats{
		Acquired: acq,
		Released: rel,
		InUse:    acq - rel,
		Open:     m.db.Stats().OpenConnections,
		Max:      cap(m.slots),
	}
}

// Close shuts the pool down. It is safe to call more than once.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		m.closeErr = m.db.Close()
	})
	return m.closeErr
}

// Lease is a borrowed session. Release must be called exactly once; extra calls are no-ops.
type Lease struct {
	conn *sql.Conn
	m    *Manager
	once sync.Once
}

// Conn exposes the borrowed session.
func (l *Lease) Conn() *sql.Conn {
	return l.conn
}

// Release hands the session back to the pool.
func (l *Lease) Release() error {
	var err error
	l.once.Do(func() {
		err = l.conn.Close()
		if errors.Is(err, sql.ErrConnDone) {
			err = nil
		}
		l.m.released.Add(1)
		<-l.m.slots
	})
	return err
}
