package fetch

import (
	"context"

	"pool"
)

func deferred(ctx context.Context, m *pool.Manager) error {
	lease, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()
	return nil
}

func deferredClosure(ctx context.Context, m *pool.Manager) error {
	lease, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = lease.Release()
	}()
	return nil
}

func manual(ctx context.Context, m *pool.Manager) error {
	lease, err := m.Acquire(ctx) // want "lease lease from Acquire is not released with defer"
	if err != nil {
		return err
	}
	return lease.Release()
}

func discarded(ctx context.Context, m *pool.Manager) {
	_, _ = m.Acquire(ctx) // want "lease from Acquire is discarded"
}

func nested(ctx context.Context, m *pool.Manager) func() {
	return func() {
		l, _ := m.Acquire(ctx) // want "lease l from Acquire is not released with defer"
		_ = l
	}
}

func otherMethods(ctx context.Context, m *pool.Manager) {
	l, _ := m.Reserve(ctx)
	_ = l
	t, _ := m.Acquire2(ctx)
	_ = t
}
