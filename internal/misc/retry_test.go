package misc

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	errUnavailable = errors.New("503 service unavailable")
	errForbidden   = errors.New("403 forbidden")
)

func isUnavailable(err error) bool {
	return errors.Is(err, errUnavailable)
}

func scriptedOp(steps []error) (func() error, *int) {
	attempt := 0
	return func() error {
		defer func() { attempt++ }()
		idx := min(attempt, len(steps)-1)
		return steps[idx]
	}, &attempt
}

func TestRetry(t *testing.T) {
	t.Parallel()

	short := []time.Duration{2 * time.Millisecond, 2 * time.Millisecond, 2 * time.Millisecond}
	cases := []struct {
		name         string
		delays       []time.Duration
		steps        []error
		timeout      time.Duration
		cancelBefore bool
		wantAttempts int
		wantErr      error
	}{
		{name: "first_try", delays: short, steps: []error{nil}, wantAttempts: 1},
		{name: "permanent_stops", delays: short, steps: []error{errForbidden}, wantAttempts: 1, wantErr: errForbidden},
		{name: "recovers", delays: short, steps: []error{errUnavailable, errUnavailable, nil}, wantAttempts: 3},
		{name: "exhausted", delays: short, steps: []error{errUnavailable}, wantAttempts: 4, wantErr: errUnavailable},
		{name: "permanent_midway", delays: short, steps: []error{errUnavailable, errForbidden}, wantAttempts: 2, wantErr: errForbidden},
		{
			name:         "deadline_during_backoff",
			delays:       []time.Duration{time.Second},
			steps:        []error{errUnavailable},
			timeout:      10 * time.Millisecond,
			wantAttempts: 1,
			wantErr:      context.DeadlineExceeded,
		},
		{
			name:         "canceled_before_start",
			delays:       short,
			steps:        []error{errUnavailable},
			cancelBefore: true,
			wantAttempts: 1,
			wantErr:      context.Canceled,
		},
		{name: "no_delays", delays: nil, steps: []error{errUnavailable}, wantAttempts: 1, wantErr: errUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			if tc.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tc.timeout)
				defer cancel()
			}
			if tc.cancelBefore {
				var cancel context.CancelFunc
				ctx, cancel = context.WithCancel(ctx)
				cancel()
			}

			op, attempts := scriptedOp(tc.steps)
			err := Retry(ctx, tc.delays, isUnavailable, op)

			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("err=%v want %v", err, tc.wantErr)
			}
			if *attempts != tc.wantAttempts {
				t.Fatalf("attempts=%d want %d", *attempts, tc.wantAttempts)
			}
		})
	}
}

func TestExpBackoff(t *testing.T) {
	got := ExpBackoff(time.Second, 3, 3)
	want := []time.Duration{time.Second, 3 * time.Second, 9 * time.Second}
	if len(got) != len(want) {
		t.Fatalf("len=%d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delay[%d]=%v want %v", i, got[i], want[i])
		}
	}

	if d := ExpBackoff(time.Second, 0.5, 2); d[1] != time.Second {
		t.Fatalf("factor < 1 must not shrink delays, got %v", d)
	}
	if d := ExpBackoff(0, 2, 3); d != nil {
		t.Fatalf("zero base = %v, want nil", d)
	}
	if d := ExpBackoff(time.Second, 2, 0); d != nil {
		t.Fatalf("n=0 = %v, want nil", d)
	}
}
