// Package status tracks poll loop health for the /healthz endpoint.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/vshulcz/synapse-stats-exporter/internal/domain"
	"github.com/vshulcz/synapse-stats-exporter/internal/services/poller"
	"github.com/vshulcz/synapse-stats-exporter/pkg/observer"
)

// State summarizes the loop.
type State string

const (
	StateStarting State = "starting"
	StateOK       State = "ok"
	StateDegraded State = "degraded"
)

// Report is the JSON body served on /healthz.
type Report struct {
	Status              State          `json:"status"`
	Source              string         `json:"source"`
	Ticks               uint64         `json:"ticks"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	LastSuccess         *time.Time     `json:"last_success,omitempty"`
	LastError           string         `json:"last_error,omitempty"`
	LastErrorKind       string         `json:"last_error_kind,omitempty"`
	LastSample          *domain.Sample `json:"last_sample,omitempty"`
}

// Tracker records tick outcomes.
type Tracker struct {
	mu     sync.RWMutex
	report Report
}

var _ observer.Observer[poller.TickOutcome] = (*Tracker)(nil)

// NewTracker returns a Tracker in the starting state.
func NewTracker(source domain.SourceKind) *Tracker {
	return &Tracker{report: Report{Status: StateStarting, Source: string(source)}}
}

// Notify implements observer.Observer.
func (t *Tracker) Notify(_ context.Context, out poller.TickOutcome) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.report.Ticks = out.Seq
	if out.OK() {
		started := out.Started
		sample := out.Sample
		t.report.Status = StateOK
		t.report.ConsecutiveFailures = 0
		t.report.LastSuccess = &started
		t.report.LastSample = &sample
		t.report.LastError = ""
		t.report.LastErrorKind = ""
		return nil
	}

	t.report.Status = StateDegraded
	t.report.ConsecutiveFailures++
	t.report.LastError = out.Err.Error()
	if kind := domain.KindOf(out.Err); kind != nil {
		t.report.LastErrorKind = kind.Error()
	} else {
		t.report.LastErrorKind = ""
	}
	return nil
}

// Snapshot returns a copy of the current report.
func (t *Tracker) Snapshot() Report {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r := t.report
	if r.LastSuccess != nil {
		ts := *r.LastSuccess
		r.LastSuccess = &ts
	}
	if r.LastSample != nil {
		s := *r.LastSample
		r.LastSample = &s
	}
	return r
}
