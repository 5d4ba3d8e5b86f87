package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransport covers unreachable upstreams and timeouts.
	ErrTransport = errors.New("transport error")
	// ErrAuth is returned when the admin API or the database rejects our credentials.
	ErrAuth = errors.New("auth error")
	// ErrProtocol indicates an unexpected response shape or status.
	ErrProtocol = errors.New("protocol error")
	// ErrPoolExhausted means no pooled connection became free in time.
	ErrPoolExhausted = errors.New("connection pool exhausted")
	// ErrPoolClosed is returned by a pool after shutdown.
	ErrPoolClosed = errors.New("connection pool closed")
	// ErrConnection is a database session level failure.
	ErrConnection = errors.New("connection error")
	// ErrQuery is a failure executing a statement on a healthy session.
	ErrQuery = errors.New("query error")
)

// FetchError describes why a single fetch cycle produced no Sample.
type FetchError struct {
	Kind     error
	Op       string
	Endpoint string
	Status   int
	Err      error
}

// NewFetchError wraps cause into a FetchError of the given kind.
func NewFetchError(kind error, op string, cause error) *FetchError {
	return &FetchError{Kind: kind, Op: op, Err: cause}
}

func (e *FetchError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Endpoint != "" {
		b.WriteString(" ")
		b.WriteString(e.Endpoint)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	b.WriteString(": ")
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *FetchError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// KindOf returns the taxonomy sentinel carried by err, or nil if err is not a FetchError.
func KindOf(err error) error {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return nil
}
