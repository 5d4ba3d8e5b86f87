// Package domain holds the exporter's core value types and error taxonomy.
package domain

import "fmt"

// SourceKind names the upstream a Sample is read from.
type SourceKind string

const (
	// SourceAPI reads counts from the Synapse admin HTTP API.
	SourceAPI SourceKind = "api"
	// SourceDB reads counts directly from the Synapse Postgres database.
	SourceDB SourceKind = "db"
)

// ParseSourceKind maps a config string onto a SourceKind.
func ParseSourceKind(s string) (SourceKind, error) {
	switch SourceKind(s) {
	case SourceAPI, SourceDB:
		return SourceKind(s), nil
	default:
		return "", fmt.Errorf("unknown data source %q (want %q or %q)", s, SourceAPI, SourceDB)
	}
}

// Sample is one complete reading of the homeserver counts.
type Sample struct {
	Rooms int64 `json:"total_rooms"`
	Users int64 `json:"total_users"`
}

// Validate rejects samples that cannot be real counts.
func (s Sample) Validate() error {
	if s.Rooms < 0 || s.Users < 0 {
		return fmt.Errorf("negative count in sample (rooms=%d users=%d)", s.Rooms, s.Users)
	}
	return nil
}
