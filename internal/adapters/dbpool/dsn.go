package dbpool

import (
	"fmt"
	"net/url"

	"github.com/vshulcz/synapse-stats-exporter/internal/config"
)

// BuildConnString renders a postgres:// URL understood by both lib/pq and pgx.
func BuildConnString(cfg config.DBSourceConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.Database,
		RawQuery: url.Values{"sslmode": []string{sslMode}}.Encode(),
	}
	return u.String()
}
