package config

import (
	"flag"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/vshulcz/synapse-stats-exporter/internal/domain"
	"github.com/vshulcz/synapse-stats-exporter/internal/misc"
)

const (
	defaultPollInterval   = 60
	defaultFetchTimeout   = 10
	defaultExporterPort   = 9877
	defaultBaseURL        = "http://localhost:8008"
	defaultUser           = "user"
	defaultPassword       = "password"
	defaultDBHost         = "host"
	defaultDBPort         = 5432
	defaultDBName         = "synapse"
	defaultSSLMode        = "prefer"
	defaultDriver         = DriverPgx
	defaultPoolMin        = 1
	defaultPoolMax        = 3
	defaultAcquireTimeout = 2 * time.Second
	defaultLogLevel       = "info"
)

// SQL drivers accepted by PROM_SYNAPSE_DB_DRIVER. lib/pq does not implement
// the prefer and allow sslmodes, so pgx is the default.
const (
	DriverPQ  = "postgres"
	DriverPgx = "pgx"
)

// PollConfig controls the fetch schedule and the metrics listener.
type PollConfig struct {
	Interval     time.Duration
	FetchTimeout time.Duration
	ExporterPort int
}

// ListenAddr is the address the metrics endpoint binds to.
func (p PollConfig) ListenAddr() string {
	return fmt.Sprintf(":%d", p.ExporterPort)
}

// APISourceConfig configures the admin API data source. When AdminToken is
// empty the exporter logs in with User/Password at startup.
type APISourceConfig struct {
	BaseURL    string
	AdminToken string
	User       string
	Password   string
}

// DBSourceConfig configures the direct database data source.
type DBSourceConfig struct {
	Host           string
	Port           int
	Database       string
	User           string
	Password       string
	SSLMode        string
	Driver         string
	PoolMin        int
	PoolMax        int
	AcquireTimeout time.Duration
}

// ExporterConfig is the full, immutable process configuration.
type ExporterConfig struct {
	Poll     PollConfig
	Source   domain.SourceKind
	API      APISourceConfig
	DB       DBSourceConfig
	LogLevel string
}

// LoadExporterConfig resolves configuration with ENV > CLI > defaults.
func LoadExporterConfig(args []string, out io.Writer) (ExporterConfig, error) {
	if out == nil {
		out = io.Discard
	}

	fs := flag.NewFlagSet("exporter", flag.ContinueOnError)
	fs.SetOutput(out)

	var (
		intervalOpt int
		timeoutOpt  int
		portOpt     int
		sourceOpt   string
		baseURLOpt  string
		tokenOpt    string
	)
	fs.IntVar(&intervalOpt, "i", 0, fmt.Sprintf("polling interval in seconds, default: %d", defaultPollInterval))
	fs.IntVar(&timeoutOpt, "t", 0, fmt.Sprintf("per-fetch timeout in seconds, default: %d", defaultFetchTimeout))
	fs.IntVar(&portOpt, "p", 0, fmt.Sprintf("metrics endpoint port, default: %d", defaultExporterPort))
	fs.StringVar(&sourceOpt, "s", "", "data source: api or db (default: db when PROM_SYNAPSE_HOST is set, else api)")
	fs.StringVar(&baseURLOpt, "u", "", fmt.Sprintf("Synapse base URL, default: %s", defaultBaseURL))
	fs.StringVar(&tokenOpt, "k", "", "admin access token (skips password login)")

	if err := fs.Parse(args); err != nil {
		return ExporterConfig{}, err
	}

	poll, err := loadPollConfig(intervalOpt, timeoutOpt, portOpt)
	if err != nil {
		return ExporterConfig{}, err
	}

	defSource := string(domain.SourceAPI)
	if misc.Getenv("PROM_SYNAPSE_HOST", "") != "" {
		defSource = string(domain.SourceDB)
	}
	source, err := domain.ParseSourceKind(strings.ToLower(FromEnvOrFlag("PROM_SYNAPSE_SOURCE", sourceOpt, defSource)))
	if err != nil {
		return ExporterConfig{}, err
	}

	cfg := ExporterConfig{
		Poll:     poll,
		Source:   source,
		LogLevel: misc.Getenv("LOG_LEVEL", defaultLogLevel),
	}

	switch source {
	case domain.SourceAPI:
		cfg.API, err = loadAPIConfig(baseURLOpt, tokenOpt)
	case domain.SourceDB:
		cfg.DB, err = loadDBConfig()
	}
	if err != nil {
		return ExporterConfig{}, err
	}
	return cfg, nil
}

func loadPollConfig(intervalOpt, timeoutOpt, portOpt int) (PollConfig, error) {
	interval, err := FromEnvOrFlagDuration("POLLING_INTERVAL_SECONDS", intervalOpt, defaultPollInterval)
	if err != nil {
		return PollConfig{}, err
	}
	if interval <= 0 {
		return PollConfig{}, fmt.Errorf("polling interval must be > 0, got %v", interval)
	}

	timeout, err := FromEnvOrFlagDuration("FETCH_TIMEOUT_SECONDS", timeoutOpt, defaultFetchTimeout)
	if err != nil {
		return PollConfig{}, err
	}
	if timeout <= 0 {
		return PollConfig{}, fmt.Errorf("fetch timeout must be > 0, got %v", timeout)
	}

	port, err := FromEnvOrFlagInt("EXPORTER_PORT", portOpt, defaultExporterPort)
	if err != nil {
		return PollConfig{}, err
	}
	if port <= 0 || port > 65535 {
		return PollConfig{}, fmt.Errorf("exporter port out of range: %d", port)
	}

	return PollConfig{Interval: interval, FetchTimeout: timeout, ExporterPort: port}, nil
}

func loadAPIConfig(baseURLOpt, tokenOpt string) (APISourceConfig, error) {
	base := normalizeBaseURL(FromEnvOrFlag("PROM_SYNAPSE_BASE_URL", baseURLOpt, defaultBaseURL))
	if _, err := url.ParseRequestURI(base); err != nil {
		return APISourceConfig{}, fmt.Errorf("invalid base url: %q", base)
	}
	return APISourceConfig{
		BaseURL:    base,
		AdminToken: FromEnvOrFlag("PROM_SYNAPSE_ADMIN_TOKEN", tokenOpt, ""),
		User:       misc.Getenv("PROM_SYNAPSE_USER", defaultUser),
		Password:   misc.Getenv("PROM_SYNAPSE_PASSWORD", defaultPassword),
	}, nil
}

func loadDBConfig() (DBSourceConfig, error) {
	port, err := FromEnvOrFlagInt("PROM_SYNAPSE_PORT", 0, defaultDBPort)
	if err != nil {
		return DBSourceConfig{}, err
	}
	if port <= 0 || port > 65535 {
		return DBSourceConfig{}, fmt.Errorf("database port out of range: %d", port)
	}

	poolMin, err := FromEnvOrFlagInt("PROM_SYNAPSE_POOL_MIN", 0, defaultPoolMin)
	if err != nil {
		return DBSourceConfig{}, err
	}
	poolMax, err := FromEnvOrFlagInt("PROM_SYNAPSE_POOL_MAX", 0, defaultPoolMax)
	if err != nil {
		return DBSourceConfig{}, err
	}
	if poolMin < 0 || poolMax < 1 || poolMin > poolMax {
		return DBSourceConfig{}, fmt.Errorf("invalid pool bounds [%d, %d]", poolMin, poolMax)
	}

	driver := strings.ToLower(misc.Getenv("PROM_SYNAPSE_DB_DRIVER", defaultDriver))
	if driver != DriverPQ && driver != DriverPgx {
		return DBSourceConfig{}, fmt.Errorf("unsupported database driver %q", driver)
	}
	sslMode := strings.ToLower(misc.Getenv("PROM_SYNAPSE_SSLMODE", defaultSSLMode))
	if driver == DriverPQ && (sslMode == "prefer" || sslMode == "allow") {
		return DBSourceConfig{}, fmt.Errorf("sslmode %q is not supported by the %q driver; use disable, require, verify-ca or verify-full", sslMode, DriverPQ)
	}

	return DBSourceConfig{
		Host:           misc.Getenv("PROM_SYNAPSE_HOST", defaultDBHost),
		Port:           port,
		Database:       misc.Getenv("PROM_SYNAPSE_DATABASE", defaultDBName),
		User:           misc.Getenv("PROM_SYNAPSE_USER", defaultUser),
		Password:       misc.Getenv("PROM_SYNAPSE_PASSWORD", defaultPassword),
		SSLMode:        sslMode,
		Driver:         driver,
		PoolMin:        poolMin,
		PoolMax:        poolMax,
		AcquireTimeout: misc.GetDuration("PROM_SYNAPSE_POOL_ACQUIRE_TIMEOUT", defaultAcquireTimeout),
	}, nil
}

func normalizeBaseURL(s string) string {
	s = strings.TrimRight(strings.TrimSpace(s), "/")
	if s == "" {
		return defaultBaseURL
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return s
	}
	if strings.HasPrefix(s, ":") {
		return "http://localhost" + s
	}
	return "http://" + s
}
