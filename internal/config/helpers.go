package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// FromEnvOrFlag returns the environment value when present, otherwise falls back to a CLI flag then default.
func FromEnvOrFlag(envKey, flagVal, def string) string {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		return v
	}
	if v := strings.TrimSpace(flagVal); v != "" {
		return v
	}
	return def
}

// FromEnvOrFlagInt resolves an integer; a malformed env value is an error rather than a silent default.
func FromEnvOrFlagInt(envKey string, flagVal, def int) (int, error) {
	if ev := strings.TrimSpace(os.Getenv(envKey)); ev != "" {
		n, err := strconv.Atoi(ev)
		if err != nil {
			return 0, fmt.Errorf("invalid %s=%q: not an integer", envKey, ev)
		}
		return n, nil
	}
	if flagVal != 0 {
		return flagVal, nil
	}
	return def, nil
}

// FromEnvOrFlagDuration reads plain seconds or Go duration syntax from env,
// then a seconds flag (0 means unset), then the default.
func FromEnvOrFlagDuration(envKey string, flagSeconds, defSeconds int) (time.Duration, error) {
	if ev := strings.TrimSpace(os.Getenv(envKey)); ev != "" {
		if n, err := strconv.ParseInt(ev, 10, 64); err == nil {
			return time.Duration(n) * time.Second, nil
		}
		if d, err := time.ParseDuration(ev); err == nil {
			return d, nil
		}
		return 0, fmt.Errorf("invalid %s=%q: want seconds or a duration like 30s", envKey, ev)
	}
	if flagSeconds != 0 {
		return time.Duration(flagSeconds) * time.Second, nil
	}
	return time.Duration(defSeconds) * time.Second, nil
}
