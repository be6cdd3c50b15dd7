package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDuration reads a settings duration such as "15s". Blank or zero yields def.
// key names the settings field in errors.
func ParseDuration(key, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration (want e.g. 10s, 1m30s)", key, raw)
	case d < 0:
		return 0, fmt.Errorf("%s: must not be negative", key)
	case d == 0:
		return def, nil
	}
	return d, nil
}
