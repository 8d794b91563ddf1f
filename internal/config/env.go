package config

import (
	"fmt"
)

// FromEnv overlays MEDIAFLO_* environment variables onto cfg. Keys follow
// the file layout with dots replaced by underscores, for example
// MEDIAFLO_RELAY_POLL_INTERVAL=250ms or MEDIAFLO_STORAGE_BACKEND=redis.
func FromEnv(cfg *Config) error {
	v := newViper(*cfg)
	var out Config
	if err := v.Unmarshal(&out); err != nil {
		return fmt.Errorf("config: env overlay: %w", err)
	}
	*cfg = out
	return nil
}
