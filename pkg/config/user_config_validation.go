package config

import (
	"fmt"
	"time"
)

// MemoryDatabase is the database_url value that selects the ephemeral
// in-memory store instead of a bolt file.
const MemoryDatabase = "memory:"

// Validate rejects configurations the daemon cannot start with. It runs
// after env overrides so a bad deployment variable fails loudly instead
// of booting a half-configured daemon.
func (config *UserConfig) Validate() error {
	switch config.RuntimeMode {
	case "docker", "podman":
	default:
		return fmt.Errorf("unknown runtime_mode %q, expected docker or podman", config.RuntimeMode)
	}

	if config.DatabaseURL == "" {
		return fmt.Errorf("database_url must not be empty")
	}
	if config.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"stop_grace", config.StopGrace},
		{"status_poll", config.StatusPoll},
		{"download_timeout", config.DownloadTimeout},
		{"jwt_ttl", config.JWTTTL},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}

	return nil
}
