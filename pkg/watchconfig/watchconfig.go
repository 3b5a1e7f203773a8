// Package watchconfig loads the static watchlist ratewatch starts with from
// a YAML file, adapted from the teacher's internal/config package: same
// read-unmarshal-validate shape, same errors.Join aggregation of every
// validation failure rather than stopping at the first one.
package watchconfig

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tripwire/ratewatch/pkg/wire"
)

// Config is the top-level watchlist configuration file format.
type Config struct {
	// Monitors is the set of process names to watch on startup, each with
	// its own per-metric thresholds. Entries set here are equivalent to
	// calling set_monitor for each one before the first next_event call.
	Monitors []MonitorEntry `yaml:"monitors"`
}

// MonitorEntry is one named process's threshold vector.
type MonitorEntry struct {
	// Name is the process name (comm on Linux, image name on Windows) to
	// watch. Required.
	Name string `yaml:"name"`

	// NetworkBytesPerSec bounds MetricNetwork; 0 or omitted means no limit.
	NetworkBytesPerSec uint32 `yaml:"network_bytes_per_sec,omitempty"`

	// DiskBytesPerSec bounds MetricDisk; 0 or omitted means no limit.
	DiskBytesPerSec uint32 `yaml:"disk_bytes_per_sec,omitempty"`
}

// Threshold converts the entry's YAML fields into a wire.Threshold vector.
// Cpu and Memory are always 0 (no limit): §4.5 scopes the metering engine
// to disk and network only.
func (e MonitorEntry) Threshold() wire.Threshold {
	var t wire.Threshold
	t.Limits[wire.MetricDisk] = e.DiskBytesPerSec
	t.Limits[wire.MetricNetwork] = e.NetworkBytesPerSec
	return t
}

// Load reads the YAML file at path, unmarshals it into Config, and
// validates every entry, returning every validation failure found rather
// than only the first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("watchconfig: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("watchconfig: cannot parse %q: %w", path, err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("watchconfig: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []error

	seen := make(map[string]bool, len(cfg.Monitors))
	for i, m := range cfg.Monitors {
		prefix := fmt.Sprintf("monitors[%d]", i)
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", prefix))
			continue
		}
		if seen[m.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate monitor name %q", prefix, m.Name))
		}
		seen[m.Name] = true
		if m.NetworkBytesPerSec == 0 && m.DiskBytesPerSec == 0 {
			errs = append(errs, fmt.Errorf("%s: %q has no thresholds set, it would never violate", prefix, m.Name))
		}
	}

	return errors.Join(errs...)
}
