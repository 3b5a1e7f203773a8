package watchconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tripwire/ratewatch/pkg/wire"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "watchlist.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTempConfig(t, `
monitors:
  - name: curl
    network_bytes_per_sec: 1000
  - name: dd
    disk_bytes_per_sec: 5000000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Monitors) != 2 {
		t.Fatalf("got %d monitors, want 2", len(cfg.Monitors))
	}

	th := cfg.Monitors[0].Threshold()
	if th.Get(wire.MetricNetwork) != 1000 {
		t.Fatalf("network threshold = %d, want 1000", th.Get(wire.MetricNetwork))
	}
	if th.Get(wire.MetricCPU) != 0 || th.Get(wire.MetricMemory) != 0 {
		t.Fatal("cpu/memory thresholds must always be zero")
	}
}

func TestLoadRejectsMissingName(t *testing.T) {
	path := writeTempConfig(t, `
monitors:
  - network_bytes_per_sec: 1000
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for missing name")
	}
}

func TestLoadRejectsDuplicateName(t *testing.T) {
	path := writeTempConfig(t, `
monitors:
  - name: curl
    network_bytes_per_sec: 1000
  - name: curl
    disk_bytes_per_sec: 1000
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for duplicate name")
	}
}

func TestLoadRejectsNoThresholds(t *testing.T) {
	path := writeTempConfig(t, `
monitors:
  - name: curl
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for an entry with no thresholds")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
