package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadManifest(t *testing.T) {
	// Create a temporary directory with a tablespace.toml
	dir := t.TempDir()
	tomlContent := `
[collector]
sweep-interval = "5s"
auto-sweep = false

[locks]
detect-deadlocks = true
deadlock-timeout = "2s"

[log]
verbosity = 2
file = "tablespace.log"

[workload]
threads = 16
iterations = 250
`
	if err := os.WriteFile(filepath.Join(dir, "tablespace.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Collector.SweepInterval != 5*time.Second {
		t.Errorf("sweep-interval = %s, want 5s", m.Collector.SweepInterval)
	}
	if m.Collector.AutoSweep {
		t.Error("auto-sweep = true, want false")
	}
	if !m.Locks.DetectDeadlocks {
		t.Error("detect-deadlocks = false, want true")
	}
	if m.Locks.DeadlockTimeout != 2*time.Second {
		t.Errorf("deadlock-timeout = %s, want 2s", m.Locks.DeadlockTimeout)
	}
	if m.Log.Verbosity != 2 {
		t.Errorf("verbosity = %d, want 2", m.Log.Verbosity)
	}
	if want := filepath.Join(dir, "tablespace.log"); m.LogPath() != want {
		t.Errorf("LogPath = %q, want %q", m.LogPath(), want)
	}
	if m.Workload.Threads != 16 || m.Workload.Iterations != 250 {
		t.Errorf("workload = %+v, want 16 threads, 250 iterations", m.Workload)
	}
	if m.Path != filepath.Join(dir, "tablespace.toml") {
		t.Errorf("Path = %q", m.Path)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[workload]
threads = 2
`
	if err := os.WriteFile(filepath.Join(dir, "tablespace.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	def := Default()
	if m.Collector != def.Collector {
		t.Errorf("collector = %+v, want defaults %+v", m.Collector, def.Collector)
	}
	if m.Workload.Threads != 2 || m.Workload.Iterations != def.Workload.Iterations {
		t.Errorf("workload = %+v", m.Workload)
	}
	if m.LogPath() != "" {
		t.Errorf("LogPath = %q, want empty", m.LogPath())
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	yamlContent := `
collector:
  sweep-interval: 250ms
locks:
  detect-deadlocks: true
workload:
  threads: 3
`
	if err := os.WriteFile(filepath.Join(dir, "tablespace.yaml"), []byte(yamlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Collector.SweepInterval != 250*time.Millisecond {
		t.Errorf("sweep-interval = %s, want 250ms", m.Collector.SweepInterval)
	}
	if !m.Collector.AutoSweep {
		t.Error("auto-sweep should keep its default")
	}
	if !m.Locks.DetectDeadlocks || m.Workload.Threads != 3 {
		t.Errorf("manifest = %+v", m)
	}
}

func TestTOMLPreferredOverYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tablespace.toml"), []byte("[workload]\nthreads = 7\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tablespace.yaml"), []byte("workload:\n  threads: 9\n"), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if m.Workload.Threads != 7 {
		t.Errorf("threads = %d, want 7 from the TOML file", m.Workload.Threads)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"syntax", "tablespace.toml", "[workload\n", "parse error"},
		{"threads", "tablespace.toml", "[workload]\nthreads = 0\n", "workload.threads"},
		{"iterations", "tablespace.yaml", "workload:\n  iterations: -1\n", "workload.iterations"},
		{"interval", "tablespace.toml", "[collector]\nsweep-interval = \"0s\"\n", "collector.sweep-interval"},
		{"timeout", "tablespace.toml", "[locks]\ndeadlock-timeout = \"-1s\"\n", "locks.deadlock-timeout"},
		{"verbosity", "tablespace.toml", "[log]\nverbosity = -3\n", "log.verbosity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, tt.file), []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(dir)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir())
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load on empty dir = %v, want ErrNotExist", err)
	}
}

func TestFindAndLoad(t *testing.T) {
	// Create nested directory structure
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}

	tomlContent := `[workload]
threads = 12
`
	if err := os.WriteFile(filepath.Join(dir, "tablespace.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Workload.Threads != 12 {
		t.Errorf("threads = %d, want 12", m.Workload.Threads)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no tablespace.toml exists")
	}
}

func TestLogPathAbsolute(t *testing.T) {
	m := &Manifest{Path: "/app/tablespace.toml", Log: Log{File: "/var/log/ts.log"}}
	if got := m.LogPath(); got != "/var/log/ts.log" {
		t.Errorf("LogPath = %q, want /var/log/ts.log", got)
	}
	m.Log.File = "logs/ts.log"
	if got := m.LogPath(); got != "/app/logs/ts.log" {
		t.Errorf("LogPath = %q, want /app/logs/ts.log", got)
	}
}
