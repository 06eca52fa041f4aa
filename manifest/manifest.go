// Package manifest handles tablespace.toml configuration.
//
// A tablespace.yaml (or .yml) file with the same layout is accepted when no
// TOML file is present.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Names of the files Load looks for, in order.
var FileNames = []string{"tablespace.toml", "tablespace.yaml", "tablespace.yml"}

// Manifest represents a tablespace configuration.
type Manifest struct {
	Collector Collector `toml:"collector" yaml:"collector"`
	Locks     Locks     `toml:"locks" yaml:"locks"`
	Log       Log       `toml:"log" yaml:"log"`
	Workload  Workload  `toml:"workload" yaml:"workload"`

	// Path is the file the manifest was read from (set at load time).
	Path string `toml:"-" yaml:"-"`
}

// Collector configures the background sweeper.
type Collector struct {
	SweepInterval time.Duration `toml:"sweep-interval" yaml:"sweep-interval"`
	AutoSweep     bool          `toml:"auto-sweep" yaml:"auto-sweep"`
}

// Locks configures table lock checking.
type Locks struct {
	DetectDeadlocks bool          `toml:"detect-deadlocks" yaml:"detect-deadlocks"`
	DeadlockTimeout time.Duration `toml:"deadlock-timeout" yaml:"deadlock-timeout"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity" yaml:"verbosity"`
	File      string `toml:"file" yaml:"file"`
}

// Workload configures the concurrent driver in cmd/tablespace.
type Workload struct {
	Threads    int `toml:"threads" yaml:"threads"`
	Iterations int `toml:"iterations" yaml:"iterations"`
}

// Default returns the configuration used when no file is found.
func Default() *Manifest {
	return &Manifest{
		Collector: Collector{SweepInterval: 30 * time.Second, AutoSweep: true},
		Locks:     Locks{DeadlockTimeout: 30 * time.Second},
		Workload:  Workload{Threads: 4, Iterations: 1000},
	}
}

// Load parses the manifest file in dir. Settings the file leaves out keep
// their Default values.
func Load(dir string) (*Manifest, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, fmt.Errorf("no manifest in %s: %w", dir, os.ErrNotExist)
}

// LoadFile parses one manifest file, choosing the format by extension.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, m)
	default:
		err = toml.Unmarshal(data, m)
	}
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a manifest file, then loads
// and returns it. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		m, err := Load(dir)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate reports the first setting that is out of range.
func (m *Manifest) Validate() error {
	switch {
	case m.Collector.AutoSweep && m.Collector.SweepInterval <= 0:
		return fmt.Errorf("collector.sweep-interval must be positive when auto-sweep is on, got %s", m.Collector.SweepInterval)
	case m.Locks.DeadlockTimeout < 0:
		return fmt.Errorf("locks.deadlock-timeout must not be negative, got %s", m.Locks.DeadlockTimeout)
	case m.Log.Verbosity < 0:
		return fmt.Errorf("log.verbosity must not be negative, got %d", m.Log.Verbosity)
	case m.Workload.Threads < 1:
		return fmt.Errorf("workload.threads must be at least 1, got %d", m.Workload.Threads)
	case m.Workload.Iterations < 0:
		return fmt.Errorf("workload.iterations must not be negative, got %d", m.Workload.Iterations)
	}
	return nil
}

// LogPath returns the configured log file as an absolute path, resolved
// against the manifest's directory. Empty means standard error.
func (m *Manifest) LogPath() string {
	if m.Log.File == "" || filepath.IsAbs(m.Log.File) || m.Path == "" {
		return m.Log.File
	}
	return filepath.Join(filepath.Dir(m.Path), m.Log.File)
}
