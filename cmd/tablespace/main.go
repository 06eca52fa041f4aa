// tablespace CLI - drives concurrent workers over one shared global table
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/tablespace/binding"
	"github.com/chazu/tablespace/gc"
	"github.com/chazu/tablespace/manifest"
	"github.com/chazu/tablespace/snapshot"
	"github.com/chazu/tablespace/table"
)

var log = commonlog.GetLogger("tablespace.cli")

type options struct {
	config      string
	threads     int
	iterations  int
	verbosity   int
	dump        bool
	snapshotOut string
	load        string
}

func main() {
	var opts options
	flag.StringVar(&opts.config, "c", "", "Manifest file (default: search upward for tablespace.toml)")
	flag.IntVar(&opts.threads, "threads", 0, "Worker threads (overrides the manifest)")
	flag.IntVar(&opts.iterations, "iterations", -1, "Iterations per worker (overrides the manifest)")
	flag.IntVar(&opts.verbosity, "v", -1, "Log verbosity (overrides the manifest)")
	flag.BoolVar(&opts.dump, "dump", false, "Print the global table after the run")
	flag.StringVar(&opts.snapshotOut, "snapshot", "", "Write a CBOR snapshot of the global table to this file (functions and channels are left out)")
	flag.StringVar(&opts.load, "load", "", "Seed the global table from a CBOR snapshot before the run")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tablespace [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs worker threads that share and mutate one global table, then reports.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  tablespace                            # Run with tablespace.toml or defaults\n")
		fmt.Fprintf(os.Stderr, "  tablespace -threads 16 -dump          # 16 workers, print G afterwards\n")
		fmt.Fprintf(os.Stderr, "  tablespace -snapshot g.cbor           # Save G when done\n")
		fmt.Fprintf(os.Stderr, "  tablespace -load g.cbor -iterations 0 # Inspect a saved snapshot\n")
	}
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	m, err := loadManifest(opts.config)
	if err != nil {
		return err
	}
	if opts.threads > 0 {
		m.Workload.Threads = opts.threads
	}
	if opts.iterations >= 0 {
		m.Workload.Iterations = opts.iterations
	}
	if opts.verbosity >= 0 {
		m.Log.Verbosity = opts.verbosity
	}
	if err := m.Validate(); err != nil {
		return err
	}

	var logPath *string
	if p := m.LogPath(); p != "" {
		logPath = &p
	}
	commonlog.Configure(m.Log.Verbosity, logPath)
	table.ConfigureLockChecking(m.Locks.DetectDeadlocks, m.Locks.DeadlockTimeout)

	col := gc.NewCollector()
	mod := binding.New(table.NewSpace(col))
	defer mod.Close()

	sweeper := gc.NewSweeper(col, m.Collector.SweepInterval)
	sweeper.SetEnabled(m.Collector.AutoSweep)
	sweeper.Start()
	defer sweeper.Stop()

	if opts.load != "" {
		if err := seed(mod, opts.load); err != nil {
			return err
		}
	}

	log.Infof("running %d workers x %d iterations", m.Workload.Threads, m.Workload.Iterations)
	report, err := runWorkload(ctx, mod, m.Workload.Threads, m.Workload.Iterations)
	if err != nil {
		return err
	}
	stats := sweeper.SweepNow()
	report.Live = stats.Live
	report.Sweeps = sweeper.SweepCount()
	report.Print(os.Stdout)

	if opts.dump {
		p, err := mod.Dump(mod.G())
		if err != nil {
			return err
		}
		formatPlain(os.Stdout, p)
	}
	if opts.snapshotOut != "" {
		data, err := snapshot.Save(mod.G(), snapshot.Options{SkipUnsupported: true})
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.snapshotOut, data, 0644); err != nil {
			return fmt.Errorf("cannot write snapshot: %w", err)
		}
		log.Infof("wrote %d bytes to %s", len(data), opts.snapshotOut)
	}
	return nil
}

// loadManifest reads the named file, or searches upward from the working
// directory. With no file anywhere the defaults apply.
func loadManifest(path string) (*manifest.Manifest, error) {
	if path != "" {
		return manifest.LoadFile(path)
	}
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if m == nil {
		return manifest.Default(), nil
	}
	return m, nil
}

// seed stores the snapshot in path under G.seed.
func seed(mod *binding.Module, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read snapshot: %w", err)
	}
	t, err := snapshot.Load(mod.Space(), data)
	if err != nil {
		return err
	}
	defer t.Release()
	_, err = mod.RawSet(mod.G(), "seed", t)
	return err
}
