package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/chazu/tablespace/binding"
	"github.com/chazu/tablespace/gc"
	"github.com/chazu/tablespace/snapshot"
	"github.com/chazu/tablespace/table"
)

func TestRunWorkload(t *testing.T) {
	col := gc.NewCollector()
	mod := binding.New(table.NewSpace(col))
	defer mod.Close()

	const threads, iterations = 4, 50
	r, err := runWorkload(context.Background(), mod, threads, iterations)
	if err != nil {
		t.Fatalf("runWorkload: %v", err)
	}

	// One table per worker plus the odd-numbered records.
	if want := threads * (1 + iterations/2); r.Scratch != want {
		t.Errorf("Scratch = %d, want %d", r.Scratch, want)
	}
	if r.Counted != threads*iterations {
		t.Errorf("Counted = %d, want %d", r.Counted, threads*iterations)
	}
	if r.Events != threads {
		t.Errorf("Events = %d, want %d", r.Events, threads)
	}

	for _, key := range []string{"counters", "scratch", "events"} {
		if v, _ := mod.RawGet(mod.G(), key); v == nil {
			t.Errorf("G.%s missing after the run", key)
		}
	}

	col.Collect()
	scratch, err := mod.RawGet(mod.G(), "scratch")
	if err != nil {
		t.Fatal(err)
	}
	if n := scratch.(table.SharedTable).Size(); n != r.Scratch {
		t.Errorf("scratch has %d entries after collection, want %d", n, r.Scratch)
	}
	if _, err := mod.Dump(mod.G()); err != nil {
		t.Errorf("Dump after collection: %v", err)
	}

	// Records the workers looked up stay alive until their views are gone.
	mod.Close()
	deadline := time.Now().Add(5 * time.Second)
	for col.Collect(); col.Count() != 0 && time.Now().Before(deadline); col.Collect() {
		runtime.GC()
		time.Sleep(time.Millisecond)
	}
	if n := col.Count(); n != 0 {
		t.Errorf("Count after Close and Collect = %d, want 0", n)
	}
}

func TestRunWorkloadCancelled(t *testing.T) {
	mod := binding.New(table.NewSpace(gc.NewCollector()))
	defer mod.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := runWorkload(ctx, mod, 2, 10); err == nil {
		t.Error("runWorkload should fail on a cancelled context")
	}
}

func TestRunWritesSnapshot(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "tablespace.toml")
	content := "[collector]\nauto-sweep = false\n[workload]\nthreads = 2\niterations = 4\n"
	if err := os.WriteFile(manifestPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "g.cbor")

	if err := run(context.Background(), options{
		config: manifestPath, iterations: -1, verbosity: -1, snapshotOut: out,
	}); err != nil {
		t.Fatalf("run: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	p, err := snapshot.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := p.Fields["events"]; ok {
		t.Error("channels should be left out of the snapshot")
	}
	counters, ok := p.Fields["counters"].(*table.Plain)
	if !ok {
		t.Fatalf("counters = %v", p.Fields["counters"])
	}
	if counters.Fields["worker0"] != int64(4) || counters.Fields["worker1"] != int64(4) {
		t.Errorf("counters = %v, want 4 per worker", counters.Fields)
	}
	if counters.Meta == nil {
		t.Error("metatable should survive even though its function does not")
	}
}

func TestFormatPlain(t *testing.T) {
	root := table.PlainOf("b", "x", int64(2), true, false, 1.5)
	root.Fields["self"] = root
	root.Meta = table.PlainOf("__index", root)

	var buf bytes.Buffer
	formatPlain(&buf, root)
	want := `table#1 {
  [false] = 1.5
  [2] = true
  ["b"] = "x"
  ["self"] = table#1
  <metatable> = table#2 {
    ["__index"] = table#1
  }
}
`
	if got := buf.String(); got != want {
		t.Errorf("formatPlain =\n%s\nwant\n%s", got, want)
	}

	buf.Reset()
	formatPlain(&buf, table.NewPlain())
	if got := strings.TrimSpace(buf.String()); got != "table#1 {}" {
		t.Errorf("empty table = %q", got)
	}
}
