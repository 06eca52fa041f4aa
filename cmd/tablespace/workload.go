package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chazu/tablespace/binding"
	"github.com/chazu/tablespace/channel"
	"github.com/chazu/tablespace/table"
)

// Report summarises one workload run.
type Report struct {
	Threads    int
	Iterations int
	Scratch    int   // entries left in G.scratch
	Counted    int64 // sum of G.counters
	Events     int   // completion messages received
	Live       int   // live entities after the final sweep
	Sweeps     uint64
	Duration   time.Duration
}

// Print writes the report in a fixed layout.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "threads:     %d\n", r.Threads)
	fmt.Fprintf(w, "iterations:  %d\n", r.Iterations)
	fmt.Fprintf(w, "scratch:     %d entries\n", r.Scratch)
	fmt.Fprintf(w, "counted:     %d\n", r.Counted)
	fmt.Fprintf(w, "events:      %d\n", r.Events)
	fmt.Fprintf(w, "live:        %d entities\n", r.Live)
	fmt.Fprintf(w, "sweeps:      %d\n", r.Sweeps)
	fmt.Fprintf(w, "duration:    %s\n", r.Duration)
}

// runWorkload starts threads workers over the module's global table.
//
// G.counters counts iterations per worker; its __index handler makes
// missing counters read as zero. G.scratch receives one record per
// iteration, every other one deleted again, and each record points back
// at its worker's table so deleted records leave cycles for the
// collector. G.events carries one message per finished worker.
func runWorkload(ctx context.Context, mod *binding.Module, threads, iterations int) (*Report, error) {
	start := time.Now()
	s := mod.Space()
	g := mod.G()

	counters, err := mod.SetMetatable(table.NewPlain(), table.PlainOf(
		"__index", table.GoFunc(func(args ...any) ([]any, error) {
			return []any{int64(0)}, nil
		}),
	))
	if err != nil {
		return nil, err
	}
	defer counters.Release()
	scratch := s.NewTable()
	defer scratch.Release()
	events := s.NewChannel(threads)

	for _, kv := range []struct {
		key   string
		value any
	}{{"counters", counters}, {"scratch", scratch}, {"events", events}} {
		if _, err := mod.RawSet(g, kv.key, kv.value); err != nil {
			return nil, err
		}
	}
	// G now owns the channel.
	s.Collector().Release(events.Handle())

	eg, egCtx := errgroup.WithContext(ctx)
	for id := range threads {
		eg.Go(func() error {
			return work(egCtx, mod, id, iterations, counters, scratch, events)
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	r := &Report{Threads: threads, Iterations: iterations, Scratch: scratch.Size()}
	for events.Size() > 0 {
		if _, ok := events.Pop(ctx); !ok {
			break
		}
		r.Events++
	}
	it, err := mod.Pairs(counters)
	if err != nil {
		return nil, err
	}
	err = it.Each(func(_, v any) bool {
		n, _ := v.(int64)
		r.Counted += n
		return true
	})
	if err != nil {
		return nil, err
	}
	r.Duration = time.Since(start)
	return r, nil
}

func work(ctx context.Context, mod *binding.Module, id, iterations int, counters, scratch table.SharedTable, events *channel.Channel) error {
	name := fmt.Sprintf("worker%d", id)
	own, err := mod.Table(table.PlainOf("id", id))
	if err != nil {
		return err
	}
	defer own.Release()
	if _, err := mod.RawSet(scratch, name, own); err != nil {
		return err
	}

	for n := range iterations {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := fmt.Sprintf("%s-%d", name, n)
		if err := scratch.NewIndex(key, table.PlainOf("n", n, "owner", own)); err != nil {
			return err
		}
		rec, err := scratch.Index(key)
		if err != nil {
			return err
		}
		if err := own.RawSet("last", rec); err != nil {
			return err
		}

		c, err := counters.Index(name)
		if err != nil {
			return err
		}
		if err := counters.RawSet(name, c.(int64)+1); err != nil {
			return err
		}

		if n%2 == 0 {
			if err := scratch.RawSet(key, nil); err != nil {
				return err
			}
		}
	}

	if !events.Push(name, iterations) {
		return fmt.Errorf("%s: events channel rejected completion message", name)
	}
	return nil
}
