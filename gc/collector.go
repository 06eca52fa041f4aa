// Package gc implements the handle space shared by all script threads.
//
// Entities (tables, functions, channels) live in an arena addressed by
// opaque handles. Each entity carries three counts:
//   - references: incoming edges from containers (table entries, metatables)
//   - holds: explicit strong references taken and given back by the host
//   - views: live host objects that reach the entity, released when the Go
//     runtime finds them unreachable
//
// An entity whose counts all drop to zero is unlinked and queued for
// release. Reference cycles are found by Collect, which marks from held or
// viewed entities across Referrer edges.
package gc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("tablespace.gc")

// Handle is an opaque identifier naming one shared entity.
// Handles are issued in increasing order and never reused.
type Handle uint64

// Null is the zero handle. It never names an entity.
const Null Handle = 0

// ErrStaleHandle is returned when a handle no longer names a live entity
// of the requested type.
var ErrStaleHandle = errors.New("stale handle")

// Releaser is implemented by entities that own references to other
// entities. Release is called exactly once, after the entity has been
// unlinked, and must drop every reference the entity holds.
type Releaser interface {
	Release(c *Collector)
}

// Referrer is implemented by entities that reference other entities.
// References must return a consistent snapshot of outgoing edges.
type Referrer interface {
	References() []Handle
}

type entry struct {
	obj   any
	refs  int
	holds int
	views int
}

// Stats holds statistics from a single collection.
type Stats struct {
	Live      int
	Swept     int
	Reclaimed int
	Duration  time.Duration
	Timestamp time.Time
}

// Collector owns the handle arena and the reference counts.
// All methods are safe for concurrent use.
type Collector struct {
	mu      sync.Mutex
	entries map[Handle]*entry
	pending []any
	nextID  atomic.Uint64

	// Handles touched while a collection is tracing.
	collecting bool
	touched    map[Handle]struct{}

	collections atomic.Uint64
	reclaimed   atomic.Uint64
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		entries: make(map[Handle]*entry),
	}
}

// Create allocates a handle, builds the entity for it and stores it.
// The new entity starts with one hold owned by the caller.
func (c *Collector) Create(build func(h Handle) any) Handle {
	h := Handle(c.nextID.Add(1))
	obj := build(h)

	c.mu.Lock()
	c.entries[h] = &entry{obj: obj, holds: 1}
	c.touch(h)
	c.mu.Unlock()

	return h
}

// Get resolves a handle to its entity.
func Get[T any](c *Collector, h Handle) (T, error) {
	var zero T
	if h == Null {
		return zero, fmt.Errorf("%w: null handle", ErrStaleHandle)
	}

	c.mu.Lock()
	e, ok := c.entries[h]
	c.mu.Unlock()

	if !ok {
		return zero, fmt.Errorf("%w: %d", ErrStaleHandle, h)
	}
	obj, ok := e.obj.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %d has type %T", ErrStaleHandle, h, e.obj)
	}
	return obj, nil
}

// AddReference records one container edge pointing at h.
func (c *Collector) AddReference(h Handle) {
	if h == Null {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[h]; ok {
		e.refs++
		c.touch(h)
	}
}

// RemoveReference drops one container edge pointing at h. Removing the
// last edge of an unheld entity queues it for release.
func (c *Collector) RemoveReference(h Handle) {
	if h == Null {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[h]; ok && e.refs > 0 {
		e.refs--
		c.maybeUnlink(h, e)
	}
}

// Hold records one transient strong reference to h.
func (c *Collector) Hold(h Handle) {
	if h == Null {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[h]; ok {
		e.holds++
		c.touch(h)
	}
}

// Acquire is Hold for a handle that may already be gone. It fails with
// ErrStaleHandle instead of doing nothing.
func (c *Collector) Acquire(h Handle) error {
	if h == Null {
		return fmt.Errorf("%w: null handle", ErrStaleHandle)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrStaleHandle, h)
	}
	e.holds++
	c.touch(h)
	return nil
}

// AddView records one live host view of h.
func (c *Collector) AddView(h Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrStaleHandle, h)
	}
	e.views++
	c.touch(h)
	return nil
}

// DropView forgets one host view of h. The last view of an entity
// nothing else refers to queues it for release.
func (c *Collector) DropView(h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[h]; ok && e.views > 0 {
		e.views--
		c.maybeUnlink(h, e)
	}
}

// Views returns the number of live host views of h.
func (c *Collector) Views(h Handle) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[h]; ok {
		return e.views
	}
	return 0
}

// Release drops one transient strong reference to h.
func (c *Collector) Release(h Handle) {
	if h == Null {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[h]; ok && e.holds > 0 {
		e.holds--
		c.maybeUnlink(h, e)
	}
}

// Refs reports the reference and hold counts of h.
func (c *Collector) Refs(h Handle) (refs, holds int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[h]
	if !ok {
		return 0, 0, false
	}
	return e.refs, e.holds, true
}

// Alive returns true if h names a live entity.
func (c *Collector) Alive(h Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[h]
	return ok
}

// Count returns the number of live entities.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Pending returns the number of unlinked entities awaiting Reclaim.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Reclaim runs the release hook of every queued entity. Hooks may queue
// further entities; Reclaim drains until the queue is empty. It must not
// be called while the caller holds any entity lock.
func (c *Collector) Reclaim() int {
	n := 0
	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.mu.Unlock()
			break
		}
		obj := c.pending[len(c.pending)-1]
		c.pending = c.pending[:len(c.pending)-1]
		c.mu.Unlock()

		if r, ok := obj.(Releaser); ok {
			r.Release(c)
		}
		n++
	}
	if n > 0 {
		c.reclaimed.Add(uint64(n))
		log.Debugf("reclaimed %d entities", n)
	}
	return n
}

// Collections returns the number of completed collections.
func (c *Collector) Collections() uint64 {
	return c.collections.Load()
}

// Reclaimed returns the total number of entities released so far.
func (c *Collector) Reclaimed() uint64 {
	return c.reclaimed.Load()
}

// Collect finds entities unreachable from any held or viewed entity and releases
// them. Counts alone cannot free reference cycles; this pass can.
//
// Tracing calls References without the collector lock held, so entities
// may be mutated concurrently. Any handle gaining a reference or hold
// while tracing runs is treated as an extra root.
func (c *Collector) Collect() *Stats {
	start := time.Now()

	c.mu.Lock()
	if c.collecting {
		live := len(c.entries)
		c.mu.Unlock()
		return &Stats{Timestamp: start, Live: live}
	}
	c.collecting = true
	c.touched = make(map[Handle]struct{})
	objs := make(map[Handle]any, len(c.entries))
	var grey []Handle
	for h, e := range c.entries {
		objs[h] = e.obj
		if e.holds > 0 || e.views > 0 {
			grey = append(grey, h)
		}
	}
	c.mu.Unlock()

	marked := make(map[Handle]struct{}, len(objs))
	trace := func(roots []Handle) {
		for len(roots) > 0 {
			h := roots[len(roots)-1]
			roots = roots[:len(roots)-1]
			if _, ok := marked[h]; ok {
				continue
			}
			marked[h] = struct{}{}
			if r, ok := objs[h].(Referrer); ok {
				roots = append(roots, r.References()...)
			}
		}
	}
	trace(grey)

	var swept int
	c.mu.Lock()
	for {
		var extra []Handle
		for h := range c.touched {
			if _, ok := marked[h]; !ok {
				extra = append(extra, h)
			}
		}
		clear(c.touched)
		if len(extra) == 0 {
			break
		}
		c.mu.Unlock()
		trace(extra)
		c.mu.Lock()
	}
	for h := range objs {
		if _, ok := marked[h]; ok {
			continue
		}
		e, ok := c.entries[h]
		if !ok || e.holds > 0 || e.views > 0 {
			continue
		}
		delete(c.entries, h)
		c.pending = append(c.pending, e.obj)
		swept++
	}
	c.collecting = false
	c.touched = nil
	live := len(c.entries)
	c.mu.Unlock()

	reclaimed := c.Reclaim()
	c.collections.Add(1)

	stats := &Stats{
		Live:      live,
		Swept:     swept,
		Reclaimed: reclaimed,
		Duration:  time.Since(start),
		Timestamp: start,
	}
	log.Debugf("collection: %d live, %d swept, %d reclaimed in %s",
		stats.Live, stats.Swept, stats.Reclaimed, stats.Duration)
	return stats
}

// maybeUnlink queues e for release once nothing refers to it.
// Caller must hold c.mu.
func (c *Collector) maybeUnlink(h Handle, e *entry) {
	if e.refs > 0 || e.holds > 0 || e.views > 0 {
		return
	}
	delete(c.entries, h)
	c.pending = append(c.pending, e.obj)
}

// touch records h as live for an in-progress collection.
// Caller must hold c.mu.
func (c *Collector) touch(h Handle) {
	if c.collecting {
		c.touched[h] = struct{}{}
	}
}
