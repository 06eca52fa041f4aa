package table

import (
	"time"
	"weak"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/sasha-s/go-deadlock"

	"github.com/chazu/tablespace/gc"
)

// ConfigureLockChecking turns lock-order and deadlock detection for table
// locks on or off, process-wide. A positive timeout sets how long a lock
// wait may last before it is reported.
func ConfigureLockChecking(enabled bool, timeout time.Duration) {
	deadlock.Opts.Disable = !enabled
	if timeout > 0 {
		deadlock.Opts.DeadlockTimeout = timeout
	}
}

// tableContext is the shared core of one table identity.
//
// Readers take lock.RLock; anything that inserts, erases or swaps the
// metatable takes lock.Lock. No method calls out to handler code or takes
// another table's lock while lock is held.
type tableContext struct {
	space     *Space
	handle    gc.Handle
	lock      deadlock.RWMutex
	entries   *redblacktree.Tree // StoredValue -> StoredValue
	metatable gc.Handle

	viewMu  deadlock.Mutex
	current weak.Pointer[view]
}

func newEntries() *redblacktree.Tree {
	return redblacktree.NewWith(func(a, b interface{}) int {
		return compareStored(a.(StoredValue), b.(StoredValue))
	})
}

func (c *tableContext) get(key StoredValue) (StoredValue, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	v, ok := c.entries.Get(key)
	if !ok {
		return StoredValue{}, false
	}
	return v.(StoredValue), true
}

// lookup returns the host form of the value under key. Unpacking happens
// under the read lock so a concurrent erase cannot free the value first.
func (c *tableContext) lookup(key StoredValue) (any, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	v, ok := c.entries.Get(key)
	if !ok {
		return nil, nil
	}
	return c.space.unpack(v.(StoredValue))
}

// set installs key -> value. Both arrive carrying one transient hold each;
// the container's reference replaces them.
func (c *tableContext) set(key, value StoredValue) {
	col := c.space.collector

	c.lock.Lock()
	defer c.lock.Unlock()

	col.AddReference(key.Handle())
	col.AddReference(value.Handle())
	col.Release(key.Handle())
	col.Release(value.Handle())

	if old, ok := c.entries.Get(key); ok {
		// The existing key object stays; drop the duplicate reference.
		col.RemoveReference(key.Handle())
		col.RemoveReference(old.(StoredValue).Handle())
	}
	c.entries.Put(key, value)
}

// erase removes key if present. Missing keys are not an error.
func (c *tableContext) erase(key StoredValue) {
	col := c.space.collector

	c.lock.Lock()
	defer c.lock.Unlock()

	node, ok := c.ceiling(key)
	if !ok || compareStored(node.Key.(StoredValue), key) != 0 {
		return
	}
	storedKey := node.Key.(StoredValue)
	storedValue := node.Value.(StoredValue)
	c.entries.Remove(key)
	col.RemoveReference(storedKey.Handle())
	col.RemoveReference(storedValue.Handle())
}

// setMetatable replaces the metatable handle; gc.Null clears it.
func (c *tableContext) setMetatable(h gc.Handle) {
	col := c.space.collector

	c.lock.Lock()
	defer c.lock.Unlock()

	if c.metatable != gc.Null {
		col.RemoveReference(c.metatable)
		c.metatable = gc.Null
	}
	if h != gc.Null {
		c.metatable = h
		col.AddReference(h)
	}
}

// metatableView returns a view of the metatable, made while the table
// still references it.
func (c *tableContext) metatableView() (SharedTable, bool, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if c.metatable == gc.Null {
		return SharedTable{}, false, nil
	}
	mt, err := c.space.tableFor(c.metatable, true)
	if err != nil {
		return SharedTable{}, false, err
	}
	return mt, true, nil
}

func (c *tableContext) size() int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.entries.Size()
}

// next returns the first entry whose key is strictly greater than key, or
// the first entry overall when from is false, in host form. k is nil once
// the table is exhausted.
func (c *tableContext) next(key StoredValue, from bool) (k, v any, err error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	var node *redblacktree.Node
	if from {
		node = c.upperBound(key)
	} else {
		node = c.entries.Left()
	}
	if node == nil {
		return nil, nil, nil
	}
	if k, err = c.space.unpack(node.Key.(StoredValue)); err != nil {
		return nil, nil, err
	}
	if v, err = c.space.unpack(node.Value.(StoredValue)); err != nil {
		return nil, nil, err
	}
	return k, v, nil
}

// sequenceLength counts the keys 1, 2, ... n that follow each other in key
// order. It stops at the first gap.
func (c *tableContext) sequenceLength() int64 {
	c.lock.RLock()
	defer c.lock.RUnlock()

	one := intValue(1)
	node, ok := c.ceiling(one)
	if !ok || node.Key.(StoredValue) != one {
		return 0
	}
	var n int64
	for node != nil {
		k := node.Key.(StoredValue)
		if k.kind != KindInt || k.i != n+1 {
			break
		}
		n++
		node = c.upperBound(k)
	}
	return n
}

// snapshot copies the entries and metatable handle.
func (c *tableContext) snapshot() (keys, values []StoredValue, mt gc.Handle) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	keys = make([]StoredValue, 0, c.entries.Size())
	values = make([]StoredValue, 0, c.entries.Size())
	it := c.entries.Iterator()
	for it.Next() {
		keys = append(keys, it.Key().(StoredValue))
		values = append(values, it.Value().(StoredValue))
	}
	return keys, values, c.metatable
}

// References lists every handle this table holds a reference to.
func (c *tableContext) References() []gc.Handle {
	c.lock.RLock()
	defer c.lock.RUnlock()

	var refs []gc.Handle
	it := c.entries.Iterator()
	for it.Next() {
		if h := it.Key().(StoredValue).Handle(); h != gc.Null {
			refs = append(refs, h)
		}
		if h := it.Value().(StoredValue).Handle(); h != gc.Null {
			refs = append(refs, h)
		}
	}
	if c.metatable != gc.Null {
		refs = append(refs, c.metatable)
	}
	return refs
}

// Release drops every reference the table owns. The collector calls it
// once the table is unreachable.
func (c *tableContext) Release(col *gc.Collector) {
	c.lock.Lock()
	entries := c.entries
	mt := c.metatable
	c.entries = newEntries()
	c.metatable = gc.Null
	c.lock.Unlock()

	it := entries.Iterator()
	for it.Next() {
		col.RemoveReference(it.Key().(StoredValue).Handle())
		col.RemoveReference(it.Value().(StoredValue).Handle())
	}
	col.RemoveReference(mt)
}

// ceiling returns the node with the smallest key >= key.
// Caller must hold c.lock.
func (c *tableContext) ceiling(key StoredValue) (*redblacktree.Node, bool) {
	return c.entries.Ceiling(key)
}

// upperBound returns the node with the smallest key > key.
// Caller must hold c.lock.
func (c *tableContext) upperBound(key StoredValue) *redblacktree.Node {
	var best *redblacktree.Node
	node := c.entries.Root
	for node != nil {
		if compareStored(key, node.Key.(StoredValue)) < 0 {
			best = node
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return best
}
