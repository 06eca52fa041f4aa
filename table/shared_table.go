package table

import (
	"fmt"
	"runtime"
	"weak"

	"github.com/chazu/tablespace/gc"
)

// SharedTable is a view onto one shared table. Views are cheap to copy and
// compare equal iff they refer to the same table, regardless of content.
//
// A view returned by a lookup (RawGet, Index, Next, Metatable, Wrap and
// the iterators) keeps its table alive for as long as the view or any
// copy of it is reachable. Views returned by NewTable and FromPlain carry
// an explicit hold instead, given back with Release.
//
// The zero SharedTable refers to no table and stands for absence; calling
// operations on it panics.
type SharedTable struct {
	*view
}

// view is the object every copy of a SharedTable points at. A table has at
// most one reachable view at a time, which is what makes == work.
type view struct {
	ctx    *tableContext
	pinned bool // guarded by ctx.viewMu
}

// newView returns the table's current view, making one if no copy of the
// previous one is reachable. With pin set the view also counts as a live
// instance of the table until the runtime finds it unreachable.
func (c *tableContext) newView(pin bool) (SharedTable, error) {
	c.viewMu.Lock()
	defer c.viewMu.Unlock()

	v := c.current.Value()
	if v == nil {
		v = &view{ctx: c}
		c.current = weak.Make(v)
	}
	if pin && !v.pinned {
		if err := c.space.collector.AddView(c.handle); err != nil {
			return SharedTable{}, staleError(err)
		}
		v.pinned = true
		runtime.AddCleanup(v, dropView, c)
	}
	return SharedTable{v}, nil
}

func dropView(c *tableContext) {
	col := c.space.collector
	col.DropView(c.handle)
	col.Reclaim()
}

// IsZero reports whether t refers to no table.
func (t SharedTable) IsZero() bool {
	return t.view == nil
}

// Handle returns the table's collector handle.
func (t SharedTable) Handle() gc.Handle {
	if t.view == nil {
		return gc.Null
	}
	return t.ctx.handle
}

// Space returns the space the table belongs to.
func (t SharedTable) Space() *Space {
	return t.ctx.space
}

// Same reports whether t and o refer to the same table.
func (t SharedTable) Same(o SharedTable) bool {
	if t.view == nil || o.view == nil {
		return t.view == o.view
	}
	return t.ctx == o.ctx
}

// Retain adds a hold on the table for the caller.
func (t SharedTable) Retain() SharedTable {
	t.ctx.space.collector.Hold(t.ctx.handle)
	return t
}

// Release gives back a hold taken by Retain, NewTable or FromPlain. Views
// obtained from lookups carry no hold and must not be released.
func (t SharedTable) Release() {
	t.ctx.space.collector.Release(t.ctx.handle)
	t.ctx.space.Reclaim()
}

// String returns the table's identity text.
func (t SharedTable) String() string {
	return fmt.Sprintf("tablespace.table: 0x%08x", uint64(t.Handle()))
}

// Size returns the number of entries.
func (t SharedTable) Size() int {
	return t.ctx.size()
}

// RawGet returns the value stored under key, or nil. Metatables are not
// consulted.
func (t SharedTable) RawGet(key any) (any, error) {
	if isNaN(key) {
		return nil, nil
	}
	s := t.ctx.space
	k, err := s.storeKey(key, make(convertCache))
	if err != nil {
		return nil, err
	}
	v, err := t.ctx.lookup(k)
	s.releaseStrong(k)
	if k.kind.IsReference() {
		s.Reclaim()
	}
	return v, err
}

// RawSet stores value under key, replacing any previous value. A nil
// value deletes the key; deleting a missing key does nothing. Metatables
// are not consulted.
func (t SharedTable) RawSet(key, value any) error {
	s := t.ctx.space
	cache := make(convertCache)
	k, err := s.storeKey(key, cache)
	if err != nil {
		return err
	}
	defer s.Reclaim()

	if isAbsent(value) {
		t.ctx.erase(k)
		s.releaseStrong(k)
		return nil
	}

	v, err := s.store(value, cache)
	if err != nil {
		s.releaseStrong(k)
		return err
	}
	t.ctx.set(k, v)
	return nil
}

// SetMetatable installs mt as the table's metatable. The zero SharedTable
// removes it.
func (t SharedTable) SetMetatable(mt SharedTable) error {
	col := t.ctx.space.collector
	if !mt.IsZero() {
		if mt.ctx.space != t.ctx.space {
			return newError(WrongArgumentType, "metatable belongs to a different space")
		}
		if err := col.Acquire(mt.ctx.handle); err != nil {
			return staleError(err)
		}
	}
	t.ctx.setMetatable(mt.Handle())
	col.Release(mt.Handle())
	log.Debugf("%s: metatable set to 0x%08x", t, uint64(mt.Handle()))
	t.ctx.space.Reclaim()
	return nil
}

// Metatable returns the table's metatable. ok is false if it has none.
func (t SharedTable) Metatable() (mt SharedTable, ok bool, err error) {
	return t.ctx.metatableView()
}

// Next returns the entry following key in key order, or the first entry
// when key is nil. It returns nil, nil once the table is exhausted, and
// also for a NaN key, which can never be stored.
//
// Iterating with Next while other threads insert or delete keys is not
// guaranteed to visit every key exactly once.
func (t SharedTable) Next(key any) (any, any, error) {
	if isNaN(key) {
		return nil, nil, nil
	}
	s := t.ctx.space
	var (
		k    StoredValue
		from bool
	)
	if !isAbsent(key) {
		var err error
		k, err = s.storeKey(key, make(convertCache))
		if err != nil {
			return nil, nil, err
		}
		s.releaseStrong(k)
		if k.kind.IsReference() {
			s.Reclaim()
		}
		from = true
	}

	return t.ctx.next(k, from)
}

// RawLength returns the length of the sequence 1..n stored in the table.
// With holes in the sequence the result depends on where the first gap
// falls in key order.
func (t SharedTable) RawLength() int64 {
	return t.ctx.sequenceLength()
}
