package table

import (
	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/tablespace/channel"
	"github.com/chazu/tablespace/gc"
)

var log = commonlog.GetLogger("tablespace.table")

// Space ties shared tables, functions and channels to one collector.
// Every thread working on the same tables must use the same Space.
type Space struct {
	id        uuid.UUID
	collector *gc.Collector
}

// NewSpace creates a Space over c. A nil collector gets a fresh one.
func NewSpace(c *gc.Collector) *Space {
	if c == nil {
		c = gc.NewCollector()
	}
	s := &Space{id: uuid.New(), collector: c}
	log.Debugf("space %s created", s.id)
	return s
}

// ID returns the space's unique identity.
func (s *Space) ID() uuid.UUID {
	return s.id
}

// Collector returns the collector backing this space.
func (s *Space) Collector() *gc.Collector {
	return s.collector
}

// Reclaim releases entities whose last reference went away. Mutating
// table operations call it themselves; hosts that drop holds directly on
// the collector may call it too.
func (s *Space) Reclaim() int {
	return s.collector.Reclaim()
}

// NewTable creates an empty table. The caller owns one hold on it and
// should Release the view when done.
func (s *Space) NewTable() SharedTable {
	t, _ := s.newContext().newView(false)
	return t
}

// FromPlain deep-copies p into shared tables. Nested Plain values become
// nested shared tables; a Plain reachable along several paths, or through
// a cycle, becomes a single shared table. The caller owns one hold on the
// returned table.
func (s *Space) FromPlain(p *Plain) (SharedTable, error) {
	tables, err := s.FromPlains(p)
	if err != nil {
		return SharedTable{}, err
	}
	return tables[0], nil
}

// FromPlains converts several Plain values in one pass, so structure
// shared between them is shared in the result too. The caller owns one
// hold on each returned table.
func (s *Space) FromPlains(ps ...*Plain) ([]SharedTable, error) {
	cache := make(convertCache)
	out := make([]SharedTable, 0, len(ps))
	fail := func(err error) ([]SharedTable, error) {
		for _, t := range out {
			s.collector.Release(t.ctx.handle)
		}
		s.Reclaim()
		return nil, err
	}
	for _, p := range ps {
		if p == nil {
			return fail(newError(WrongArgumentType, "table expected, got nil"))
		}
		sv, err := s.storePlain(p, cache)
		if err != nil {
			return fail(err)
		}
		t, err := s.tableFor(sv.h, false)
		if err != nil {
			return fail(err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Wrap returns a view of the table named by h. The view keeps the table
// alive while it is reachable.
func (s *Space) Wrap(h gc.Handle) (SharedTable, error) {
	return s.tableFor(h, true)
}

// NewFunction registers fn so tables can store it. The caller owns one
// hold on the returned function.
func (s *Space) NewFunction(name string, fn GoFunc) *Function {
	var f *Function
	s.collector.Create(func(h gc.Handle) any {
		f = &Function{handle: h, name: name, fn: fn}
		return f
	})
	return f
}

// NewChannel registers a channel. The caller owns one hold on it.
func (s *Space) NewChannel(capacity int) *channel.Channel {
	return channel.New(s.collector, capacity)
}

func (s *Space) newContext() *tableContext {
	var ctx *tableContext
	s.collector.Create(func(h gc.Handle) any {
		ctx = &tableContext{space: s, handle: h, entries: newEntries()}
		return ctx
	})
	return ctx
}

func (s *Space) tableFor(h gc.Handle, pin bool) (SharedTable, error) {
	ctx, err := gc.Get[*tableContext](s.collector, h)
	if err != nil {
		return SharedTable{}, staleError(err)
	}
	return ctx.newView(pin)
}

// ---------------------------------------------------------------------------
// Conversion between host values and StoredValues
// ---------------------------------------------------------------------------

// convertCache maps Plain tables already converted in one call to their
// shared table, preserving shared structure and breaking cycles.
type convertCache map[*Plain]gc.Handle

// store converts a host value. Reference results carry one transient hold
// that the caller must hand to a container or give back with releaseStrong.
// A reference to an entity the collector has already released fails with
// StaleHandle.
func (s *Space) store(v any, cache convertCache) (StoredValue, error) {
	if sv, ok := scalarValue(v); ok {
		return sv, nil
	}
	switch x := v.(type) {
	case SharedTable:
		if x.IsZero() {
			break
		}
		if x.ctx.space.collector != s.collector {
			return StoredValue{}, newError(WrongArgumentType, "table belongs to a different collector")
		}
		return s.acquire(KindTable, x.ctx.handle)
	case *Function:
		if x == nil {
			break
		}
		return s.acquire(KindFunction, x.handle)
	case *channel.Channel:
		if x == nil {
			break
		}
		return s.acquire(KindChannel, x.Handle())
	case *Plain:
		if x == nil {
			break
		}
		return s.storePlain(x, cache)
	default:
		if fn, ok := asCallable(v); ok {
			if g, ok := fn.(GoFunc); ok {
				f := s.NewFunction("", g)
				return refValue(KindFunction, f.handle), nil
			}
		}
	}
	if isAbsent(v) {
		return StoredValue{}, newError(InvalidKey, "cannot store nil")
	}
	return StoredValue{}, newError(WrongArgumentType, "unable to store object of type %s", TypeName(v))
}

func (s *Space) acquire(k Kind, h gc.Handle) (StoredValue, error) {
	if err := s.collector.Acquire(h); err != nil {
		return StoredValue{}, staleError(err)
	}
	return refValue(k, h), nil
}

// storeKey converts a host value for use as a key.
func (s *Space) storeKey(v any, cache convertCache) (StoredValue, error) {
	if isAbsent(v) {
		return StoredValue{}, newError(InvalidKey, "indexing by nil")
	}
	if isNaN(v) {
		return StoredValue{}, newError(InvalidKey, "indexing by NaN")
	}
	sv, err := s.store(v, cache)
	if err != nil {
		return StoredValue{}, err
	}
	return asKey(sv), nil
}

func (s *Space) storePlain(p *Plain, cache convertCache) (StoredValue, error) {
	if h, ok := cache[p]; ok {
		s.collector.Hold(h)
		return refValue(KindTable, h), nil
	}

	ctx := s.newContext()
	cache[p] = ctx.handle
	self := refValue(KindTable, ctx.handle)

	for k, v := range p.Fields {
		if isAbsent(v) {
			continue
		}
		key, err := s.storeKey(k, cache)
		if err != nil {
			s.releaseStrong(self)
			return StoredValue{}, err
		}
		value, err := s.store(v, cache)
		if err != nil {
			s.releaseStrong(key)
			s.releaseStrong(self)
			return StoredValue{}, err
		}
		ctx.set(key, value)
	}

	if p.Meta != nil {
		mt, err := s.storePlain(p.Meta, cache)
		if err != nil {
			s.releaseStrong(self)
			return StoredValue{}, err
		}
		ctx.setMetatable(mt.h)
		s.releaseStrong(mt)
	}
	return self, nil
}

// releaseStrong gives back the transient hold carried by sv.
func (s *Space) releaseStrong(sv StoredValue) {
	s.collector.Release(sv.Handle())
}

// unpack converts a StoredValue back into a host value. Tables come back
// as views onto the same shared table, never as copies, and the view keeps
// the table alive. Callers unpack while the containing table is locked, so
// the entity cannot go away first.
func (s *Space) unpack(sv StoredValue) (any, error) {
	switch sv.kind {
	case KindBool:
		return sv.b, nil
	case KindInt:
		return sv.i, nil
	case KindFloat:
		return sv.f, nil
	case KindString:
		return sv.s, nil
	case KindTable:
		return s.tableFor(sv.h, true)
	case KindFunction:
		f, err := gc.Get[*Function](s.collector, sv.h)
		if err != nil {
			return nil, staleError(err)
		}
		return f, nil
	case KindChannel:
		ch, err := gc.Get[*channel.Channel](s.collector, sv.h)
		if err != nil {
			return nil, staleError(err)
		}
		return ch, nil
	}
	return nil, nil
}
