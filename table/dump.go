package table

import (
	"github.com/chazu/tablespace/gc"
)

// Dump deep-copies the table, its nested tables and its metatable chain
// into Plain values. Each shared table appears once in the result, so
// cycles and shared structure are preserved.
//
// Only one table is locked at a time. A table reached through t that
// another thread frees mid-dump yields a StaleHandle error.
func (t SharedTable) Dump() (*Plain, error) {
	return dumpContext(t.ctx.space, t.ctx.handle, make(map[gc.Handle]*Plain))
}

func dumpContext(s *Space, h gc.Handle, cache map[gc.Handle]*Plain) (*Plain, error) {
	if p, ok := cache[h]; ok {
		return p, nil
	}
	ctx, err := gc.Get[*tableContext](s.collector, h)
	if err != nil {
		return nil, staleError(err)
	}

	keys, values, mt := ctx.snapshot()
	p := &Plain{Fields: make(map[any]any, len(keys))}
	cache[h] = p

	for i := range keys {
		k, err := dumpValue(s, keys[i], cache)
		if err != nil {
			return nil, err
		}
		v, err := dumpValue(s, values[i], cache)
		if err != nil {
			return nil, err
		}
		p.Fields[k] = v
	}
	if mt != gc.Null {
		meta, err := dumpContext(s, mt, cache)
		if err != nil {
			return nil, err
		}
		p.Meta = meta
	}
	return p, nil
}

func dumpValue(s *Space, sv StoredValue, cache map[gc.Handle]*Plain) (any, error) {
	if sv.kind == KindTable {
		return dumpContext(s, sv.h, cache)
	}
	return s.unpack(sv)
}
