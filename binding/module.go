// Package binding is the surface script hosts call into. Each function
// checks its argument types, forwards to the table package and prefixes
// failures with its own name.
//
// A Module owns the global table G. G is created with the module, stays
// alive until Close, and is reachable only through the module it belongs
// to.
package binding

import (
	"fmt"
	"sync/atomic"

	"github.com/tliron/commonlog"

	"github.com/chazu/tablespace/channel"
	"github.com/chazu/tablespace/gc"
	"github.com/chazu/tablespace/table"
)

// Version is reported to scripts as the module version.
const Version = "1.0.0"

var log = commonlog.GetLogger("tablespace.binding")

// Module binds one Space and its global table.
type Module struct {
	space  *table.Space
	g      table.SharedTable
	closed atomic.Bool
}

// New creates a module over s. A nil Space gets a fresh one.
func New(s *table.Space) *Module {
	if s == nil {
		s = table.NewSpace(nil)
	}
	m := &Module{space: s, g: s.NewTable()}
	log.Debugf("module for space %s ready, G is %s", s.ID(), m.g)
	return m
}

// Space returns the space tables of this module live in.
func (m *Module) Space() *table.Space {
	return m.space
}

// G returns the global table.
func (m *Module) G() table.SharedTable {
	return m.g
}

// Close drops the module's hold on G. Further calls do nothing.
func (m *Module) Close() {
	if m.closed.Swap(true) {
		return
	}
	m.g.Release()
	log.Debugf("module for space %s closed", m.space.ID())
}

func badArgument(n int, fn, expected string, got any) error {
	return &table.Error{
		Kind: table.WrongArgumentType,
		Msg: fmt.Sprintf("bad argument #%d to 'tablespace.%s' (%s expected, got %s)",
			n, fn, expected, table.TypeName(got)),
	}
}

// sharedTable accepts only a live shared table for argument n.
func sharedTable(n int, fn string, v any) (table.SharedTable, error) {
	t, ok := v.(table.SharedTable)
	if !ok || t.IsZero() {
		return table.SharedTable{}, badArgument(n, fn, "tablespace.table", v)
	}
	return t, nil
}

// Table creates a shared table, empty or as a deep copy of a Plain table.
// The caller owns one hold on the result.
func (m *Module) Table(args ...any) (table.SharedTable, error) {
	if len(args) == 0 || args[0] == nil {
		return m.space.NewTable(), nil
	}
	p, ok := args[0].(*table.Plain)
	if !ok || p == nil {
		return table.SharedTable{}, badArgument(1, "table", "table", args[0])
	}
	t, err := m.space.FromPlain(p)
	if err != nil {
		return table.SharedTable{}, table.WithPrefix("tablespace.table", err)
	}
	return t, nil
}

// RawSet stores value under key in tbl without consulting metatables and
// returns tbl.
func (m *Module) RawSet(tbl, key, value any) (table.SharedTable, error) {
	t, err := sharedTable(1, "rawset", tbl)
	if err != nil {
		return table.SharedTable{}, err
	}
	if err := t.RawSet(key, value); err != nil {
		return table.SharedTable{}, table.WithPrefix("tablespace.rawset", err)
	}
	return t, nil
}

// RawGet reads key from tbl without consulting metatables.
func (m *Module) RawGet(tbl, key any) (any, error) {
	t, err := sharedTable(1, "rawget", tbl)
	if err != nil {
		return nil, err
	}
	v, err := t.RawGet(key)
	if err != nil {
		return nil, table.WithPrefix("tablespace.rawget", err)
	}
	return v, nil
}

// SetMetatable installs mt as tbl's metatable and returns tbl. Either
// argument may be a Plain table, which is first copied into the space;
// both are copied together so structure shared between them stays
// shared. A nil mt clears the metatable.
//
// When tbl is a Plain table the caller owns one hold on the returned
// shared copy.
func (m *Module) SetMetatable(tbl, mt any) (table.SharedTable, error) {
	if !isAnyTable(tbl) {
		return table.SharedTable{}, badArgument(1, "setmetatable", "table", tbl)
	}
	if st, ok := mt.(table.SharedTable); ok && st.IsZero() {
		mt = nil
	}
	if mt != nil && !isAnyTable(mt) {
		return table.SharedTable{}, badArgument(2, "setmetatable", "table or nil", mt)
	}

	var (
		plains  []*table.Plain
		slots   []*table.SharedTable
		t, meta table.SharedTable
	)
	for _, arg := range []struct {
		v   any
		dst *table.SharedTable
	}{{tbl, &t}, {mt, &meta}} {
		switch x := arg.v.(type) {
		case table.SharedTable:
			*arg.dst = x
		case *table.Plain:
			plains = append(plains, x)
			slots = append(slots, arg.dst)
		}
	}
	if len(plains) > 0 {
		converted, err := m.space.FromPlains(plains...)
		if err != nil {
			return table.SharedTable{}, table.WithPrefix("tablespace.setmetatable", err)
		}
		for i, c := range converted {
			*slots[i] = c
		}
	}

	err := t.SetMetatable(meta)
	if _, ok := mt.(*table.Plain); ok {
		// The metatable copy is now owned by t.
		meta.Release()
	}
	if err != nil {
		if _, ok := tbl.(*table.Plain); ok {
			t.Release()
		}
		return table.SharedTable{}, table.WithPrefix("tablespace.setmetatable", err)
	}
	return t, nil
}

func isAnyTable(v any) bool {
	switch x := v.(type) {
	case table.SharedTable:
		return !x.IsZero()
	case *table.Plain:
		return x != nil
	}
	return false
}

// GetMetatable returns tbl's metatable, or nil if it has none.
func (m *Module) GetMetatable(tbl any) (any, error) {
	t, err := sharedTable(1, "getmetatable", tbl)
	if err != nil {
		return nil, err
	}
	mt, ok, err := t.Metatable()
	if err != nil {
		return nil, table.WithPrefix("tablespace.getmetatable", err)
	}
	if !ok {
		return nil, nil
	}
	return mt, nil
}

// Size returns the entry count of a shared table or the number of queued
// messages of a channel.
func (m *Module) Size(obj any) (int, error) {
	switch x := obj.(type) {
	case table.SharedTable:
		if !x.IsZero() {
			return x.Size(), nil
		}
	case *channel.Channel:
		if x != nil {
			return x.Size(), nil
		}
	}
	return 0, &table.Error{
		Kind: table.WrongArgumentType,
		Msg:  fmt.Sprintf("unsupported type %s for tablespace.size()", table.TypeName(obj)),
	}
}

// Pairs returns the pairs iteration triple of tbl.
func (m *Module) Pairs(tbl any) (table.Iterator, error) {
	t, err := sharedTable(1, "pairs", tbl)
	if err != nil {
		return table.Iterator{}, err
	}
	it, err := t.Pairs()
	if err != nil {
		return table.Iterator{}, table.WithPrefix("tablespace.pairs", err)
	}
	return it, nil
}

// IPairs returns the ipairs iteration triple of tbl.
func (m *Module) IPairs(tbl any) (table.Iterator, error) {
	t, err := sharedTable(1, "ipairs", tbl)
	if err != nil {
		return table.Iterator{}, err
	}
	it, err := t.IPairs()
	if err != nil {
		return table.Iterator{}, table.WithPrefix("tablespace.ipairs", err)
	}
	return it, nil
}

// Next returns the entry of tbl following key.
func (m *Module) Next(tbl, key any) (any, any, error) {
	t, err := sharedTable(1, "next", tbl)
	if err != nil {
		return nil, nil, err
	}
	k, v, err := t.Next(key)
	if err != nil {
		return nil, nil, table.WithPrefix("tablespace.next", err)
	}
	return k, v, nil
}

// Type returns the script type name of obj.
func (m *Module) Type(obj any) string {
	return table.TypeName(obj)
}

// Dump returns a Plain deep copy of a shared table. A Plain table is
// returned unchanged.
func (m *Module) Dump(obj any) (*table.Plain, error) {
	switch x := obj.(type) {
	case table.SharedTable:
		if x.IsZero() {
			break
		}
		p, err := x.Dump()
		if err != nil {
			return nil, table.WithPrefix("tablespace.dump", err)
		}
		return p, nil
	case *table.Plain:
		if x != nil {
			return x, nil
		}
	}
	return nil, badArgument(1, "dump", "table", obj)
}

// CollectGarbage runs a full collection of the module's space.
func (m *Module) CollectGarbage() *gc.Stats {
	return m.space.Collector().Collect()
}

// GCCount returns the number of live entities in the module's space.
func (m *Module) GCCount() int {
	return m.space.Collector().Count()
}
