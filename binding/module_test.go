package binding

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/tablespace/gc"
	"github.com/chazu/tablespace/table"
)

func newModule(t *testing.T) *Module {
	t.Helper()
	m := New(table.NewSpace(gc.NewCollector()))
	t.Cleanup(m.Close)
	return m
}

func TestBadArguments(t *testing.T) {
	m := newModule(t)

	tests := []struct {
		name string
		call func() error
		want string
	}{
		{"rawset", func() error { _, err := m.RawSet(1, "k", "v"); return err },
			"bad argument #1 to 'tablespace.rawset' (tablespace.table expected, got number)"},
		{"rawget", func() error { _, err := m.RawGet("s", "k"); return err },
			"bad argument #1 to 'tablespace.rawget' (tablespace.table expected, got string)"},
		{"getmetatable", func() error { _, err := m.GetMetatable(table.NewPlain()); return err },
			"bad argument #1 to 'tablespace.getmetatable' (tablespace.table expected, got table)"},
		{"setmetatable #1", func() error { _, err := m.SetMetatable(nil, nil); return err },
			"bad argument #1 to 'tablespace.setmetatable' (table expected, got nil)"},
		{"setmetatable #2", func() error { _, err := m.SetMetatable(m.G(), true); return err },
			"bad argument #2 to 'tablespace.setmetatable' (table or nil expected, got boolean)"},
		{"pairs", func() error { _, err := m.Pairs(nil); return err },
			"bad argument #1 to 'tablespace.pairs' (tablespace.table expected, got nil)"},
		{"ipairs", func() error { _, err := m.IPairs(3.5); return err },
			"bad argument #1 to 'tablespace.ipairs' (tablespace.table expected, got number)"},
		{"next", func() error { _, _, err := m.Next(false, nil); return err },
			"bad argument #1 to 'tablespace.next' (tablespace.table expected, got boolean)"},
		{"dump", func() error { _, err := m.Dump("x"); return err },
			"bad argument #1 to 'tablespace.dump' (table expected, got string)"},
		{"table", func() error { _, err := m.Table(1); return err },
			"bad argument #1 to 'tablespace.table' (table expected, got number)"},
		{"size", func() error { _, err := m.Size("x"); return err },
			"unsupported type string for tablespace.size()"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !errors.Is(err, table.ErrWrongArgumentType) {
				t.Fatalf("error = %v, want WrongArgumentType", err)
			}
			if err.Error() != tt.want {
				t.Errorf("message = %q\nwant      %q", err, tt.want)
			}
		})
	}
}

func TestRawOperationsOnG(t *testing.T) {
	m := newModule(t)
	g := m.G()

	ret, err := m.RawSet(g, "answer", 42)
	if err != nil {
		t.Fatal(err)
	}
	if ret != g {
		t.Error("RawSet should return its table")
	}
	v, err := m.RawGet(g, "answer")
	if err != nil || v != int64(42) {
		t.Errorf("RawGet = %v, %v; want 42", v, err)
	}
	if n, _ := m.Size(g); n != 1 {
		t.Errorf("Size = %d, want 1", n)
	}

	k, v, err := m.Next(g, nil)
	if err != nil || k != "answer" || v != int64(42) {
		t.Errorf("Next = %v, %v, %v", k, v, err)
	}

	_, err = m.RawSet(g, nil, 1)
	if !errors.Is(err, table.ErrInvalidKey) {
		t.Fatalf("RawSet(nil key) = %v, want InvalidKey", err)
	}
	if !strings.HasPrefix(err.Error(), "tablespace.rawset: ") {
		t.Errorf("error %q should carry the operation prefix", err)
	}
}

func TestSetMetatableConvertsPlainTables(t *testing.T) {
	m := newModule(t)

	shared := table.PlainOf("x", "shared")
	tbl := table.PlainOf("child", shared)
	mt := table.PlainOf("__index", shared)

	st, err := m.SetMetatable(tbl, mt)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Release()

	got, err := m.GetMetatable(st)
	if err != nil {
		t.Fatal(err)
	}
	meta := got.(table.SharedTable)
	child, _ := st.RawGet("child")
	index, _ := meta.RawGet("__index")
	if child != index {
		t.Error("structure shared between table and metatable should stay shared")
	}
	if v, _ := st.Index("x"); v != "shared" {
		t.Errorf("Index(x) = %v, want shared", v)
	}

	if _, err := m.SetMetatable(st, nil); err != nil {
		t.Fatal(err)
	}
	if got, _ := m.GetMetatable(st); got != nil {
		t.Errorf("GetMetatable after clear = %v, want nil", got)
	}
}

func TestSetMetatableOnSharedTable(t *testing.T) {
	m := newModule(t)
	mt, err := m.Table(table.PlainOf("__index", table.PlainOf("d", 1)))
	if err != nil {
		t.Fatal(err)
	}
	defer mt.Release()

	ret, err := m.SetMetatable(m.G(), mt)
	if err != nil {
		t.Fatal(err)
	}
	if ret != m.G() {
		t.Error("SetMetatable should return its table")
	}
	if v, _ := m.G().Index("d"); v != int64(1) {
		t.Errorf("G.d = %v, want 1", v)
	}
}

func TestSizeOfChannel(t *testing.T) {
	m := newModule(t)
	ch := m.Space().NewChannel(4)
	ch.Push(1)
	ch.Push(2, 3)

	n, err := m.Size(ch)
	if err != nil || n != 2 {
		t.Errorf("Size(channel) = %d, %v; want 2", n, err)
	}
}

func TestIterationThroughModule(t *testing.T) {
	m := newModule(t)
	tbl, err := m.Table(table.List("a", "b", "c"))
	if err != nil {
		t.Fatal(err)
	}
	defer tbl.Release()

	it, err := m.IPairs(tbl)
	if err != nil {
		t.Fatal(err)
	}
	var got []any
	if err := it.Each(func(_, v any) bool {
		got = append(got, v)
		return true
	}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("ipairs values = %v", got)
	}

	it, err = m.Pairs(tbl)
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	if err := it.Each(func(_, _ any) bool { count++; return true }); err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("pairs visited %d entries, want 3", count)
	}
}

func TestTypeNames(t *testing.T) {
	m := newModule(t)
	tests := []struct {
		v    any
		want string
	}{
		{m.G(), "tablespace.table"},
		{m.Space().NewChannel(1), "tablespace.channel"},
		{table.NewPlain(), "table"},
		{nil, "nil"},
		{1, "number"},
	}
	for _, tt := range tests {
		if got := m.Type(tt.v); got != tt.want {
			t.Errorf("Type(%T) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestDump(t *testing.T) {
	m := newModule(t)
	p := table.PlainOf("k", "v")
	if got, err := m.Dump(p); err != nil || got != p {
		t.Errorf("Dump(plain) should return its argument, got %v, %v", got, err)
	}

	if _, err := m.RawSet(m.G(), "k", "v"); err != nil {
		t.Fatal(err)
	}
	got, err := m.Dump(m.G())
	if err != nil {
		t.Fatal(err)
	}
	if got.Fields["k"] != "v" {
		t.Errorf("dumped G = %v", got.Fields)
	}
}

func TestGarbageCollection(t *testing.T) {
	m := newModule(t)
	base := m.GCCount()

	a, _ := m.Table()
	b, _ := m.Table()
	if _, err := m.RawSet(a, "b", b); err != nil {
		t.Fatal(err)
	}
	if _, err := m.RawSet(b, "a", a); err != nil {
		t.Fatal(err)
	}
	a.Release()
	b.Release()
	if got := m.GCCount(); got != base+2 {
		t.Fatalf("GCCount = %d, want %d", got, base+2)
	}

	stats := m.CollectGarbage()
	if stats.Swept != 2 {
		t.Errorf("Swept = %d, want 2", stats.Swept)
	}
	if got := m.GCCount(); got != base {
		t.Errorf("GCCount after collection = %d, want %d", got, base)
	}
}

func TestCloseReleasesG(t *testing.T) {
	m := New(table.NewSpace(gc.NewCollector()))
	if _, err := m.RawSet(m.G(), "child", table.NewPlain()); err != nil {
		t.Fatal(err)
	}
	if m.GCCount() != 2 {
		t.Fatalf("GCCount = %d, want 2", m.GCCount())
	}
	m.Close()
	m.Close()
	if m.GCCount() != 0 {
		t.Errorf("GCCount after Close = %d, want 0", m.GCCount())
	}
}
