package main

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/chazu/tablespace/table"
)

// ---------------------------------------------------------------------------
// Text rendering of dumped tables
// ---------------------------------------------------------------------------

// formatPlain writes p as nested text with keys in a stable order. Each
// table is numbered on first appearance; later appearances, including
// cycles, print only the number.
func formatPlain(w io.Writer, p *table.Plain) {
	f := &plainFormatter{w: w, seen: make(map[*table.Plain]int)}
	f.table(p, 0)
	fmt.Fprintln(w)
}

type plainFormatter struct {
	w    io.Writer
	seen map[*table.Plain]int
}

func (f *plainFormatter) table(p *table.Plain, depth int) {
	if n, ok := f.seen[p]; ok {
		fmt.Fprintf(f.w, "table#%d", n)
		return
	}
	n := len(f.seen) + 1
	f.seen[p] = n

	fmt.Fprintf(f.w, "table#%d {", n)
	keys := make([]any, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)

	indent := strings.Repeat("  ", depth+1)
	for _, k := range keys {
		fmt.Fprintf(f.w, "\n%s[", indent)
		f.value(k, depth+1)
		fmt.Fprint(f.w, "] = ")
		f.value(p.Fields[k], depth+1)
	}
	if p.Meta != nil {
		fmt.Fprintf(f.w, "\n%s<metatable> = ", indent)
		f.table(p.Meta, depth+1)
	}
	if len(keys) > 0 || p.Meta != nil {
		fmt.Fprintf(f.w, "\n%s", strings.Repeat("  ", depth))
	}
	fmt.Fprint(f.w, "}")
}

func (f *plainFormatter) value(v any, depth int) {
	switch x := v.(type) {
	case *table.Plain:
		f.table(x, depth)
	case string:
		fmt.Fprintf(f.w, "%q", x)
	default:
		fmt.Fprint(f.w, x)
	}
}

func keyRank(v any) int {
	switch v.(type) {
	case bool:
		return 0
	case int64:
		return 1
	case float64:
		return 2
	case string:
		return 3
	case *table.Plain:
		return 4
	default:
		return 5
	}
}

func compareKeys(a, b any) int {
	if c := cmp.Compare(keyRank(a), keyRank(b)); c != 0 {
		return c
	}
	switch x := a.(type) {
	case bool:
		if x == b.(bool) {
			return 0
		}
		if !x {
			return -1
		}
		return 1
	case int64:
		return cmp.Compare(x, b.(int64))
	case float64:
		return cmp.Compare(x, b.(float64))
	case string:
		return strings.Compare(x, b.(string))
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
