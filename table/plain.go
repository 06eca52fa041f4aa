package table

// Plain is an unshared table local to one interpreter. Shared tables are
// built from Plain values and dumped back into them.
//
// Field keys and values may be scalars, *Plain, SharedTable, *Function or
// *channel.Channel. Plain graphs may share structure and contain cycles.
type Plain struct {
	Fields map[any]any
	Meta   *Plain
}

// NewPlain returns an empty Plain table.
func NewPlain() *Plain {
	return &Plain{Fields: make(map[any]any)}
}

// PlainOf builds a Plain table from alternating keys and values.
func PlainOf(kv ...any) *Plain {
	p := &Plain{Fields: make(map[any]any, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		p.Fields[kv[i]] = kv[i+1]
	}
	return p
}

// List builds a Plain sequence with keys 1..len(values).
func List(values ...any) *Plain {
	p := &Plain{Fields: make(map[any]any, len(values))}
	for i, v := range values {
		p.Fields[int64(i+1)] = v
	}
	return p
}
