// Package snapshot encodes dumped tables as CBOR so they can be written to
// disk or handed to another process and rebuilt there.
//
// A snapshot is a flat list of nodes, one per Plain table, addressed by
// index. Shared structure and cycles survive a round trip.
package snapshot

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/tablespace/table"
)

// Version is the current snapshot format version.
const Version = 1

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Tag identifies the variant held by a Value.
type Tag uint8

const (
	TagBool   Tag = 1
	TagInt    Tag = 2
	TagFloat  Tag = 3
	TagString Tag = 4
	TagTable  Tag = 5
)

// Snapshot is the top-level wire message.
type Snapshot struct {
	Version uint8  `cbor:"1,keyasint"`
	Root    int    `cbor:"2,keyasint"`
	Nodes   []Node `cbor:"3,keyasint"`
}

// Node is one table. Meta is the index of the metatable node plus one, or
// zero for none.
type Node struct {
	Fields []Field `cbor:"1,keyasint,omitempty"`
	Meta   int     `cbor:"2,keyasint,omitempty"`
}

// Field is one key/value entry of a node.
type Field struct {
	Key   Value `cbor:"1,keyasint"`
	Value Value `cbor:"2,keyasint"`
}

// Value is a tagged scalar or a node reference.
type Value struct {
	Tag   Tag     `cbor:"1,keyasint"`
	Bool  bool    `cbor:"2,keyasint,omitempty"`
	Int   int64   `cbor:"3,keyasint,omitempty"`
	Float float64 `cbor:"4,keyasint,omitempty"`
	Str   string  `cbor:"5,keyasint,omitempty"`
	Ref   int     `cbor:"6,keyasint,omitempty"`
}

func compareValues(a, b Value) int {
	if c := cmp.Compare(a.Tag, b.Tag); c != 0 {
		return c
	}
	switch a.Tag {
	case TagBool:
		switch {
		case a.Bool == b.Bool:
			return 0
		case !a.Bool:
			return -1
		default:
			return 1
		}
	case TagInt:
		return cmp.Compare(a.Int, b.Int)
	case TagFloat:
		return cmp.Compare(a.Float, b.Float)
	case TagString:
		return strings.Compare(a.Str, b.Str)
	default:
		return cmp.Compare(a.Ref, b.Ref)
	}
}

// Options control encoding.
type Options struct {
	// SkipUnsupported drops fields whose key or value cannot be encoded,
	// such as functions and channels, instead of failing.
	SkipUnsupported bool
}

// Encode serialises p and everything reachable from it. Functions,
// channels and live shared tables cannot be encoded.
//
// Fields are written in key order. Node numbering follows a walk from the
// root in that order, so the output is deterministic as long as no table
// is used as a key.
func Encode(p *table.Plain) ([]byte, error) {
	return EncodeWith(p, Options{})
}

// EncodeWith is Encode with options.
func EncodeWith(p *table.Plain, opts Options) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("snapshot: encode: nil table")
	}
	e := &encoder{opts: opts, index: make(map[*table.Plain]int)}
	root := e.node(p)
	for i := 0; i < len(e.queue); i++ {
		if err := e.fill(i); err != nil {
			return nil, err
		}
	}
	return encMode.Marshal(&Snapshot{Version: Version, Root: root, Nodes: e.nodes})
}

type encoder struct {
	opts  Options
	index map[*table.Plain]int
	queue []*table.Plain
	nodes []Node
}

// node returns the index of p, queueing it on first sight.
func (e *encoder) node(p *table.Plain) int {
	if i, ok := e.index[p]; ok {
		return i
	}
	i := len(e.queue)
	e.index[p] = i
	e.queue = append(e.queue, p)
	e.nodes = append(e.nodes, Node{})
	return i
}

func (e *encoder) fill(i int) error {
	p := e.queue[i]

	// Scalar keys sort before table keys, and sort without knowing node
	// numbers, so they are numbered first.
	type pending struct{ k, v any }
	var scalars, tables []pending
	for k, v := range p.Fields {
		if v == nil {
			continue
		}
		if _, ok := k.(*table.Plain); ok {
			tables = append(tables, pending{k, v})
		} else {
			scalars = append(scalars, pending{k, v})
		}
	}

	var fields []Field
	encode := func(list []pending) error {
		keyed := make([]Field, 0, len(list))
		values := make([]any, 0, len(list))
		for _, f := range list {
			k, err := e.value(f.k)
			if err != nil {
				if e.opts.SkipUnsupported {
					continue
				}
				return err
			}
			keyed = append(keyed, Field{Key: k})
			values = append(values, f.v)
		}
		order := make([]int, len(keyed))
		for j := range order {
			order[j] = j
		}
		slices.SortFunc(order, func(a, b int) int {
			return compareValues(keyed[a].Key, keyed[b].Key)
		})
		for _, j := range order {
			v, err := e.value(values[j])
			if err != nil {
				if e.opts.SkipUnsupported {
					continue
				}
				return err
			}
			keyed[j].Value = v
			fields = append(fields, keyed[j])
		}
		return nil
	}
	if err := encode(scalars); err != nil {
		return err
	}
	if err := encode(tables); err != nil {
		return err
	}

	e.nodes[i].Fields = fields
	if p.Meta != nil {
		e.nodes[i].Meta = e.node(p.Meta) + 1
	}
	return nil
}

func (e *encoder) value(v any) (Value, error) {
	switch x := v.(type) {
	case bool:
		return Value{Tag: TagBool, Bool: x}, nil
	case int:
		return Value{Tag: TagInt, Int: int64(x)}, nil
	case int8:
		return Value{Tag: TagInt, Int: int64(x)}, nil
	case int16:
		return Value{Tag: TagInt, Int: int64(x)}, nil
	case int32:
		return Value{Tag: TagInt, Int: int64(x)}, nil
	case int64:
		return Value{Tag: TagInt, Int: x}, nil
	case uint8:
		return Value{Tag: TagInt, Int: int64(x)}, nil
	case uint16:
		return Value{Tag: TagInt, Int: int64(x)}, nil
	case uint32:
		return Value{Tag: TagInt, Int: int64(x)}, nil
	case uint:
		return unsignedValue(uint64(x)), nil
	case uint64:
		return unsignedValue(x), nil
	case float32:
		return Value{Tag: TagFloat, Float: float64(x)}, nil
	case float64:
		return Value{Tag: TagFloat, Float: x}, nil
	case string:
		return Value{Tag: TagString, Str: x}, nil
	case *table.Plain:
		if x != nil {
			return Value{Tag: TagTable, Ref: e.node(x)}, nil
		}
	}
	return Value{}, fmt.Errorf("snapshot: cannot encode %s value", table.TypeName(v))
}

// unsignedValue keeps unsigned integers that fit in an int64 as integers
// and turns larger ones into floats, as tables do.
func unsignedValue(u uint64) Value {
	if u > math.MaxInt64 {
		return Value{Tag: TagFloat, Float: float64(u)}
	}
	return Value{Tag: TagInt, Int: int64(u)}
}

// Decode rebuilds the Plain graph written by Encode.
func Decode(data []byte) (*table.Plain, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal: %w", err)
	}
	if s.Version != Version {
		return nil, fmt.Errorf("snapshot: unsupported version %d", s.Version)
	}
	if s.Root < 0 || s.Root >= len(s.Nodes) {
		return nil, fmt.Errorf("snapshot: root %d out of range", s.Root)
	}

	plains := make([]*table.Plain, len(s.Nodes))
	for i := range plains {
		plains[i] = table.NewPlain()
	}
	ref := func(i int) (*table.Plain, error) {
		if i < 0 || i >= len(plains) {
			return nil, fmt.Errorf("snapshot: node %d out of range", i)
		}
		return plains[i], nil
	}
	value := func(v Value) (any, error) {
		switch v.Tag {
		case TagBool:
			return v.Bool, nil
		case TagInt:
			return v.Int, nil
		case TagFloat:
			return v.Float, nil
		case TagString:
			return v.Str, nil
		case TagTable:
			return ref(v.Ref)
		}
		return nil, fmt.Errorf("snapshot: unknown value tag %d", v.Tag)
	}

	for i, n := range s.Nodes {
		p := plains[i]
		for _, f := range n.Fields {
			k, err := value(f.Key)
			if err != nil {
				return nil, err
			}
			v, err := value(f.Value)
			if err != nil {
				return nil, err
			}
			p.Fields[k] = v
		}
		if n.Meta > 0 {
			mt, err := ref(n.Meta - 1)
			if err != nil {
				return nil, err
			}
			p.Meta = mt
		}
	}
	return plains[s.Root], nil
}

// Save dumps t and encodes the result.
func Save(t table.SharedTable, opts Options) ([]byte, error) {
	p, err := t.Dump()
	if err != nil {
		return nil, fmt.Errorf("snapshot: dump: %w", err)
	}
	return EncodeWith(p, opts)
}

// Load decodes data into a new shared table in s. The caller owns one hold
// on the result.
func Load(s *table.Space, data []byte) (table.SharedTable, error) {
	p, err := Decode(data)
	if err != nil {
		return table.SharedTable{}, err
	}
	t, err := s.FromPlain(p)
	if err != nil {
		return table.SharedTable{}, fmt.Errorf("snapshot: load: %w", err)
	}
	return t, nil
}
