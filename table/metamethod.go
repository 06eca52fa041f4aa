package table

import (
	"fmt"
)

// Metamethod names one customisable operation.
type Metamethod int

const (
	MetaIndex Metamethod = iota
	MetaNewIndex
	MetaCall
	MetaToString
	MetaLen
	MetaUnm
	MetaAdd
	MetaSub
	MetaMul
	MetaDiv
	MetaMod
	MetaPow
	MetaConcat
	MetaLt
	MetaLe
	MetaEq
	MetaPairs
	MetaIPairs
)

// operandClass says how a metamethod finds its handler and what happens
// when none is found.
type operandClass uint8

const (
	unary      operandClass = iota // handler from self's metatable only
	arithmetic                     // binary, left then right; error if absent
	comparison                     // binary, left then right; error if absent
	concat                         // binary, left then right; error if absent
	equality                       // binary, both must be tables; identity if absent
)

type metamethodInfo struct {
	name  string
	class operandClass
}

var metamethods = [...]metamethodInfo{
	MetaIndex:    {"__index", unary},
	MetaNewIndex: {"__newindex", unary},
	MetaCall:     {"__call", unary},
	MetaToString: {"__tostring", unary},
	MetaLen:      {"__len", unary},
	MetaUnm:      {"__unm", unary},
	MetaAdd:      {"__add", arithmetic},
	MetaSub:      {"__sub", arithmetic},
	MetaMul:      {"__mul", arithmetic},
	MetaDiv:      {"__div", arithmetic},
	MetaMod:      {"__mod", arithmetic},
	MetaPow:      {"__pow", arithmetic},
	MetaConcat:   {"__concat", concat},
	MetaLt:       {"__lt", comparison},
	MetaLe:       {"__le", comparison},
	MetaEq:       {"__eq", equality},
	MetaPairs:    {"__pairs", unary},
	MetaIPairs:   {"__ipairs", unary},
}

func (m Metamethod) String() string {
	if m < 0 || int(m) >= len(metamethods) {
		return fmt.Sprintf("Metamethod(%d)", int(m))
	}
	return metamethods[m].name
}

// IsBinary reports whether m takes two operands.
func (m Metamethod) IsBinary() bool {
	return metamethods[m].class != unary
}

// maxIndexChain bounds __index chains so a metatable loop reports an
// error instead of spinning forever.
const maxIndexChain = 2000

// metaValue looks m up in t's metatable without invoking anything. The
// two tables are locked one after the other, never together.
func (t SharedTable) metaValue(m Metamethod) (any, error) {
	mt, ok, err := t.Metatable()
	if err != nil || !ok {
		return nil, err
	}
	return mt.ctx.lookup(stringValue(m.String()))
}

// handler resolves m to a callable on t's metatable, or nil.
func (t SharedTable) handler(m Metamethod) (Callable, error) {
	v, err := t.metaValue(m)
	if err != nil {
		return nil, err
	}
	f, ok := v.(*Function)
	if !ok {
		return nil, nil
	}
	return f, nil
}

// invoke calls a handler, annotating its failure with the metamethod.
func invoke(m Metamethod, fn Callable, args ...any) ([]any, error) {
	results, err := fn.Call(args...)
	if err != nil {
		return nil, WithPrefix("tablespace.table: "+m.String(), err)
	}
	return results, nil
}

// dispatchBinary tries left's handler for m, then right's. Non-table
// operands never supply a handler but are passed through unchanged.
func dispatchBinary(m Metamethod, left, right any) (any, bool, error) {
	for _, operand := range [2]any{left, right} {
		t, ok := operand.(SharedTable)
		if !ok || t.IsZero() {
			continue
		}
		fn, err := t.handler(m)
		if err != nil {
			return nil, false, err
		}
		if fn == nil {
			continue
		}
		results, err := invoke(m, fn, left, right)
		if err != nil {
			return nil, true, err
		}
		return first(results), true, nil
	}
	return nil, false, nil
}

func noMetamethod(m Metamethod, left, right any) error {
	offender := left
	if _, ok := left.(SharedTable); !ok {
		if _, ok := right.(SharedTable); ok {
			offender = right
		}
	}
	switch metamethods[m].class {
	case comparison:
		return newError(NoMetamethod, "attempt to compare a %s value", TypeName(offender))
	case concat:
		return newError(NoMetamethod, "attempt to concatenate a %s value", TypeName(offender))
	default:
		return newError(NoMetamethod, "attempt to perform arithmetic on a %s value", TypeName(offender))
	}
}

// Arith applies one of the arithmetic metamethods (__add, __sub, __mul,
// __div, __mod, __pow) to left and right.
func Arith(m Metamethod, left, right any) (any, error) {
	if int(m) >= len(metamethods) || metamethods[m].class != arithmetic {
		return nil, fmt.Errorf("%s is not an arithmetic metamethod", m)
	}
	v, ok, err := dispatchBinary(m, left, right)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, noMetamethod(m, left, right)
	}
	return v, nil
}

func Add(left, right any) (any, error) { return Arith(MetaAdd, left, right) }
func Sub(left, right any) (any, error) { return Arith(MetaSub, left, right) }
func Mul(left, right any) (any, error) { return Arith(MetaMul, left, right) }
func Div(left, right any) (any, error) { return Arith(MetaDiv, left, right) }
func Mod(left, right any) (any, error) { return Arith(MetaMod, left, right) }
func Pow(left, right any) (any, error) { return Arith(MetaPow, left, right) }

// Concat applies __concat.
func Concat(left, right any) (any, error) {
	v, ok, err := dispatchBinary(MetaConcat, left, right)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, noMetamethod(MetaConcat, left, right)
	}
	return v, nil
}

// Less applies __lt.
func Less(left, right any) (bool, error) {
	return compare(MetaLt, left, right)
}

// LessEqual applies __le.
func LessEqual(left, right any) (bool, error) {
	return compare(MetaLe, left, right)
}

func compare(m Metamethod, left, right any) (bool, error) {
	v, ok, err := dispatchBinary(m, left, right)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, noMetamethod(m, left, right)
	}
	return truthy(v), nil
}

// Equal compares two values the way == does on shared tables. Only two
// tables consult __eq; without a handler they are equal iff they are the
// same table. Anything involving a non-table is false.
func Equal(left, right any) (bool, error) {
	l, lok := left.(SharedTable)
	r, rok := right.(SharedTable)
	if !lok || !rok || l.IsZero() || r.IsZero() {
		return false, nil
	}
	v, ok, err := dispatchBinary(MetaEq, l, r)
	if err != nil {
		return false, err
	}
	if ok {
		return truthy(v), nil
	}
	return l.Same(r), nil
}

// ---------------------------------------------------------------------------
// Index and new-index
// ---------------------------------------------------------------------------

// Index looks key up in t, falling back to the __index chain: a table
// value is searched in turn, a function is called with the table being
// searched and key.
func (t SharedTable) Index(key any) (any, error) {
	if isAbsent(key) {
		return nil, newError(InvalidKey, "indexing by nil")
	}
	cur := t
	for range maxIndexChain {
		v, err := cur.RawGet(key)
		if err != nil {
			return nil, WithPrefix("tablespace.table", err)
		}
		if v != nil {
			return v, nil
		}

		entry, err := cur.metaValue(MetaIndex)
		if err != nil {
			return nil, WithPrefix("tablespace.table", err)
		}
		switch h := entry.(type) {
		case SharedTable:
			cur = h
		case *Function:
			results, err := invoke(MetaIndex, h, cur, key)
			if err != nil {
				return nil, err
			}
			return first(results), nil
		default:
			return nil, nil
		}
	}
	return nil, WithPrefix("tablespace.table", ErrChainTooLong)
}

// NewIndex assigns key = value. If t's metatable has a __newindex
// function it is called with (t, key, value) and nothing is stored;
// otherwise the assignment is raw.
func (t SharedTable) NewIndex(key, value any) error {
	fn, err := t.handler(MetaNewIndex)
	if err != nil {
		return WithPrefix("tablespace.table", err)
	}
	if fn != nil {
		_, err := invoke(MetaNewIndex, fn, t, key, value)
		return err
	}
	return WithPrefix("tablespace.table", t.RawSet(key, value))
}

// ---------------------------------------------------------------------------
// Unary metamethods
// ---------------------------------------------------------------------------

// Call invokes the table's __call handler with the table followed by args.
func (t SharedTable) Call(args ...any) ([]any, error) {
	fn, err := t.handler(MetaCall)
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, newError(NotCallable, "attempt to call a %s value", TypeName(t))
	}
	return invoke(MetaCall, fn, append([]any{t}, args...)...)
}

// ToString applies __tostring, defaulting to the table's identity text.
func (t SharedTable) ToString() (string, error) {
	fn, err := t.handler(MetaToString)
	if err != nil {
		return "", err
	}
	if fn == nil {
		return t.String(), nil
	}
	results, err := invoke(MetaToString, fn, t)
	if err != nil {
		return "", err
	}
	s, ok := first(results).(string)
	if !ok {
		return "", newError(WrongArgumentType, "'__tostring' must return a string")
	}
	return s, nil
}

// Length applies __len, defaulting to RawLength.
func (t SharedTable) Length() (any, error) {
	fn, err := t.handler(MetaLen)
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return t.RawLength(), nil
	}
	results, err := invoke(MetaLen, fn, t)
	if err != nil {
		return nil, err
	}
	return first(results), nil
}

// Negate applies __unm.
func (t SharedTable) Negate() (any, error) {
	fn, err := t.handler(MetaUnm)
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, noMetamethod(MetaUnm, t, nil)
	}
	results, err := invoke(MetaUnm, fn, t)
	if err != nil {
		return nil, err
	}
	return first(results), nil
}
