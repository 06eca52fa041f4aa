package table

// Iterator is the triple returned by Pairs and IPairs: call Fn with
// (State, control) repeatedly, starting from Init, until the first result
// is nil.
type Iterator struct {
	Fn    Callable
	State any
	Init  any
}

// Step calls the iterator function once.
func (it Iterator) Step(control any) (key, value any, err error) {
	results, err := it.Fn.Call(it.State, control)
	if err != nil {
		return nil, nil, err
	}
	if len(results) > 1 {
		return results[0], results[1], nil
	}
	return first(results), nil, nil
}

// Each drives the iterator until it is exhausted or fn returns false.
func (it Iterator) Each(fn func(key, value any) bool) error {
	control := it.Init
	for {
		k, v, err := it.Step(control)
		if err != nil {
			return err
		}
		if k == nil || !fn(k, v) {
			return nil
		}
		control = k
	}
}

// nextStep is the built-in pairs iterator: (table, key) -> next key, value.
var nextStep = GoFunc(func(args ...any) ([]any, error) {
	t, err := tableArg(args, "next")
	if err != nil {
		return nil, err
	}
	var key any
	if len(args) > 1 {
		key = args[1]
	}
	k, v, err := t.Next(key)
	if err != nil {
		return nil, err
	}
	if k == nil {
		return []any{nil}, nil
	}
	return []any{k, v}, nil
})

// ipairsStep is the built-in ipairs iterator: (table, i) -> i+1, t[i+1].
var ipairsStep = GoFunc(func(args ...any) ([]any, error) {
	t, err := tableArg(args, "ipairs")
	if err != nil {
		return nil, err
	}
	var i int64
	if len(args) > 1 {
		n, ok := args[1].(int64)
		if !ok {
			return nil, newError(WrongArgumentType, "ipairs: integer control value expected, got %s", TypeName(args[1]))
		}
		i = n
	}
	i++
	v, err := t.RawGet(i)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return []any{nil}, nil
	}
	return []any{i, v}, nil
})

func tableArg(args []any, fn string) (SharedTable, error) {
	if len(args) == 0 {
		return SharedTable{}, newError(WrongArgumentType, "%s: table expected, got no value", fn)
	}
	t, ok := args[0].(SharedTable)
	if !ok || t.IsZero() {
		return SharedTable{}, newError(WrongArgumentType, "%s: table expected, got %s", fn, TypeName(args[0]))
	}
	return t, nil
}

// Pairs returns the iteration triple for t: the __pairs handler's results
// if t's metatable defines one, otherwise the built-in key-order iterator.
//
// Entries inserted or deleted by other threads during the iteration may be
// missed or seen twice.
func (t SharedTable) Pairs() (Iterator, error) {
	return t.iterate(MetaPairs, nextStep)
}

// IPairs returns the iteration triple over t[1], t[2], ... stopping at the
// first missing index, or the __ipairs handler's results.
func (t SharedTable) IPairs() (Iterator, error) {
	return t.iterate(MetaIPairs, ipairsStep)
}

func (t SharedTable) iterate(m Metamethod, builtin GoFunc) (Iterator, error) {
	fn, err := t.handler(m)
	if err != nil {
		return Iterator{}, err
	}
	if fn == nil {
		var init any
		if m == MetaIPairs {
			init = int64(0)
		}
		return Iterator{Fn: builtin, State: t, Init: init}, nil
	}

	results, err := invoke(m, fn, t)
	if err != nil {
		return Iterator{}, err
	}
	if len(results) == 0 {
		return Iterator{}, newError(WrongArgumentType, "'%s' must return a function, got no value", m)
	}
	c, ok := asCallable(results[0])
	if !ok {
		return Iterator{}, newError(WrongArgumentType, "'%s' must return a function, got %s", m, TypeName(results[0]))
	}
	it := Iterator{Fn: c}
	if len(results) > 1 {
		it.State = results[1]
	}
	if len(results) > 2 {
		it.Init = results[2]
	}
	return it, nil
}
