package sandbox

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// EvalError is a sandboxed evaluation failure, captured as data by the
// caller (ExecResult.Error) — it never escapes as a Go panic/error out of
// Execute.
type EvalError struct {
	Msg string
}

func (e *EvalError) Error() string { return "sandbox: " + e.Msg }

// Cell is an atom-like mutable reference, the only mutable collection
// type the allow-list exposes to model code.
type Cell struct {
	mu    sync.Mutex
	value any
}

func (c *Cell) get() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (c *Cell) set(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
}

// builtinFunc is an allow-listed operation: its arguments have already
// been evaluated, and it returns either a value or an EvalError.
type builtinFunc func(inv *Invocation, args []any) (any, error)

// eval evaluates a single parsed form against inv's locals.
func eval(inv *Invocation, n Node) (any, error) {
	switch n.Kind {
	case NodeNumber:
		return n.Num, nil
	case NodeString:
		return n.Str, nil
	case NodeBool:
		return n.Bool, nil
	case NodeNil:
		return nil, nil
	case NodeSymbol:
		if v, ok := inv.locals[n.Sym]; ok {
			return v, nil
		}
		return nil, &EvalError{Msg: "unbound symbol: " + n.Sym}
	case NodeList:
		return evalList(inv, n)
	default:
		return nil, &EvalError{Msg: "unknown node kind"}
	}
}

func evalList(inv *Invocation, n Node) (any, error) {
	if len(n.Items) == 0 {
		return nil, &EvalError{Msg: "empty form"}
	}
	head := n.Items[0]
	if head.Kind != NodeSymbol {
		return nil, &EvalError{Msg: "form must start with a symbol"}
	}

	switch head.Sym {
	case "def":
		return evalDef(inv, n.Items[1:])
	case "let":
		return evalLet(inv, n.Items[1:])
	case "if":
		return evalIf(inv, n.Items[1:])
	case "FINAL-VAR":
		return evalFinalVar(inv, n.Items[1:])
	}

	fn, ok := inv.sandbox.lookupFunc(head.Sym)
	if !ok {
		return nil, &EvalError{Msg: "operation not allow-listed: " + head.Sym}
	}
	args := make([]any, 0, len(n.Items)-1)
	for _, a := range n.Items[1:] {
		v, err := eval(inv, a)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return fn(inv, args)
}

func evalDef(inv *Invocation, args []Node) (any, error) {
	if len(args) != 2 || args[0].Kind != NodeSymbol {
		return nil, &EvalError{Msg: "def requires (def symbol value)"}
	}
	v, err := eval(inv, args[1])
	if err != nil {
		return nil, err
	}
	inv.locals[args[0].Sym] = v
	return v, nil
}

func evalLet(inv *Invocation, args []Node) (any, error) {
	if len(args) < 1 || args[0].Kind != NodeList {
		return nil, &EvalError{Msg: "let requires a binding list"}
	}
	bindings := args[0].Items
	if len(bindings)%2 != 0 {
		return nil, &EvalError{Msg: "let bindings must be paired"}
	}
	saved := make(map[string]any, len(bindings)/2)
	var savedNames, fresh []string
	for i := 0; i+1 < len(bindings); i += 2 {
		if bindings[i].Kind != NodeSymbol {
			return nil, &EvalError{Msg: "let binding name must be a symbol"}
		}
		v, err := eval(inv, bindings[i+1])
		if err != nil {
			return nil, err
		}
		name := bindings[i].Sym
		if old, ok := inv.locals[name]; ok {
			saved[name] = old
			savedNames = append(savedNames, name)
		} else {
			fresh = append(fresh, name)
		}
		inv.locals[name] = v
	}
	var result any
	for _, body := range args[1:] {
		v, err := eval(inv, body)
		if err != nil {
			return nil, err
		}
		result = v
	}
	for _, name := range savedNames {
		inv.locals[name] = saved[name]
	}
	for _, name := range fresh {
		delete(inv.locals, name)
	}
	return result, nil
}

func evalIf(inv *Invocation, args []Node) (any, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, &EvalError{Msg: "if requires (if cond then [else])"}
	}
	cond, err := eval(inv, args[0])
	if err != nil {
		return nil, err
	}
	if truthy(cond) {
		return eval(inv, args[1])
	}
	if len(args) == 3 {
		return eval(inv, args[2])
	}
	return nil, nil
}

func evalFinalVar(inv *Invocation, args []Node) (any, error) {
	if len(args) != 1 || args[0].Kind != NodeSymbol {
		return nil, &EvalError{Msg: "FINAL-VAR requires a single symbol"}
	}
	v, ok := inv.locals[args[0].Sym]
	if !ok {
		return nil, &EvalError{Msg: "unbound symbol: " + args[0].Sym}
	}
	return finalSentinel{Answer: v}, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	default:
		return true
	}
}

// finalSentinel is the terminal record the IterationLoop scans for.
type finalSentinel struct {
	Answer any
}

// IsFinal reports whether v is a FINAL sentinel, for callers outside this
// package (the iteration loop) that need to detect termination.
func IsFinal(v any) (any, bool) {
	if f, ok := v.(finalSentinel); ok {
		return f.Answer, true
	}
	return nil, false
}

// registerCoreBuiltins installs arithmetic, comparison, collection,
// string, regex, date, set, and atom-cell operations — every allow-listed
// operation except FINAL/CITE and the store-backed tool bindings, which
// live in tools.go since they close over the Sandbox's store.
func registerCoreBuiltins(reg map[string]builtinFunc) {
	reg["+"] = arith(func(a, b float64) float64 { return a + b }, 0)
	reg["-"] = arith(func(a, b float64) float64 { return a - b }, 0)
	reg["*"] = arith(func(a, b float64) float64 { return a * b }, 1)
	reg["/"] = func(inv *Invocation, args []any) (any, error) {
		if len(args) == 0 {
			return nil, &EvalError{Msg: "/ requires at least one argument"}
		}
		first, err := asNumber(args[0])
		if err != nil {
			return nil, err
		}
		if len(args) == 1 {
			return 1 / first, nil
		}
		result := first
		for _, a := range args[1:] {
			n, err := asNumber(a)
			if err != nil {
				return nil, err
			}
			if n == 0 {
				return nil, &EvalError{Msg: "division by zero"}
			}
			result /= n
		}
		return result, nil
	}

	reg["="] = compare(func(c int) bool { return c == 0 })
	reg["<"] = compare(func(c int) bool { return c < 0 })
	reg[">"] = compare(func(c int) bool { return c > 0 })
	reg["<="] = compare(func(c int) bool { return c <= 0 })
	reg[">="] = compare(func(c int) bool { return c >= 0 })

	reg["and"] = func(inv *Invocation, args []any) (any, error) {
		for _, a := range args {
			if !truthy(a) {
				return false, nil
			}
		}
		return true, nil
	}
	reg["or"] = func(inv *Invocation, args []any) (any, error) {
		for _, a := range args {
			if truthy(a) {
				return true, nil
			}
		}
		return false, nil
	}
	reg["not"] = func(inv *Invocation, args []any) (any, error) {
		if len(args) != 1 {
			return nil, &EvalError{Msg: "not requires one argument"}
		}
		return !truthy(args[0]), nil
	}

	reg["list"] = func(inv *Invocation, args []any) (any, error) {
		out := make([]any, len(args))
		copy(out, args)
		return out, nil
	}
	reg["count"] = func(inv *Invocation, args []any) (any, error) {
		if len(args) != 1 {
			return nil, &EvalError{Msg: "count requires one argument"}
		}
		coll, err := asSlice(args[0])
		if err != nil {
			return nil, err
		}
		return float64(len(coll)), nil
	}
	reg["concat"] = func(inv *Invocation, args []any) (any, error) {
		var out []any
		for _, a := range args {
			coll, err := asSlice(a)
			if err != nil {
				return nil, err
			}
			out = append(out, coll...)
		}
		return out, nil
	}
	reg["filter"] = func(inv *Invocation, args []any) (any, error) {
		return collectionTransform(inv, args, transformFilter)
	}
	reg["map"] = func(inv *Invocation, args []any) (any, error) {
		return collectionTransform(inv, args, transformMap)
	}
	reg["reduce"] = func(inv *Invocation, args []any) (any, error) {
		if len(args) != 3 {
			return nil, &EvalError{Msg: "reduce requires (reduce fn-symbol init coll)"}
		}
		fnName, ok := args[0].(string)
		if !ok {
			return nil, &EvalError{Msg: "reduce's first argument must be an operation name"}
		}
		fn, ok := inv.sandbox.lookupFunc(fnName)
		if !ok {
			return nil, &EvalError{Msg: "operation not allow-listed: " + fnName}
		}
		coll, err := asSlice(args[2])
		if err != nil {
			return nil, err
		}
		acc := args[1]
		for _, item := range coll {
			acc, err = fn(inv, []any{acc, item})
			if err != nil {
				return nil, err
			}
		}
		return acc, nil
	}

	reg["str-upper"] = strFn(strings.ToUpper)
	reg["str-lower"] = strFn(strings.ToLower)
	reg["str-trim"] = strFn(strings.TrimSpace)
	reg["str-join"] = func(inv *Invocation, args []any) (any, error) {
		if len(args) != 2 {
			return nil, &EvalError{Msg: "str-join requires (str-join sep coll)"}
		}
		sep, ok := args[0].(string)
		if !ok {
			return nil, &EvalError{Msg: "str-join separator must be a string"}
		}
		coll, err := asSlice(args[1])
		if err != nil {
			return nil, err
		}
		parts := make([]string, len(coll))
		for i, v := range coll {
			parts[i] = fmt.Sprint(v)
		}
		return strings.Join(parts, sep), nil
	}
	reg["str-split"] = func(inv *Invocation, args []any) (any, error) {
		if len(args) != 2 {
			return nil, &EvalError{Msg: "str-split requires (str-split s sep)"}
		}
		s, ok1 := args[0].(string)
		sep, ok2 := args[1].(string)
		if !ok1 || !ok2 {
			return nil, &EvalError{Msg: "str-split requires string arguments"}
		}
		parts := strings.Split(s, sep)
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	}

	reg["re-match"] = func(inv *Invocation, args []any) (any, error) {
		pattern, s, err := twoStrings(args, "re-match")
		if err != nil {
			return nil, err
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, &EvalError{Msg: "invalid regex: " + err.Error()}
		}
		return re.MatchString(s), nil
	}
	reg["re-find"] = func(inv *Invocation, args []any) (any, error) {
		pattern, s, err := twoStrings(args, "re-find")
		if err != nil {
			return nil, err
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, &EvalError{Msg: "invalid regex: " + err.Error()}
		}
		m := re.FindString(s)
		if m == "" && !re.MatchString(s) {
			return nil, nil
		}
		return m, nil
	}

	reg["date-parse"] = func(inv *Invocation, args []any) (any, error) {
		s, err := oneString(args, "date-parse")
		if err != nil {
			return nil, err
		}
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return nil, &EvalError{Msg: "invalid ISO-8601 date: " + err.Error()}
		}
		return t, nil
	}
	reg["date-today"] = func(inv *Invocation, args []any) (any, error) {
		return inv.sandbox.clock().Truncate(24 * time.Hour), nil
	}
	reg["date-add-days"] = func(inv *Invocation, args []any) (any, error) {
		if len(args) != 2 {
			return nil, &EvalError{Msg: "date-add-days requires (date-add-days date n)"}
		}
		t, ok := args[0].(time.Time)
		if !ok {
			return nil, &EvalError{Msg: "date-add-days requires a date"}
		}
		n, err := asNumber(args[1])
		if err != nil {
			return nil, err
		}
		return t.AddDate(0, 0, int(n)), nil
	}
	reg["date-days-between"] = func(inv *Invocation, args []any) (any, error) {
		if len(args) != 2 {
			return nil, &EvalError{Msg: "date-days-between requires two dates"}
		}
		a, ok1 := args[0].(time.Time)
		b, ok2 := args[1].(time.Time)
		if !ok1 || !ok2 {
			return nil, &EvalError{Msg: "date-days-between requires date arguments"}
		}
		return float64(int(b.Sub(a).Hours() / 24)), nil
	}
	reg["date-format"] = func(inv *Invocation, args []any) (any, error) {
		if len(args) != 1 {
			return nil, &EvalError{Msg: "date-format requires (date-format date)"}
		}
		t, ok := args[0].(time.Time)
		if !ok {
			return nil, &EvalError{Msg: "date-format requires a date"}
		}
		return t.Format("2006-01-02"), nil
	}

	reg["set-union"] = setOp(func(a, b map[string]bool) map[string]bool {
		out := cloneSet(a)
		for k := range b {
			out[k] = true
		}
		return out
	})
	reg["set-intersection"] = setOp(func(a, b map[string]bool) map[string]bool {
		out := make(map[string]bool)
		for k := range a {
			if b[k] {
				out[k] = true
			}
		}
		return out
	})
	reg["set-difference"] = setOp(func(a, b map[string]bool) map[string]bool {
		out := make(map[string]bool)
		for k := range a {
			if !b[k] {
				out[k] = true
			}
		}
		return out
	})
	reg["set-subset?"] = func(inv *Invocation, args []any) (any, error) {
		a, b, err := twoSets(args)
		if err != nil {
			return nil, err
		}
		for k := range a {
			if !b[k] {
				return false, nil
			}
		}
		return true, nil
	}
	reg["set-superset?"] = func(inv *Invocation, args []any) (any, error) {
		a, b, err := twoSets(args)
		if err != nil {
			return nil, err
		}
		for k := range b {
			if !a[k] {
				return false, nil
			}
		}
		return true, nil
	}

	reg["atom"] = func(inv *Invocation, args []any) (any, error) {
		var initial any
		if len(args) == 1 {
			initial = args[0]
		}
		return &Cell{value: initial}, nil
	}
	reg["deref"] = func(inv *Invocation, args []any) (any, error) {
		c, err := asCell(args)
		if err != nil {
			return nil, err
		}
		return c.get(), nil
	}
	reg["reset!"] = func(inv *Invocation, args []any) (any, error) {
		if len(args) != 2 {
			return nil, &EvalError{Msg: "reset! requires (reset! cell value)"}
		}
		c, ok := args[0].(*Cell)
		if !ok {
			return nil, &EvalError{Msg: "reset! requires a cell"}
		}
		c.set(args[1])
		return args[1], nil
	}
	reg["swap!"] = func(inv *Invocation, args []any) (any, error) {
		if len(args) < 2 {
			return nil, &EvalError{Msg: "swap! requires (swap! cell op args...)"}
		}
		c, ok := args[0].(*Cell)
		if !ok {
			return nil, &EvalError{Msg: "swap! requires a cell"}
		}
		opName, ok := args[1].(string)
		if !ok {
			return nil, &EvalError{Msg: "swap! requires an operation name"}
		}
		fn, ok := inv.sandbox.lookupFunc(opName)
		if !ok {
			return nil, &EvalError{Msg: "operation not allow-listed: " + opName}
		}
		callArgs := append([]any{c.get()}, args[2:]...)
		newVal, err := fn(inv, callArgs)
		if err != nil {
			return nil, err
		}
		c.set(newVal)
		return newVal, nil
	}
}

func arith(op func(a, b float64) float64, identity float64) builtinFunc {
	return func(inv *Invocation, args []any) (any, error) {
		result := identity
		if len(args) == 1 {
			n, err := asNumber(args[0])
			if err != nil {
				return nil, err
			}
			return op(identity, n), nil
		}
		for i, a := range args {
			n, err := asNumber(a)
			if err != nil {
				return nil, err
			}
			if i == 0 {
				result = n
				continue
			}
			result = op(result, n)
		}
		return result, nil
	}
}

func compare(pred func(cmp int) bool) builtinFunc {
	return func(inv *Invocation, args []any) (any, error) {
		if len(args) < 2 {
			return nil, &EvalError{Msg: "comparison requires at least two arguments"}
		}
		for i := 0; i+1 < len(args); i++ {
			c, err := compareValues(args[i], args[i+1])
			if err != nil {
				return nil, err
			}
			if !pred(c) {
				return false, nil
			}
		}
		return true, nil
	}
}

func compareValues(a, b any) (int, error) {
	if an, aok := toFloat(a); aok {
		if bn, bok := toFloat(b); bok {
			switch {
			case an < bn:
				return -1, nil
			case an > bn:
				return 1, nil
			default:
				return 0, nil
			}
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), nil
	}
	return 0, &EvalError{Msg: "cannot compare incompatible values"}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}

func asNumber(v any) (float64, error) {
	f, ok := toFloat(v)
	if !ok {
		return 0, &EvalError{Msg: "expected a number"}
	}
	return f, nil
}

func asSlice(v any) ([]any, error) {
	s, ok := v.([]any)
	if !ok {
		return nil, &EvalError{Msg: "expected a collection"}
	}
	return s, nil
}

func asCell(args []any) (*Cell, error) {
	if len(args) != 1 {
		return nil, &EvalError{Msg: "expected a single cell argument"}
	}
	c, ok := args[0].(*Cell)
	if !ok {
		return nil, &EvalError{Msg: "expected a cell"}
	}
	return c, nil
}

func strFn(op func(string) string) builtinFunc {
	return func(inv *Invocation, args []any) (any, error) {
		s, err := oneString(args, "string operation")
		if err != nil {
			return nil, err
		}
		return op(s), nil
	}
}

func oneString(args []any, name string) (string, error) {
	if len(args) != 1 {
		return "", &EvalError{Msg: name + " requires one argument"}
	}
	s, ok := args[0].(string)
	if !ok {
		return "", &EvalError{Msg: name + " requires a string argument"}
	}
	return s, nil
}

func twoStrings(args []any, name string) (string, string, error) {
	if len(args) != 2 {
		return "", "", &EvalError{Msg: name + " requires two arguments"}
	}
	a, ok1 := args[0].(string)
	b, ok2 := args[1].(string)
	if !ok1 || !ok2 {
		return "", "", &EvalError{Msg: name + " requires string arguments"}
	}
	return a, b, nil
}

// collectionTransform implements map/filter: fn-symbol applied elementwise
// over the given slice.
type transformKind int

const (
	transformMap transformKind = iota
	transformFilter
)

func collectionTransform(inv *Invocation, args []any, kind transformKind) (any, error) {
	if len(args) != 2 {
		return nil, &EvalError{Msg: "requires (op fn-symbol coll)"}
	}
	fnName, ok := args[0].(string)
	if !ok {
		return nil, &EvalError{Msg: "first argument must be an operation name"}
	}
	fn, ok := inv.sandbox.lookupFunc(fnName)
	if !ok {
		return nil, &EvalError{Msg: "operation not allow-listed: " + fnName}
	}
	coll, err := asSlice(args[1])
	if err != nil {
		return nil, err
	}
	var out []any
	for _, item := range coll {
		v, err := fn(inv, []any{item})
		if err != nil {
			return nil, err
		}
		switch kind {
		case transformMap:
			out = append(out, v)
		case transformFilter:
			if truthy(v) {
				out = append(out, item)
			}
		}
	}
	return out, nil
}

func setOp(op func(a, b map[string]bool) map[string]bool) builtinFunc {
	return func(inv *Invocation, args []any) (any, error) {
		a, b, err := twoSets(args)
		if err != nil {
			return nil, err
		}
		return setToSlice(op(a, b)), nil
	}
}

func twoSets(args []any) (map[string]bool, map[string]bool, error) {
	if len(args) != 2 {
		return nil, nil, &EvalError{Msg: "set operation requires two collections"}
	}
	a, err := toSet(args[0])
	if err != nil {
		return nil, nil, err
	}
	b, err := toSet(args[1])
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

func toSet(v any) (map[string]bool, error) {
	coll, err := asSlice(v)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(coll))
	for _, item := range coll {
		set[fmt.Sprint(item)] = true
	}
	return set, nil
}

func cloneSet(s map[string]bool) map[string]bool {
	out := make(map[string]bool, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func setToSlice(s map[string]bool) []any {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}
