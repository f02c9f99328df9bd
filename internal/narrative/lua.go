package narrative

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Shopify/go-lua"
)

// ErrUnsupportedValue is returned when a variable or expression result is not
// a nil, boolean, number or string.
var ErrUnsupportedValue = errors.New("unsupported variable value")

// Evaluator evaluates Lua expressions against a snapshot of story variables.
//
// Each evaluation runs in a fresh Lua state with the variables bound as
// globals, so expressions cannot leak state between calls.
type Evaluator struct{}

// NewEvaluator returns an Evaluator.
func NewEvaluator() *Evaluator { return &Evaluator{} }

// Compile reports whether expr is a syntactically valid Lua expression.
func (e *Evaluator) Compile(expr string) error {
	l := lua.NewState()
	if err := lua.LoadString(l, "return "+expr); err != nil {
		return fmt.Errorf("compile %q: %w", expr, err)
	}
	return nil
}

// Eval evaluates expr and returns its value as nil, bool, float64 or string.
func (e *Evaluator) Eval(expr string, vars map[string]interface{}) (interface{}, error) {
	l, err := e.state(vars)
	if err != nil {
		return nil, err
	}
	if err := lua.LoadString(l, "return "+expr); err != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, err)
	}
	if err := l.ProtectedCall(0, 1, 0); err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", expr, err)
	}
	defer l.Pop(1)

	switch l.TypeOf(-1) {
	case lua.TypeNil:
		return nil, nil
	case lua.TypeBoolean:
		return l.ToBoolean(-1), nil
	case lua.TypeNumber:
		n, _ := l.ToNumber(-1)
		return n, nil
	case lua.TypeString:
		s, _ := l.ToString(-1)
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q yields %s", ErrUnsupportedValue, expr, lua.TypeNameOf(l, -1))
	}
}

// Condition evaluates expr with Lua truthiness. An empty expression holds.
func (e *Evaluator) Condition(expr string, vars map[string]interface{}) (bool, error) {
	if expr == "" {
		return true, nil
	}
	v, err := e.Eval(expr, vars)
	if err != nil {
		return false, err
	}
	switch x := v.(type) {
	case nil:
		return false, nil
	case bool:
		return x, nil
	default:
		return true, nil
	}
}

func (e *Evaluator) state(vars map[string]interface{}) (*lua.State, error) {
	l := lua.NewState()
	lua.OpenLibraries(l)

	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := pushValue(l, vars[name]); err != nil {
			return nil, fmt.Errorf("variable %q: %w", name, err)
		}
		l.SetGlobal(name)
	}
	return l, nil
}

func pushValue(l *lua.State, v interface{}) error {
	switch x := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(x)
	case int:
		l.PushNumber(float64(x))
	case int64:
		l.PushNumber(float64(x))
	case float32:
		l.PushNumber(float64(x))
	case float64:
		l.PushNumber(x)
	case string:
		l.PushString(x)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
	return nil
}

// normalizeValue maps decoded YAML/JSON scalars onto the value types Eval
// returns.
func normalizeValue(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case nil, bool, string, float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case float32:
		return float64(x), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}
