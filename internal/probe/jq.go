package probe

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/itchyny/gojq"
)

// Query is a compiled jq expression. It is safe for concurrent use.
type Query struct {
	expr string
	code *gojq.Code
}

var queryCache sync.Map

// Compile parses and compiles expr. Compiled queries are cached by
// expression.
func Compile(expr string) (*Query, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = "."
	}
	if q, ok := queryCache.Load(expr); ok {
		return q.(*Query), nil
	}
	parsed, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %q: %w", ErrQuery, expr, err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: compile %q: %w", ErrQuery, expr, err)
	}
	q := &Query{expr: expr, code: code}
	actual, _ := queryCache.LoadOrStore(expr, q)
	return actual.(*Query), nil
}

// MustCompile is Compile for expressions fixed at build time.
func MustCompile(expr string) *Query {
	q, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return q
}

func (q *Query) String() string { return q.expr }

// Run evaluates the query against a decoded JSON value and collects every
// output.
func (q *Query) Run(v any) ([]any, error) {
	iter := q.code.Run(v)
	var out []any
	for {
		r, ok := iter.Next()
		if !ok {
			return out, nil
		}
		if err, isErr := r.(error); isErr {
			return nil, fmt.Errorf("%w: %q: %w", ErrQuery, q.expr, err)
		}
		out = append(out, r)
	}
}

// First decodes body and returns the query's first output.
func (q *Query) First(body []byte) (any, error) {
	v, err := decode(body)
	if err != nil {
		return nil, err
	}
	out, err := q.Run(v)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %q produced no output", ErrQuery, q.expr)
	}
	return out[0], nil
}

// Int runs the query and converts its first output to an int. Numbers
// must be integral; arrays and objects yield their length.
func (q *Query) Int(body []byte) (int, error) {
	v, err := q.First(body)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: %q returned non-integer %v", ErrQuery, q.expr, n)
		}
		return int(n), nil
	case []any:
		return len(n), nil
	case map[string]any:
		return len(n), nil
	default:
		return 0, fmt.Errorf("%w: %q returned %T, want a number", ErrQuery, q.expr, v)
	}
}

func decode(body []byte) (any, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrQuery)
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("%w: body is not JSON: %w", ErrQuery, err)
	}
	return v, nil
}

// canonicalQuery drops volatile keys at any depth and orders arrays so
// that two snapshots of the same state compare equal.
var canonicalQuery = mustCompileWithVars(`
	walk(
		if type == "object" then with_entries(select(.key | IN($volatile[]) | not))
		elif type == "array" then sort_by(tojson)
		else . end
	)`, "$volatile")

func mustCompileWithVars(expr string, vars ...string) *gojq.Code {
	parsed, err := gojq.Parse(expr)
	if err != nil {
		panic(err)
	}
	code, err := gojq.Compile(parsed, gojq.WithVariables(vars))
	if err != nil {
		panic(err)
	}
	return code
}

// Canonical returns a stable JSON rendering of body: keys named in
// volatile are removed at every depth, object keys are sorted and arrays
// are ordered by content. Equal states give equal strings.
func Canonical(body []byte, volatile ...string) (string, error) {
	v, err := decode(body)
	if err != nil {
		return "", err
	}
	return canonicalValue(v, volatile)
}

func canonicalValue(v any, volatile []string) (string, error) {
	keys := make([]any, len(volatile))
	for i, k := range volatile {
		keys[i] = k
	}
	iter := canonicalQuery.Run(v, keys)
	r, ok := iter.Next()
	if !ok {
		return "", fmt.Errorf("%w: canonical form produced no output", ErrQuery)
	}
	if err, isErr := r.(error); isErr {
		return "", fmt.Errorf("%w: canonical form: %w", ErrQuery, err)
	}
	out, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode canonical JSON: %w", err)
	}
	return string(out), nil
}
