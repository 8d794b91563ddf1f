package streamsvc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/rzbill/mediaflo/internal/media"
	"github.com/rzbill/mediaflo/internal/relay"
)

// ErrInvalidFilter wraps CEL parse and type-check failures.
var ErrInvalidFilter = errors.New("streams: invalid filter")

// celFilter wraps a compiled CEL program evaluated against each decoded
// part. When disabled, Eval always returns true.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("index", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("data", cel.BytesType),
		cel.Variable("text", cel.StringType),
		// Parsed JSON payload, null for binary parts such as audio.
		cel.Variable("json", cel.DynType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, fmt.Errorf("%w: %v", ErrInvalidFilter, iss.Err())
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return celFilter{}, fmt.Errorf("%w: %v", ErrInvalidFilter, iss2.Err())
	}
	if out := checked.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return celFilter{}, fmt.Errorf("%w: expression must be boolean, got %v", ErrInvalidFilter, out)
	}
	prog, err := env.Program(checked)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the compiled expression against a part. Evaluation
// errors, such as a missing json field, count as no match.
func (f celFilter) Eval(p media.Part) (bool, error) {
	if !f.enabled {
		return true, nil
	}
	var jsonObj any
	if json.Valid(p.Data) {
		_ = json.Unmarshal(p.Data, &jsonObj)
	}
	out, _, err := f.prog.Eval(map[string]any{
		"index":  p.Index,
		"size":   int64(len(p.Data)),
		"data":   p.Data,
		"text":   string(p.Data),
		"json":   jsonObj,
		"now_ms": time.Now().UnixMilli(),
	})
	if err != nil {
		return false, nil
	}
	b, ok := out.Value().(bool)
	return ok && b, nil
}

// predicate adapts the filter to the relay; nil when disabled.
func (f celFilter) predicate() relay.Predicate[media.Part] {
	if !f.enabled {
		return nil
	}
	return f.Eval
}
