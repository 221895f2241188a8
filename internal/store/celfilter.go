package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
)

// frameFilter wraps a compiled CEL program evaluated against frames during
// replay and live delivery. When disabled, Eval always returns true.
type frameFilter struct {
	prog    cel.Program
	enabled bool
}

func newFrameFilter(expr string) (frameFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return frameFilter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("topic", cel.StringType),
		cel.Variable("has_hash", cel.BoolType),
		// Parsed metadata (map/list/values) for field filtering
		cel.Variable("meta", cel.DynType),
		cel.Variable("ts_ms", cel.IntType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return frameFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return frameFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return frameFilter{}, iss2.Err()
	}
	if !checked.OutputType().IsExactType(cel.BoolType) {
		return frameFilter{}, fmt.Errorf("store: filter must evaluate to a boolean, got %s", checked.OutputType())
	}
	prog, err := env.Program(checked)
	if err != nil {
		return frameFilter{}, err
	}
	return frameFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the expression against a frame. Evaluation errors count as
// non-matches.
func (f frameFilter) Eval(frame Frame) bool {
	if !f.enabled {
		return true
	}
	var meta any
	if len(frame.Meta) > 0 {
		_ = json.Unmarshal(frame.Meta, &meta)
	}
	out, _, err := f.prog.Eval(map[string]any{
		"topic":    frame.Topic,
		"has_hash": frame.Hash != "",
		"meta":     meta,
		"ts_ms":    frame.ID.Time().UnixMilli(),
		"now_ms":   time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
