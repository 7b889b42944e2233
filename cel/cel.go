// Package cel compiles CEL boolean expressions used to select cache entries.
package cel

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Variables available to a predicate expression.
const (
	VarKey         = "key"
	VarAccessCount = "access_count"
	VarAgeSeconds  = "age_seconds"
	VarIdleSeconds = "idle_seconds"
	VarSizeBytes   = "size_bytes"
)

// Predicate struct contains the CEL expression & the cel program used to evaluate it vs. entry attributes.
type Predicate struct {
	Expression string
	program    cel.Program
}

// NewPredicate compiles expression, which must evaluate to a bool over the entry variables,
// e.g. `access_count == 0 && age_seconds > 600` or `key.startsWith("graph:")`.
func NewPredicate(expression string) (*Predicate, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression can't be empty string")
	}

	env, err := cel.NewEnv(
		cel.Variable(VarKey, cel.StringType),
		cel.Variable(VarAccessCount, cel.IntType),
		cel.Variable(VarAgeSeconds, cel.DoubleType),
		cel.Variable(VarIdleSeconds, cel.DoubleType),
		cel.Variable(VarSizeBytes, cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("error compiling CEL expression: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("CEL expression %q must evaluate to bool, got %v", expression, ast.OutputType())
	}
	p, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("error creating Program: %w", err)
	}
	return &Predicate{
		Expression: expression,
		program:    p,
	}, nil
}

// Match evaluates the predicate against one entry's attributes.
func (p *Predicate) Match(key string, accessCount int64, ageSeconds, idleSeconds float64, sizeBytes int) (bool, error) {
	out, _, err := p.program.Eval(map[string]any{
		VarKey:         key,
		VarAccessCount: accessCount,
		VarAgeSeconds:  ageSeconds,
		VarIdleSeconds: idleSeconds,
		VarSizeBytes:   int64(sizeBytes),
	})
	if err != nil {
		return false, fmt.Errorf("error evaluating CEL expression: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression returned %T, expected bool", out.Value())
	}
	return b, nil
}
