package relay

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
)

// exprPattern matches parameter values of the form "${ <expression> }".
// Anything else is a literal.
var exprPattern = regexp.MustCompile(`^\$\{(.*)\}$`)

// Eval evaluates an expression against the given environment.
func Eval(expression string, env map[string]any) (any, error) {
	opts := []expr.Option{
		expr.Env(env),
		expr.AllowUndefinedVariables(), // Missing variables return nil instead of compile error
	}
	program, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, err
	}
	return expr.Run(program, env)
}

// resolveValue walks a raw parameter value and evaluates every "${ }" string
// against env. Maps and arrays are resolved recursively; other values pass
// through as literals.
func resolveValue(value any, env map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		matches := exprPattern.FindStringSubmatch(strings.TrimSpace(v))
		if matches == nil {
			return v, nil
		}
		result, err := Eval(strings.TrimSpace(matches[1]), env)
		if err != nil {
			return nil, fmt.Errorf("error evaluating expression '%s': %w", v, err)
		}
		return result, nil

	case map[string]any:
		resolved := make(map[string]any, len(v))
		for key, val := range v {
			r, err := resolveValue(val, env)
			if err != nil {
				return nil, err
			}
			resolved[key] = r
		}
		return resolved, nil

	case []any:
		resolved := make([]any, len(v))
		for i, val := range v {
			r, err := resolveValue(val, env)
			if err != nil {
				return nil, err
			}
			resolved[i] = r
		}
		return resolved, nil

	default:
		return value, nil
	}
}
