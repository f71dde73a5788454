package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/lotwise/driveline/pkg/schema"
)

// SecretSource resolves secret references during interpolation.
type SecretSource interface {
	Resolve(ctx context.Context, key string) ([]byte, error)
}

// Scope holds the data available to ${{...}} references in step params.
type Scope struct {
	Steps    map[string]any // step ID -> decoded result of completed steps
	Workflow map[string]any // workflow metadata (id, correlation_id, name)
}

// Interpolator resolves ${{...}} references in step params before dispatch.
// Supported namespaces: steps.<id>.result[.<path>], workflow.<field>, and
// secrets.<KEY> via the vault. Two passes: plain variables first, secrets
// second, so secret values never feed back into variable resolution.
type Interpolator struct {
	secrets SecretSource
}

// NewInterpolator creates an Interpolator. secrets may be nil; secret
// references then fail with a validation error.
func NewInterpolator(secrets SecretSource) *Interpolator {
	return &Interpolator{secrets: secrets}
}

// HasInterpolation checks whether raw JSON contains any ${{...}} reference.
func HasInterpolation(raw json.RawMessage) bool {
	return strings.Contains(string(raw), "${{")
}

// Resolve interpolates all references in raw params against the scope.
func (interp *Interpolator) Resolve(ctx context.Context, raw json.RawMessage, scope *Scope) (json.RawMessage, error) {
	if len(raw) == 0 || !HasInterpolation(raw) {
		return raw, nil
	}

	resolved, err := interp.resolvePass(ctx, string(raw), scope, false)
	if err != nil {
		return nil, err
	}
	resolved, err = interp.resolvePass(ctx, resolved, scope, true)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(resolved), nil
}

// resolvePass scans for ${{...}} tokens. With secretPass false it resolves
// everything except secrets.* and leaves those untouched; with secretPass
// true it resolves only secrets.*.
func (interp *Interpolator) resolvePass(ctx context.Context, input string, scope *Scope, secretPass bool) (string, error) {
	var result strings.Builder
	result.Grow(len(input))

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "${{")
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}

		result.WriteString(input[i : i+idx])
		start := i + idx + 3

		end := strings.Index(input[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeValidation, "unclosed ${{ expression")
		}
		end += start

		expr := strings.TrimSpace(input[start:end])
		if expr == "" {
			return "", schema.NewError(schema.ErrCodeValidation, "empty variable reference: ${{ }}")
		}
		if strings.Contains(expr, "${{") {
			return "", schema.NewError(schema.ErrCodeValidation,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}

		isSecret := strings.HasPrefix(expr, "secrets.")
		if secretPass != isSecret {
			// Not this pass's concern; write the token back unchanged.
			result.WriteString(input[i+idx : end+2])
			i = end + 2
			continue
		}

		val, err := interp.resolveExpr(ctx, expr, scope)
		if err != nil {
			return "", err
		}
		result.WriteString(marshalInline(val))
		i = end + 2
	}

	return result.String(), nil
}

func (interp *Interpolator) resolveExpr(ctx context.Context, expr string, scope *Scope) (any, error) {
	namespace, _, _ := strings.Cut(expr, ".")
	switch namespace {
	case "steps":
		return interp.resolveStep(expr, scope)
	case "workflow":
		return interp.resolveWorkflow(expr, scope)
	case "secrets":
		return interp.resolveSecret(ctx, expr)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown namespace %q in ${{%s}}; available: steps, workflow, secrets", namespace, expr).
			WithDetails(map[string]any{"expression": expr})
	}
}

// resolveStep resolves steps.<id>.result[.<path>] references.
func (interp *Interpolator) resolveStep(expr string, scope *Scope) (any, error) {
	parts := strings.SplitN(expr, ".", 4) // [steps, id, result, rest]
	if len(parts) < 3 || parts[2] != "result" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid step reference %q: expected steps.<id>.result[.<path>]", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	stepID := parts[1]
	result, ok := scope.Steps[stepID]
	if !ok {
		available := sortedKeys(scope.Steps)
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"step %q not completed in ${{%s}}; completed steps: [%s]",
			stepID, expr, strings.Join(available, ", ")).
			WithDetails(map[string]any{"expression": expr, "completed_steps": available})
	}

	if len(parts) == 3 {
		return result, nil
	}
	val, ok := LookupPath(result, parts[3])
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"path %q not found in result of step %q", parts[3], stepID).
			WithDetails(map[string]any{"expression": expr})
	}
	return val, nil
}

func (interp *Interpolator) resolveWorkflow(expr string, scope *Scope) (any, error) {
	_, field, ok := strings.Cut(expr, ".")
	if !ok || field == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid workflow reference %q: expected workflow.<field>", expr)
	}
	val, found := LookupPath(scope.Workflow, field)
	if !found {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"workflow field %q not found in ${{%s}}", field, expr)
	}
	return val, nil
}

func (interp *Interpolator) resolveSecret(ctx context.Context, expr string) (any, error) {
	_, key, ok := strings.Cut(expr, ".")
	if !ok || key == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid secret reference %q: expected secrets.<KEY>", expr)
	}
	if interp.secrets == nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"cannot resolve secret %q: no vault configured", key)
	}
	val, err := interp.secrets.Resolve(ctx, key)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"failed to resolve secret %q: %s", key, err.Error()).WithCause(err)
	}
	return string(val), nil
}

// marshalInline embeds a resolved value into the surrounding JSON text.
// Strings go in bare so references inside JSON string values stay strings.
func marshalInline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func sortedKeys(m map[string]any) []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
