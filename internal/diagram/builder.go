package diagram

import (
	"fmt"
	"time"

	"github.com/lotwise/driveline/pkg/schema"
)

// stepInfo is the pattern-independent view of one step.
type stepInfo struct {
	id           string
	tool         string
	condition    string
	dependsOn    []string
	compensation string
	status       *StatusOverlay
}

// Build constructs a Model from a runtime workflow, overlaying each step's
// status, duration and error.
func Build(wf *schema.Workflow) *Model {
	infos := make([]stepInfo, len(wf.Steps))
	for i, s := range wf.Steps {
		infos[i] = stepInfo{
			id:        s.ID,
			tool:      s.Tool,
			condition: s.Condition,
			dependsOn: s.DependsOn,
			status: &StatusOverlay{
				Status:     string(s.Status),
				DurationMs: durationMs(s.StartedAt, s.CompletedAt),
				Error:      s.Error,
			},
		}
		if s.Compensation != nil {
			infos[i].compensation = s.Compensation.Tool
		}
	}
	return build(wf.Name, wf.Pattern, infos)
}

// BuildSpec constructs a Model from a bare workflow spec, with no runtime
// overlays. Used to preview a definition before it runs.
func BuildSpec(spec *schema.WorkflowSpec) *Model {
	infos := make([]stepInfo, len(spec.Steps))
	for i, s := range spec.Steps {
		infos[i] = stepInfo{
			id:        s.ID,
			tool:      s.Tool,
			condition: s.Condition,
			dependsOn: s.DependsOn,
		}
		if s.Compensation != nil {
			infos[i].compensation = s.Compensation.Tool
		}
	}
	return build(spec.Name, spec.Pattern, infos)
}

func build(title string, pattern schema.WorkflowPattern, steps []stepInfo) *Model {
	model := &Model{Title: title}

	model.Nodes = append(model.Nodes, &Node{ID: "__start__", Label: "Start", Kind: NodeKindStart})

	index := make(map[string]bool, len(steps))
	for _, s := range steps {
		kind := NodeKindStep
		if s.condition != "" {
			kind = NodeKindConditional
		}
		model.Nodes = append(model.Nodes, &Node{
			ID:           s.id,
			Label:        nodeLabel(s),
			Kind:         kind,
			Compensation: s.compensation,
			Status:       s.status,
		})
		index[s.id] = true
	}

	model.Nodes = append(model.Nodes, &Node{ID: "__end__", Label: "End", Kind: NodeKindEnd})

	if pattern == schema.PatternParallel {
		model.Edges = parallelEdges(steps, index)
	} else {
		// SEQUENTIAL and CONDITIONAL both run in declaration order; a
		// conditional step's guard rides on its incoming edge.
		model.Edges = chainEdges(steps)
	}
	return model
}

// chainEdges links start -> s1 -> s2 -> ... -> end in declaration order.
func chainEdges(steps []stepInfo) []Edge {
	edges := make([]Edge, 0, len(steps)+1)
	prev := "__start__"
	for _, s := range steps {
		edges = append(edges, Edge{From: prev, To: s.id, Label: s.condition})
		prev = s.id
	}
	edges = append(edges, Edge{From: prev, To: "__end__"})
	return edges
}

// parallelEdges links start to every root, dependencies to their dependents,
// and every leaf (no dependents) to end.
func parallelEdges(steps []stepInfo, index map[string]bool) []Edge {
	if len(steps) == 0 {
		return []Edge{{From: "__start__", To: "__end__"}}
	}

	hasDependent := make(map[string]bool)
	for _, s := range steps {
		for _, dep := range s.dependsOn {
			if index[dep] {
				hasDependent[dep] = true
			}
		}
	}

	var edges []Edge
	for _, s := range steps {
		if len(s.dependsOn) == 0 {
			edges = append(edges, Edge{From: "__start__", To: s.id})
			continue
		}
		for _, dep := range s.dependsOn {
			if index[dep] {
				edges = append(edges, Edge{From: dep, To: s.id})
			}
		}
	}
	for _, s := range steps {
		if !hasDependent[s.id] {
			edges = append(edges, Edge{From: s.id, To: "__end__"})
		}
	}
	return edges
}

// nodeLabel creates a human-readable label for a node.
func nodeLabel(s stepInfo) string {
	if s.tool != "" {
		return fmt.Sprintf("%s\n(%s)", s.id, s.tool)
	}
	return s.id
}

func durationMs(start, end *time.Time) int64 {
	if start == nil || end == nil {
		return 0
	}
	return end.Sub(*start).Milliseconds()
}
