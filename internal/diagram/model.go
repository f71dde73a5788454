package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindStep        NodeKind = "step"
	NodeKindConditional NodeKind = "conditional"
	NodeKindStart       NodeKind = "start"
	NodeKindEnd         NodeKind = "end"
)

// Model is the intermediate representation the renderer consumes.
type Model struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node represents a single step in the diagram.
type Node struct {
	ID    string
	Label string
	Kind  NodeKind

	// Compensation names the compensating tool when the step declares one.
	Compensation string

	// Status carries runtime state; nil when rendering a bare spec.
	Status *StatusOverlay
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status     string // from schema.StepStatus
	DurationMs int64
	Error      string
}

// Edge represents an ordering or dependency between two nodes. Label
// annotates conditional transitions.
type Edge struct {
	From  string
	To    string
	Label string
}
