package graph

// Labels this system reads and writes on managed issues.
const (
	LabelReady      = "agent-ready"
	LabelInProgress = "in-progress"
)

// Lifecycle is the derived state of a managed task. It is computed from
// tracker facts on every cycle, never stored.
type Lifecycle string

const (
	OnHold     Lifecycle = "on-hold"
	Ready      Lifecycle = "ready"
	InProgress Lifecycle = "in-progress"
	Completed  Lifecycle = "completed"
)

// Task is one tracker issue under agent management.
type Task struct {
	ID        int
	Title     string
	Closed    bool // authoritative tracker state
	Labels    []string
	DependsOn []int // deduplicated, sorted
}

// HasLabel reports whether the task carries the given label.
func (t *Task) HasLabel(name string) bool {
	for _, l := range t.Labels {
		if l == name {
			return true
		}
	}
	return false
}

// Lifecycle classifies the task. Precedence is
// Completed > InProgress > Ready > OnHold: a closed issue is Completed no
// matter what its labels claim, and conflicting labels resolve by
// precedence rather than by error.
func (t *Task) Lifecycle() Lifecycle {
	switch {
	case t.Closed:
		return Completed
	case t.HasLabel(LabelInProgress):
		return InProgress
	case t.HasLabel(LabelReady):
		return Ready
	default:
		return OnHold
	}
}

// Graph is the dependency graph over all managed tasks.
type Graph struct {
	Tasks      map[int]*Task
	Dependents map[int][]int // task -> tasks that declare it as a dependency
	Warnings   []string      // header parse warnings, surfaced in reports
	Ignored    int           // issues seen without an agent header
}
