package planner

// Config holds release planning policy.
type Config struct {
	BranchPrefixes []string // branch prefixes that mark a PR as agent-owned
	MergeStrategy  string   // "squash", "merge" or "rebase"
}

// MergeAction merges one agent pull request.
type MergeAction struct {
	PR         int
	Branch     string
	Strategy   string
	ClosesTask int // 0 if the PR body links no task
}

// LabelAction adds a label to one issue.
type LabelAction struct {
	Task  int
	Label string
}

// FollowUpAction files a new issue tracking deferred review feedback.
// The merge it refers to proceeds anyway; feedback becomes tracked debt.
type FollowUpAction struct {
	PR     int
	Branch string
	Title  string
	Body   string
}

// PRNote records a pull request the planner looked at but did not merge.
type PRNote struct {
	PR     int
	Branch string
	Reason string
	Checks string // checks rollup status at planning time
}

// BlockedTask is an on-hold task that cannot be released this cycle.
type BlockedTask struct {
	Task        int
	Unsatisfied []int // dependency ids not yet completed (includes unknown)
	Unknown     []int // declared ids absent from the fetched task set
	Cyclic      bool  // task sits on or behind a dependency cycle
}

// Actions is everything one planning pass decided. Callers apply the
// mutations (merges before labels) and render the rest into the report.
type Actions struct {
	Merges    []MergeAction
	Labels    []LabelAction
	FollowUps []FollowUpAction
	Released  []int // tasks gaining the ready label this cycle

	PendingPRs  []PRNote // agent PRs with checks still running
	FailingPRs  []PRNote // agent PRs with failing checks
	NonAgentPRs []PRNote // PRs on branches outside the managed prefix set

	Blocked   []BlockedTask
	Anomalies []string
}
