// Package orchestrator drives the reconciliation loop: poll-gate check,
// fetch, plan, apply, report, on a timer. One cycle runs to completion
// before the next is scheduled; cancellation is honored between cycles.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/SapphireBeehive/taskgate/internal/gate"
	"github.com/SapphireBeehive/taskgate/internal/gh"
	"github.com/SapphireBeehive/taskgate/internal/graph"
	"github.com/SapphireBeehive/taskgate/internal/planner"
	"github.com/SapphireBeehive/taskgate/internal/reporter"
	"github.com/SapphireBeehive/taskgate/internal/state"
	"github.com/SapphireBeehive/taskgate/internal/ui"
)

// Tracker is the slice of the issue store this loop consumes. *gh.Client
// satisfies it; tests use a fake.
type Tracker interface {
	ListIssues(state string) ([]gh.Issue, error)
	ClosedIssueNumbers() ([]int, error)
	ListOpenPRs() ([]gh.PullRequest, error)
	MergePR(number int, strategy string) error
	AddLabel(number int, label string) error
	CreateIssue(title, body string, labels []string) (int, error)
	Comment(number int, text string) error
}

// Config holds loop configuration.
type Config struct {
	Interval       time.Duration
	BranchPrefixes []string
	MergeStrategy  string
	Quiet          bool
	Out            io.Writer // report destination (default: stderr)
}

// Orchestrator ties the poll gate, planner and tracker together.
type Orchestrator struct {
	Tracker Tracker
	State   *state.LoopState
	Gate    *gate.Gate
	Config  Config
}

// New creates an Orchestrator with defaults filled in.
func New(tracker Tracker, st *state.LoopState, cfg Config) *Orchestrator {
	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Out == nil {
		cfg.Out = os.Stderr
	}
	return &Orchestrator{
		Tracker: tracker,
		State:   st,
		Gate:    gate.New(st),
		Config:  cfg,
	}
}

// Run executes reconciliation cycles until the context is cancelled. An
// in-flight cycle always runs to its own error boundary; cycle errors are
// logged, never fatal to the loop.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.Config.Interval)
	defer ticker.Stop()

	for {
		if _, err := o.RunCycle(false); err != nil {
			fmt.Fprintf(o.Config.Out, "  %s cycle: %v\n", ui.Yellow("⚠️  Warning:"), err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle performs one reconciliation pass. With force, the poll gate is
// bypassed. Returns nil, nil for a gated-out idle cycle.
func (o *Orchestrator) RunCycle(force bool) (*reporter.Report, error) {
	// Cheap probes first; the PR list doubles as the full PR fetch.
	closed, err := o.Tracker.ClosedIssueNumbers()
	if err != nil {
		return nil, fmt.Errorf("list closed issues: %w", err)
	}
	prs, err := o.Tracker.ListOpenPRs()
	if err != nil {
		return nil, fmt.Errorf("list pull requests: %w", err)
	}

	proceed, err := o.Gate.ShouldReconcile(closed, o.countAgentPRs(prs))
	if err != nil {
		return nil, err
	}
	if !proceed && !force {
		if !o.Config.Quiet {
			fmt.Fprintf(o.Config.Out, "  %s nothing changed, skipping cycle\n", ui.Dim("·"))
		}
		return nil, nil
	}

	issues, err := o.Tracker.ListIssues("all")
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}

	g := graph.Build(issues)
	acts := planner.Plan(g, prs, planner.Config{
		BranchPrefixes: o.Config.BranchPrefixes,
		MergeStrategy:  o.Config.MergeStrategy,
	})

	cycle, err := o.State.BumpCycle()
	if err != nil {
		return nil, fmt.Errorf("bump cycle: %w", err)
	}
	rep := reporter.New(cycle, g, acts)

	o.apply(g, acts, rep)

	if data, err := rep.JSON(); err == nil {
		if err := o.State.ArchiveReport(cycle, data); err != nil {
			rep.AddError(fmt.Errorf("archive report: %w", err))
		}
	}

	if !o.Config.Quiet {
		rep.Print(o.Config.Out)
	}
	return rep, nil
}

// apply issues the planned mutations: merges before labels, so same-cycle
// unblocking holds on the tracker side too. One failed action is recorded
// and the rest still run, except labels whose justifying merge failed:
// releasing a task while its blocker is still open would break the release
// contract on the tracker.
func (o *Orchestrator) apply(g *graph.Graph, acts *planner.Actions, rep *reporter.Report) {
	failedCloses := make(map[int]bool)
	for _, m := range acts.Merges {
		if err := o.Tracker.MergePR(m.PR, m.Strategy); err != nil {
			rep.AddMergeFailure(m, err)
			if m.ClosesTask != 0 {
				failedCloses[m.ClosesTask] = true
			}
			continue
		}
		rep.AddMerged(m)
	}

	for _, f := range acts.FollowUps {
		n, err := o.Tracker.CreateIssue(f.Title, f.Body, nil)
		if err != nil {
			rep.AddFollowUp(0, f.PR)
			rep.AddError(fmt.Errorf("create follow-up for PR #%d: %w", f.PR, err))
			continue
		}
		rep.AddFollowUp(n, f.PR)
	}

	for _, l := range acts.Labels {
		if dep := openBlocker(g, l.Task, failedCloses); dep != 0 {
			rep.AddError(fmt.Errorf("release #%d skipped: merge closing #%d failed", l.Task, dep))
			continue
		}
		if err := o.Tracker.AddLabel(l.Task, l.Label); err != nil {
			rep.AddError(fmt.Errorf("label #%d %s: %w", l.Task, l.Label, err))
			continue
		}
		if err := o.Tracker.Comment(l.Task, "All dependencies completed. Released for agent pickup."); err != nil {
			rep.AddError(fmt.Errorf("comment #%d: %w", l.Task, err))
		}
	}
}

// openBlocker returns a dependency of task that a failed merge was supposed
// to close and that is still not completed, or 0 if the release stands.
func openBlocker(g *graph.Graph, task int, failedCloses map[int]bool) int {
	t, ok := g.Tasks[task]
	if !ok {
		return 0
	}
	for _, dep := range t.DependsOn {
		if !failedCloses[dep] {
			continue
		}
		if dt, ok := g.Tasks[dep]; ok && dt.Lifecycle() == graph.Completed {
			continue
		}
		return dep
	}
	return 0
}

func (o *Orchestrator) countAgentPRs(prs []gh.PullRequest) int {
	prefixes := o.Config.BranchPrefixes
	if len(prefixes) == 0 {
		prefixes = []string{"agent/", "bot/"}
	}
	count := 0
	for _, pr := range prs {
		for _, p := range prefixes {
			if strings.HasPrefix(pr.Branch, p) {
				count++
				break
			}
		}
	}
	return count
}
