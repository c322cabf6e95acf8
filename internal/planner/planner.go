// Package planner computes the actions for one reconciliation cycle. Plan
// is a pure function over the fetched tracker state: running it twice on the
// same inputs yields the same actions, and it mutates nothing, so callers
// apply the returned actions against the tracker.
package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/SapphireBeehive/taskgate/internal/gh"
	"github.com/SapphireBeehive/taskgate/internal/graph"
	"github.com/SapphireBeehive/taskgate/internal/header"
)

// Plan decides this cycle's actions, in strict order: first the merge pass
// over open PRs, then the release pass over on-hold tasks. The release pass
// sees merges notionally applied, so a PR closing issue A in this cycle
// unblocks a task depending on A in the same cycle.
func Plan(g *graph.Graph, prs []gh.PullRequest, cfg Config) *Actions {
	if len(cfg.BranchPrefixes) == 0 {
		cfg.BranchPrefixes = []string{"agent/", "bot/"}
	}
	if cfg.MergeStrategy == "" {
		cfg.MergeStrategy = "squash"
	}

	acts := &Actions{}

	// Merge pass. Sorted by PR number for deterministic output.
	sorted := append([]gh.PullRequest{}, prs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	closedByMerge := make(map[int]bool)
	for _, pr := range sorted {
		if !agentBranch(pr.Branch, cfg.BranchPrefixes) {
			acts.NonAgentPRs = append(acts.NonAgentPRs, PRNote{PR: pr.Number, Branch: pr.Branch, Reason: "branch outside managed prefixes"})
			continue
		}
		switch pr.Checks {
		case gh.ChecksPending:
			acts.PendingPRs = append(acts.PendingPRs, PRNote{PR: pr.Number, Branch: pr.Branch, Reason: "checks still running", Checks: string(pr.Checks)})
			continue
		case gh.ChecksFailing:
			acts.FailingPRs = append(acts.FailingPRs, PRNote{PR: pr.Number, Branch: pr.Branch, Reason: "checks failing", Checks: string(pr.Checks)})
			continue
		}

		linked := header.LinkedIssue(pr.Body)
		acts.Merges = append(acts.Merges, MergeAction{
			PR:         pr.Number,
			Branch:     pr.Branch,
			Strategy:   cfg.MergeStrategy,
			ClosesTask: linked,
		})
		if linked != 0 {
			closedByMerge[linked] = true
		}

		// Unresolved feedback defers into a follow-up task; the merge itself
		// still goes ahead.
		if pr.UnresolvedFeedback {
			acts.FollowUps = append(acts.FollowUps, followUp(pr))
		}
	}

	// Release pass, with merges applied to the in-memory view.
	cyclic := g.OnCycle()
	unknownDeps := g.UnknownDeps()
	if cycle := g.DetectCycle(); cycle != nil {
		acts.Anomalies = append(acts.Anomalies, fmt.Sprintf("dependency cycle: %s", joinIDs(cycle, " -> ")))
	}

	for _, id := range g.IDs() {
		t := g.Tasks[id]
		if lifecycleWith(t, closedByMerge) != graph.OnHold {
			continue
		}

		if cyclic[id] {
			acts.Blocked = append(acts.Blocked, BlockedTask{Task: id, Unsatisfied: t.DependsOn, Cyclic: true})
			continue
		}

		unknown := unknownDeps[id]
		isUnknown := make(map[int]bool, len(unknown))
		for _, dep := range unknown {
			isUnknown[dep] = true
		}

		var unsatisfied []int
		for _, dep := range t.DependsOn {
			if isUnknown[dep] {
				unsatisfied = append(unsatisfied, dep)
				continue
			}
			if lifecycleWith(g.Tasks[dep], closedByMerge) != graph.Completed {
				unsatisfied = append(unsatisfied, dep)
			}
		}

		if len(unknown) > 0 {
			acts.Anomalies = append(acts.Anomalies,
				fmt.Sprintf("#%d declares unknown dependencies: %s", id, joinIDs(unknown, ", ")))
		}

		if len(unsatisfied) == 0 {
			acts.Labels = append(acts.Labels, LabelAction{Task: id, Label: graph.LabelReady})
			acts.Released = append(acts.Released, id)
			continue
		}
		acts.Blocked = append(acts.Blocked, BlockedTask{Task: id, Unsatisfied: unsatisfied, Unknown: unknown})
	}

	return acts
}

// lifecycleWith classifies a task with this cycle's pending merges overlaid,
// without touching the task itself.
func lifecycleWith(t *graph.Task, closedByMerge map[int]bool) graph.Lifecycle {
	if closedByMerge[t.ID] {
		return graph.Completed
	}
	return t.Lifecycle()
}

func agentBranch(branch string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(branch, p) {
			return true
		}
	}
	return false
}

// followUp builds the issue tracking deferred review feedback for a PR. The
// new task carries an agent header with no dependencies, so it enters the
// normal release flow next cycle.
func followUp(pr gh.PullRequest) FollowUpAction {
	var b strings.Builder
	b.WriteString("```yaml\nagent_task: true\ndepends_on: []\n```\n\n")
	fmt.Fprintf(&b, "Unresolved review feedback on PR #%d (`%s`) was deferred to keep the merge moving.\n\n", pr.Number, pr.Branch)
	fmt.Fprintf(&b, "Revisit the review comments on #%d and address them here.\n", pr.Number)

	return FollowUpAction{
		PR:     pr.Number,
		Branch: pr.Branch,
		Title:  fmt.Sprintf("Follow-up: review feedback on PR #%d", pr.Number),
		Body:   b.String(),
	}
}

func joinIDs(ids []int, sep string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("#%d", id)
	}
	return strings.Join(parts, sep)
}
