package planner

import (
	"reflect"
	"strings"
	"testing"

	"github.com/SapphireBeehive/taskgate/internal/gh"
	"github.com/SapphireBeehive/taskgate/internal/graph"
)

func managed(deps string) string {
	if deps == "" {
		return "```yaml\nagent_task: true\n```\nbody"
	}
	return "```yaml\nagent_task: true\ndepends_on: [" + deps + "]\n```\nbody"
}

func buildGraph(issues ...gh.Issue) *graph.Graph {
	return graph.Build(issues)
}

func TestPlan_ReleasesTaskWithCompletedDeps(t *testing.T) {
	g := buildGraph(
		gh.Issue{Number: 112, State: "CLOSED", Body: managed("")},
		gh.Issue{Number: 113, State: "OPEN", Body: managed(`"#112"`)},
	)

	acts := Plan(g, nil, Config{})
	if !reflect.DeepEqual(acts.Released, []int{113}) {
		t.Fatalf("expected [113] released, got %v", acts.Released)
	}
	if len(acts.Labels) != 1 || acts.Labels[0] != (LabelAction{Task: 113, Label: graph.LabelReady}) {
		t.Errorf("expected agent-ready label for 113, got %v", acts.Labels)
	}
}

func TestPlan_HoldsTaskWithOpenDep(t *testing.T) {
	g := buildGraph(
		gh.Issue{Number: 1, State: "CLOSED", Body: managed("")},
		gh.Issue{Number: 2, State: "OPEN", Body: managed("")},
		gh.Issue{Number: 3, State: "OPEN", Body: managed(`"#1", "#2"`)},
	)

	acts := Plan(g, nil, Config{})
	if len(acts.Released) != 1 || acts.Released[0] != 2 {
		t.Errorf("only the dependency-free task should release, got %v", acts.Released)
	}
	var blocked *BlockedTask
	for i := range acts.Blocked {
		if acts.Blocked[i].Task == 3 {
			blocked = &acts.Blocked[i]
		}
	}
	if blocked == nil {
		t.Fatal("expected task 3 in the blocked report")
	}
	if !reflect.DeepEqual(blocked.Unsatisfied, []int{2}) {
		t.Errorf("expected blocked on [2], got %v", blocked.Unsatisfied)
	}
}

func TestPlan_MergeUnblocksSameCycle(t *testing.T) {
	g := buildGraph(
		gh.Issue{Number: 112, State: "OPEN", Body: managed(""), Labels: []gh.Label{{Name: graph.LabelInProgress}}},
		gh.Issue{Number: 113, State: "OPEN", Body: managed(`"#112"`)},
	)
	prs := []gh.PullRequest{
		{Number: 40, Branch: "agent/112-tilemap", Body: "Closes #112", Checks: gh.ChecksPassing},
	}

	acts := Plan(g, prs, Config{})
	if len(acts.Merges) != 1 || acts.Merges[0].ClosesTask != 112 {
		t.Fatalf("expected merge closing 112, got %v", acts.Merges)
	}
	if !reflect.DeepEqual(acts.Released, []int{113}) {
		t.Errorf("merge of 112 must release 113 in the same pass, got %v", acts.Released)
	}
}

func TestPlan_MergedTaskNotReleased(t *testing.T) {
	// The merge closes 112 itself; 112 must not also gain agent-ready.
	g := buildGraph(
		gh.Issue{Number: 112, State: "OPEN", Body: managed("")},
	)
	prs := []gh.PullRequest{
		{Number: 41, Branch: "agent/112", Body: "Fixes #112", Checks: gh.ChecksNone},
	}

	acts := Plan(g, prs, Config{})
	if len(acts.Released) != 0 {
		t.Errorf("task closed by this cycle's merge must not be released, got %v", acts.Released)
	}
}

func TestPlan_UnknownDependencyNeverReleases(t *testing.T) {
	g := buildGraph(
		gh.Issue{Number: 10, State: "OPEN", Body: managed(`"#9999"`)},
	)

	acts := Plan(g, nil, Config{})
	if len(acts.Released) != 0 {
		t.Fatalf("unknown dep must not release, got %v", acts.Released)
	}
	if len(acts.Blocked) != 1 || !reflect.DeepEqual(acts.Blocked[0].Unknown, []int{9999}) {
		t.Errorf("expected blocked with unknown [9999], got %v", acts.Blocked)
	}
	if len(acts.Anomalies) == 0 {
		t.Error("unknown dependency must surface as an anomaly")
	}
}

func TestPlan_CyclicTasksNeverRelease(t *testing.T) {
	g := buildGraph(
		gh.Issue{Number: 1, State: "OPEN", Body: managed(`"#2"`)},
		gh.Issue{Number: 2, State: "OPEN", Body: managed(`"#1"`)},
		gh.Issue{Number: 3, State: "OPEN", Body: managed("")},
	)

	acts := Plan(g, nil, Config{})
	if !reflect.DeepEqual(acts.Released, []int{3}) {
		t.Errorf("only the task outside the cycle should release, got %v", acts.Released)
	}
	cyclicBlocked := 0
	for _, b := range acts.Blocked {
		if b.Cyclic {
			cyclicBlocked++
		}
	}
	if cyclicBlocked != 2 {
		t.Errorf("expected 2 cyclic blocked tasks, got %d", cyclicBlocked)
	}
	if len(acts.Anomalies) == 0 {
		t.Error("cycle must surface as an anomaly")
	}
}

func TestPlan_ChecksGateMerges(t *testing.T) {
	prs := []gh.PullRequest{
		{Number: 1, Branch: "agent/a", Checks: gh.ChecksPassing},
		{Number: 2, Branch: "agent/b", Checks: gh.ChecksPending},
		{Number: 3, Branch: "agent/c", Checks: gh.ChecksFailing},
		{Number: 4, Branch: "agent/d", Checks: gh.ChecksNone},
		{Number: 5, Branch: "feature/x", Checks: gh.ChecksPassing},
	}

	acts := Plan(buildGraph(), prs, Config{})
	if len(acts.Merges) != 2 || acts.Merges[0].PR != 1 || acts.Merges[1].PR != 4 {
		t.Errorf("expected merges for PRs 1 and 4, got %v", acts.Merges)
	}
	if len(acts.PendingPRs) != 1 || acts.PendingPRs[0].PR != 2 {
		t.Errorf("expected PR 2 pending, got %v", acts.PendingPRs)
	}
	if len(acts.FailingPRs) != 1 || acts.FailingPRs[0].PR != 3 {
		t.Errorf("expected PR 3 failing, got %v", acts.FailingPRs)
	}
	if len(acts.NonAgentPRs) != 1 || acts.NonAgentPRs[0].PR != 5 {
		t.Errorf("expected PR 5 ignored, got %v", acts.NonAgentPRs)
	}
}

func TestPlan_FeedbackMergesAnywayWithFollowUp(t *testing.T) {
	prs := []gh.PullRequest{
		{Number: 8, Branch: "bot/refactor", Body: "Closes #20", Checks: gh.ChecksPassing, UnresolvedFeedback: true},
	}
	g := buildGraph(gh.Issue{Number: 20, State: "OPEN", Body: managed("")})

	acts := Plan(g, prs, Config{})
	if len(acts.Merges) != 1 {
		t.Fatalf("feedback must not block the merge, got %v", acts.Merges)
	}
	if len(acts.FollowUps) != 1 {
		t.Fatalf("expected a follow-up task, got %v", acts.FollowUps)
	}
	fu := acts.FollowUps[0]
	if fu.PR != 8 {
		t.Errorf("follow-up should reference PR 8, got %d", fu.PR)
	}
	if !containsAll(fu.Body, "agent_task: true", "depends_on: []", "#8") {
		t.Errorf("follow-up body should be a dependency-free agent task referencing the PR:\n%s", fu.Body)
	}
}

func TestPlan_Idempotent(t *testing.T) {
	g1 := buildGraph(
		gh.Issue{Number: 1, State: "CLOSED", Body: managed("")},
		gh.Issue{Number: 2, State: "OPEN", Body: managed(`"#1"`)},
		gh.Issue{Number: 3, State: "OPEN", Body: managed(`"#2"`)},
	)
	g2 := buildGraph(
		gh.Issue{Number: 1, State: "CLOSED", Body: managed("")},
		gh.Issue{Number: 2, State: "OPEN", Body: managed(`"#1"`)},
		gh.Issue{Number: 3, State: "OPEN", Body: managed(`"#2"`)},
	)
	prs := []gh.PullRequest{
		{Number: 9, Branch: "agent/9", Checks: gh.ChecksPassing},
	}

	a := Plan(g1, prs, Config{})
	b := Plan(g2, prs, Config{})
	if !reflect.DeepEqual(a, b) {
		t.Errorf("plan is not deterministic:\nfirst:  %+v\nsecond: %+v", a, b)
	}
}

func TestPlan_DefaultConfig(t *testing.T) {
	prs := []gh.PullRequest{
		{Number: 1, Branch: "agent/x", Checks: gh.ChecksPassing},
	}
	acts := Plan(buildGraph(), prs, Config{})
	if len(acts.Merges) != 1 || acts.Merges[0].Strategy != "squash" {
		t.Errorf("expected default squash strategy, got %v", acts.Merges)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
