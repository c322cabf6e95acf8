package orchestrator

import (
	"fmt"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/SapphireBeehive/taskgate/internal/gh"
	"github.com/SapphireBeehive/taskgate/internal/header"
	"github.com/SapphireBeehive/taskgate/internal/state"
)

// fakeTracker is an in-memory issue store. MergePR closes the linked issue
// and drops the PR, the way the real tracker behaves.
type fakeTracker struct {
	issues    map[int]*gh.Issue
	prs       []gh.PullRequest
	merged    []int
	comments  map[int][]string
	created   []string
	nextIssue int
	mergeErr  map[int]error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		issues:    make(map[int]*gh.Issue),
		comments:  make(map[int][]string),
		mergeErr:  make(map[int]error),
		nextIssue: 1000,
	}
}

func (f *fakeTracker) addIssue(number int, deps string) {
	body := "```yaml\nagent_task: true\n```\nbody"
	if deps != "" {
		body = "```yaml\nagent_task: true\ndepends_on: [" + deps + "]\n```\nbody"
	}
	f.issues[number] = &gh.Issue{Number: number, Title: fmt.Sprintf("Task %d", number), State: "OPEN", Body: body}
}

func (f *fakeTracker) ListIssues(string) ([]gh.Issue, error) {
	var ids []int
	for id := range f.issues {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]gh.Issue, 0, len(ids))
	for _, id := range ids {
		out = append(out, *f.issues[id])
	}
	return out, nil
}

func (f *fakeTracker) ClosedIssueNumbers() ([]int, error) {
	var ids []int
	for id, issue := range f.issues {
		if issue.Closed() {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (f *fakeTracker) ListOpenPRs() ([]gh.PullRequest, error) {
	return append([]gh.PullRequest{}, f.prs...), nil
}

func (f *fakeTracker) MergePR(number int, strategy string) error {
	if err := f.mergeErr[number]; err != nil {
		return err
	}
	for i, pr := range f.prs {
		if pr.Number != number {
			continue
		}
		if linked := header.LinkedIssue(pr.Body); linked != 0 {
			if issue, ok := f.issues[linked]; ok {
				issue.State = "CLOSED"
			}
		}
		f.prs = append(f.prs[:i], f.prs[i+1:]...)
		f.merged = append(f.merged, number)
		return nil
	}
	return fmt.Errorf("no such PR %d", number)
}

func (f *fakeTracker) AddLabel(number int, label string) error {
	issue, ok := f.issues[number]
	if !ok {
		return fmt.Errorf("no such issue %d", number)
	}
	issue.Labels = append(issue.Labels, gh.Label{Name: label})
	return nil
}

func (f *fakeTracker) CreateIssue(title, body string, labels []string) (int, error) {
	f.nextIssue++
	f.created = append(f.created, title)
	f.issues[f.nextIssue] = &gh.Issue{Number: f.nextIssue, Title: title, State: "OPEN", Body: body}
	return f.nextIssue, nil
}

func (f *fakeTracker) Comment(number int, text string) error {
	f.comments[number] = append(f.comments[number], text)
	return nil
}

func (f *fakeTracker) hasLabel(number int, label string) bool {
	issue, ok := f.issues[number]
	if !ok {
		return false
	}
	for _, l := range issue.Labels {
		if l.Name == label {
			return true
		}
	}
	return false
}

func newTestOrchestrator(t *testing.T, tracker Tracker) *Orchestrator {
	t.Helper()
	st, err := state.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	return New(tracker, st, Config{Quiet: true, Out: io.Discard})
}

func TestNew_Defaults(t *testing.T) {
	o := New(nil, nil, Config{})
	if o.Config.Interval != time.Minute {
		t.Errorf("expected default interval 1m, got %v", o.Config.Interval)
	}
	if o.Config.Out == nil {
		t.Error("expected default output writer")
	}
}

func TestRunCycle_GateSuppressesIdleCycle(t *testing.T) {
	tracker := newFakeTracker()
	tracker.addIssue(1, "")
	o := newTestOrchestrator(t, tracker)

	rep, err := o.RunCycle(false)
	if err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	if rep == nil {
		t.Fatal("first cycle must reconcile (hash changed from empty)")
	}

	rep, err = o.RunCycle(false)
	if err != nil {
		t.Fatalf("cycle 2: %v", err)
	}
	if rep != nil {
		t.Error("unchanged tracker with no agent PRs must be gated out")
	}
}

func TestRunCycle_ForceBypassesGate(t *testing.T) {
	tracker := newFakeTracker()
	o := newTestOrchestrator(t, tracker)

	o.RunCycle(false)
	rep, err := o.RunCycle(true)
	if err != nil {
		t.Fatalf("forced cycle: %v", err)
	}
	if rep == nil {
		t.Error("forced cycle must not be gated out")
	}
}

func TestRunCycle_DependencyChain(t *testing.T) {
	tracker := newFakeTracker()
	tracker.addIssue(112, "")
	tracker.addIssue(113, `"#112"`)
	tracker.addIssue(114, `"#113"`)
	o := newTestOrchestrator(t, tracker)

	// Cycle 1: only #112 is dependency-free.
	rep, err := o.RunCycle(true)
	if err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	if !tracker.hasLabel(112, "agent-ready") {
		t.Error("cycle 1: #112 should be released")
	}
	if tracker.hasLabel(113, "agent-ready") || tracker.hasLabel(114, "agent-ready") {
		t.Error("cycle 1: #113/#114 must not release before their dependencies close")
	}
	if len(rep.Released) != 1 {
		t.Errorf("cycle 1: expected 1 release, got %v", rep.Released)
	}

	// Worker finishes #112 via an agent PR.
	tracker.prs = append(tracker.prs, gh.PullRequest{
		Number: 40, Branch: "agent/112-task", Body: "Closes #112", Checks: gh.ChecksPassing,
	})

	// Cycle 2: merge #112's PR and release #113 in the same pass.
	rep, err = o.RunCycle(false)
	if err != nil {
		t.Fatalf("cycle 2: %v", err)
	}
	if rep == nil {
		t.Fatal("cycle 2: agent PR must open the gate")
	}
	if len(tracker.merged) != 1 || tracker.merged[0] != 40 {
		t.Fatalf("cycle 2: expected PR 40 merged, got %v", tracker.merged)
	}
	if !tracker.issues[112].Closed() {
		t.Error("cycle 2: merging PR 40 should close #112")
	}
	if !tracker.hasLabel(113, "agent-ready") {
		t.Error("cycle 2: #113 should be released in the same pass as the merge")
	}
	if tracker.hasLabel(114, "agent-ready") {
		t.Error("cycle 2: #114 must stay on hold")
	}

	// Worker finishes #113.
	tracker.prs = append(tracker.prs, gh.PullRequest{
		Number: 41, Branch: "agent/113-task", Body: "Fixes #113", Checks: gh.ChecksNone,
	})

	// Cycle 3: #114 released.
	if _, err := o.RunCycle(false); err != nil {
		t.Fatalf("cycle 3: %v", err)
	}
	if !tracker.hasLabel(114, "agent-ready") {
		t.Error("cycle 3: #114 should be released after #113 closes")
	}
}

func TestRunCycle_ReleaseComments(t *testing.T) {
	tracker := newFakeTracker()
	tracker.addIssue(5, "")
	o := newTestOrchestrator(t, tracker)

	if _, err := o.RunCycle(true); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(tracker.comments[5]) != 1 {
		t.Errorf("expected a release comment on #5, got %v", tracker.comments[5])
	}
}

func TestRunCycle_MergeFailureIsIsolated(t *testing.T) {
	tracker := newFakeTracker()
	tracker.addIssue(1, "")
	tracker.addIssue(2, `"#1"`)
	tracker.prs = []gh.PullRequest{
		{Number: 10, Branch: "agent/1", Body: "Closes #1", Checks: gh.ChecksPassing},
		{Number: 11, Branch: "agent/other", Checks: gh.ChecksPassing},
	}
	tracker.mergeErr[10] = fmt.Errorf("merge conflict")
	o := newTestOrchestrator(t, tracker)

	rep, err := o.RunCycle(true)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(rep.MergeFailed) != 1 || rep.MergeFailed[0].PR != 10 {
		t.Errorf("expected PR 10 merge failure, got %v", rep.MergeFailed)
	}
	if len(tracker.merged) != 1 || tracker.merged[0] != 11 {
		t.Errorf("PR 11 should still merge after PR 10 fails, got %v", tracker.merged)
	}
	if len(rep.Errors) == 0 {
		t.Error("expected the merge failure recorded in report errors")
	}
}

func TestRunCycle_FailedMergeWithholdsRelease(t *testing.T) {
	tracker := newFakeTracker()
	tracker.addIssue(1, "")
	tracker.addIssue(2, `"#1"`)
	tracker.prs = []gh.PullRequest{
		{Number: 10, Branch: "agent/1", Body: "Closes #1", Checks: gh.ChecksPassing},
	}
	tracker.mergeErr[10] = fmt.Errorf("merge conflict")
	o := newTestOrchestrator(t, tracker)

	if _, err := o.RunCycle(true); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	// #2's release was justified by the merge closing #1; the merge failed,
	// so #2 must stay unlabeled while #1's own release stands.
	if tracker.hasLabel(2, "agent-ready") {
		t.Error("#2 must not release while #1 is still open")
	}
	if !tracker.hasLabel(1, "agent-ready") {
		t.Error("#1 has no dependencies and should still release")
	}
	if len(tracker.comments[2]) != 0 {
		t.Errorf("no release comment expected on #2, got %v", tracker.comments[2])
	}
}

func TestRunCycle_FollowUpCreated(t *testing.T) {
	tracker := newFakeTracker()
	tracker.prs = []gh.PullRequest{
		{Number: 9, Branch: "agent/9", Checks: gh.ChecksPassing, UnresolvedFeedback: true},
	}
	o := newTestOrchestrator(t, tracker)

	rep, err := o.RunCycle(true)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(rep.FollowUps) != 1 || rep.FollowUps[0].Issue == 0 {
		t.Fatalf("expected follow-up issue filed, got %v", rep.FollowUps)
	}
	if len(tracker.created) != 1 {
		t.Errorf("expected 1 created issue, got %v", tracker.created)
	}
	if len(tracker.merged) != 1 {
		t.Error("feedback must not block the merge itself")
	}
}

func TestRunCycle_ArchivesReport(t *testing.T) {
	tracker := newFakeTracker()
	tracker.addIssue(1, "")
	o := newTestOrchestrator(t, tracker)

	if _, err := o.RunCycle(true); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	names, err := o.State.ListReports()
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if len(names) != 1 {
		t.Errorf("expected 1 archived report, got %v", names)
	}
}
