// Package reporter renders the structured report that ends every
// reconciliation cycle, for terminals and as JSON for archiving.
package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/SapphireBeehive/taskgate/internal/graph"
	"github.com/SapphireBeehive/taskgate/internal/planner"
	"github.com/SapphireBeehive/taskgate/internal/ui"
)

// PRLine is one pull request entry in a report category.
type PRLine struct {
	PR     int    `json:"pr"`
	Branch string `json:"branch"`
	Note   string `json:"note,omitempty"`
	Checks string `json:"checks,omitempty"`
}

// TaskLine is one task entry in a report category.
type TaskLine struct {
	Task  int    `json:"task"`
	Title string `json:"title"`
}

// BlockedLine is one blocked task with the reasons holding it.
type BlockedLine struct {
	Task    int      `json:"task"`
	Title   string   `json:"title"`
	Waiting []string `json:"waiting"` // e.g. "#113 (unlocks 2)", "#9999 (unknown)"
}

// FollowUpLine records a review-debt issue filed this cycle.
type FollowUpLine struct {
	Issue int `json:"issue"` // 0 if creation failed
	PR    int `json:"pr"`
}

// Report is one cycle's complete outcome.
type Report struct {
	Cycle int       `json:"cycle"`
	When  time.Time `json:"when"`

	Merged        []PRLine `json:"merged,omitempty"`
	MergeFailed   []PRLine `json:"merge_failed,omitempty"`
	PendingChecks []PRLine `json:"pending_checks,omitempty"`
	FailedChecks  []PRLine `json:"failed_checks,omitempty"`
	NonAgentPRs   []PRLine `json:"non_agent_prs,omitempty"`

	Completed  []TaskLine `json:"completed,omitempty"`
	InProgress []TaskLine `json:"in_progress,omitempty"`
	Ready      []TaskLine `json:"ready,omitempty"`
	Released   []TaskLine `json:"released,omitempty"`

	Blocked   []BlockedLine  `json:"blocked,omitempty"`
	FollowUps []FollowUpLine `json:"follow_ups,omitempty"`

	IgnoredNonAgent int      `json:"ignored_non_agent"`
	Anomalies       []string `json:"anomalies,omitempty"`
	Errors          []string `json:"errors,omitempty"`
}

// New builds a report skeleton from the graph and the planned actions.
// Apply outcomes (merged, merge failures, follow-up issue numbers, errors)
// are recorded by the loop driver as it goes.
func New(cycle int, g *graph.Graph, acts *planner.Actions) *Report {
	r := &Report{
		Cycle:           cycle,
		When:            time.Now(),
		PendingChecks:   prLines(acts.PendingPRs),
		FailedChecks:    prLines(acts.FailingPRs),
		NonAgentPRs:     prLines(acts.NonAgentPRs),
		IgnoredNonAgent: g.Ignored,
		Anomalies:       append([]string{}, acts.Anomalies...),
	}
	for _, w := range g.Warnings {
		r.Anomalies = append(r.Anomalies, "header: "+w)
	}

	released := make(map[int]bool, len(acts.Released))
	for _, id := range acts.Released {
		released[id] = true
	}

	for _, id := range g.IDs() {
		t := g.Tasks[id]
		line := TaskLine{Task: id, Title: t.Title}
		switch {
		case released[id]:
			r.Released = append(r.Released, line)
		case t.Lifecycle() == graph.Completed:
			r.Completed = append(r.Completed, line)
		case t.Lifecycle() == graph.InProgress:
			r.InProgress = append(r.InProgress, line)
		case t.Lifecycle() == graph.Ready:
			r.Ready = append(r.Ready, line)
		}
	}

	for _, b := range acts.Blocked {
		r.Blocked = append(r.Blocked, blockedLine(g, b))
	}

	return r
}

func blockedLine(g *graph.Graph, b planner.BlockedTask) BlockedLine {
	title := ""
	if t, ok := g.Tasks[b.Task]; ok {
		title = t.Title
	}

	unknown := make(map[int]bool, len(b.Unknown))
	for _, id := range b.Unknown {
		unknown[id] = true
	}

	var waiting []string
	for _, dep := range b.Unsatisfied {
		switch {
		case b.Cyclic:
			waiting = append(waiting, fmt.Sprintf("#%d (cycle)", dep))
		case unknown[dep]:
			waiting = append(waiting, fmt.Sprintf("#%d (unknown)", dep))
		default:
			waiting = append(waiting, fmt.Sprintf("#%d (unlocks %d)", dep, g.UnlockCount(dep)))
		}
	}
	return BlockedLine{Task: b.Task, Title: title, Waiting: waiting}
}

func prLines(notes []planner.PRNote) []PRLine {
	lines := make([]PRLine, 0, len(notes))
	for _, n := range notes {
		lines = append(lines, PRLine{PR: n.PR, Branch: n.Branch, Note: n.Reason, Checks: n.Checks})
	}
	return lines
}

// AddMerged records a successfully applied merge.
func (r *Report) AddMerged(m planner.MergeAction) {
	r.Merged = append(r.Merged, PRLine{PR: m.PR, Branch: m.Branch})
}

// AddMergeFailure records a merge the tracker rejected. The cycle goes on.
func (r *Report) AddMergeFailure(m planner.MergeAction, err error) {
	r.MergeFailed = append(r.MergeFailed, PRLine{PR: m.PR, Branch: m.Branch, Note: err.Error()})
	r.Errors = append(r.Errors, fmt.Sprintf("merge #%d: %v", m.PR, err))
}

// AddFollowUp records a filed follow-up issue (issue 0 means creation failed).
func (r *Report) AddFollowUp(issue, pr int) {
	r.FollowUps = append(r.FollowUps, FollowUpLine{Issue: issue, PR: pr})
}

// AddError records any other action failure.
func (r *Report) AddError(err error) {
	r.Errors = append(r.Errors, err.Error())
}

// JSON returns the machine-readable report.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Print writes the terminal-friendly report.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "\n⛩  %s %s\n", ui.BoldCyan("Taskgate Cycle"), ui.Bold(fmt.Sprintf("#%d", r.Cycle)))
	fmt.Fprintf(w, "%s\n", ui.Cyan(strings.Repeat("═", 26)))

	r.printPRs(w, "Merged", ui.Green("✓"), r.Merged)
	r.printPRs(w, "Merge failed", ui.Red("✗"), r.MergeFailed)
	r.printPRs(w, "Checks pending", ui.Yellow("…"), r.PendingChecks)
	r.printPRs(w, "Checks failing", ui.Red("✗"), r.FailedChecks)
	r.printPRs(w, "Skipped (non-agent)", ui.Dim("‣"), r.NonAgentPRs)

	r.printTasks(w, "Released", ui.StateIcon("ready"), r.Released)
	r.printTasks(w, "Ready", ui.StateIcon("ready"), r.Ready)
	r.printTasks(w, "In progress", ui.StateIcon("in-progress"), r.InProgress)
	r.printTasks(w, "Completed", ui.StateIcon("completed"), r.Completed)

	if len(r.Blocked) > 0 {
		fmt.Fprintf(w, "  %s\n", ui.BoldWhite("Blocked"))
		for _, b := range r.Blocked {
			fmt.Fprintf(w, "    %s %s %-40s %s\n",
				ui.StateIcon("blocked"), ui.IssuePrefix(b.Task), truncate(b.Title, 40),
				ui.Dim("waiting on "+strings.Join(b.Waiting, ", ")))
		}
	}

	if len(r.FollowUps) > 0 {
		fmt.Fprintf(w, "  %s\n", ui.BoldWhite("Follow-ups filed"))
		for _, f := range r.FollowUps {
			if f.Issue > 0 {
				fmt.Fprintf(w, "    %s %s %s\n", ui.Yellow("+"), ui.IssuePrefix(f.Issue),
					ui.Dim(fmt.Sprintf("review feedback from PR #%d", f.PR)))
			} else {
				fmt.Fprintf(w, "    %s %s\n", ui.Red("✗"),
					ui.Dim(fmt.Sprintf("failed to file follow-up for PR #%d", f.PR)))
			}
		}
	}

	if len(r.Anomalies) > 0 {
		fmt.Fprintf(w, "  %s\n", ui.BoldYellow("Anomalies"))
		for _, a := range r.Anomalies {
			fmt.Fprintf(w, "    %s %s\n", ui.Yellow("⚠"), a)
		}
	}
	if len(r.Errors) > 0 {
		fmt.Fprintf(w, "  %s\n", ui.BoldRed("Errors"))
		for _, e := range r.Errors {
			fmt.Fprintf(w, "    %s %s\n", ui.Red("✗"), e)
		}
	}

	fmt.Fprintf(w, "%s\n", ui.Cyan(strings.Repeat("─", 26)))
	fmt.Fprintf(w, "Totals:  %s  %s  %s  %s\n",
		ui.Green(fmt.Sprintf("%d merged", len(r.Merged))),
		ui.BoldYellow(fmt.Sprintf("%d released", len(r.Released))),
		ui.Red(fmt.Sprintf("%d blocked", len(r.Blocked))),
		ui.Dim(fmt.Sprintf("%d non-agent issues ignored", r.IgnoredNonAgent)))
}

func (r *Report) printPRs(w io.Writer, heading, icon string, lines []PRLine) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s\n", ui.BoldWhite(heading))
	for _, l := range lines {
		note := ""
		switch {
		case l.Checks != "":
			note = "checks " + ui.ChecksLabel(l.Checks)
		case l.Note != "":
			note = ui.Dim("(" + l.Note + ")")
		}
		fmt.Fprintf(w, "    %s PR %s %s %s\n", icon, ui.BoldMagenta(fmt.Sprintf("#%d", l.PR)), ui.Dim(l.Branch), note)
	}
}

func (r *Report) printTasks(w io.Writer, heading, icon string, lines []TaskLine) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s\n", ui.BoldWhite(heading))
	for _, l := range lines {
		fmt.Fprintf(w, "    %s %s %s\n", icon, ui.IssuePrefix(l.Task), truncate(l.Title, 50))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
