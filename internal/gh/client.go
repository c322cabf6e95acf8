package gh

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ChecksStatus summarizes the CI state of a pull request.
type ChecksStatus string

const (
	ChecksPassing  ChecksStatus = "passing"
	ChecksPending  ChecksStatus = "pending"
	ChecksFailing  ChecksStatus = "failing"
	ChecksNone     ChecksStatus = "none" // no checks required
)

// Client wraps the gh CLI binary for issue and pull request operations.
type Client struct {
	GhBin string // path to gh binary (default: "gh")
	Repo  string // owner/name passed via -R (optional, defaults to cwd repo)
}

// NewClient creates a Client using the given gh binary path and repository.
func NewClient(ghBin, repo string) *Client {
	if ghBin == "" {
		ghBin = "gh"
	}
	return &Client{GhBin: ghBin, Repo: repo}
}

func (c *Client) baseArgs() []string {
	if c.Repo != "" {
		return []string{"-R", c.Repo}
	}
	return nil
}

func (c *Client) run(args ...string) ([]byte, error) {
	all := append(append([]string{}, args...), c.baseArgs()...)
	cmd := exec.Command(c.GhBin, all...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("gh %s: %w\n%s", strings.Join(args, " "), err, string(out))
	}
	return out, nil
}

// Label is the gh JSON shape for an issue label.
type Label struct {
	Name string `json:"name"`
}

// Issue is the JSON structure returned by gh issue list/view.
type Issue struct {
	Number int     `json:"number"`
	Title  string  `json:"title"`
	State  string  `json:"state"` // OPEN / CLOSED
	Body   string  `json:"body"`
	Labels []Label `json:"labels"`
}

// Closed reports whether the tracker considers the issue closed.
func (i *Issue) Closed() bool {
	return strings.EqualFold(i.State, "closed")
}

// LabelNames returns the plain label strings.
func (i *Issue) LabelNames() []string {
	names := make([]string, 0, len(i.Labels))
	for _, l := range i.Labels {
		names = append(names, l.Name)
	}
	return names
}

const issueFields = "number,title,state,body,labels"

// ListIssues returns issues in the given state ("open", "closed" or "all").
func (c *Client) ListIssues(state string) ([]Issue, error) {
	out, err := c.run("issue", "list", "--state", state, "--json", issueFields, "--limit", "1000")
	if err != nil {
		return nil, err
	}
	var issues []Issue
	if err := json.Unmarshal(out, &issues); err != nil {
		return nil, fmt.Errorf("parse gh issue list output: %w", err)
	}
	return issues, nil
}

// GetIssue returns full details for a single issue.
func (c *Client) GetIssue(number int) (*Issue, error) {
	out, err := c.run("issue", "view", strconv.Itoa(number), "--json", issueFields)
	if err != nil {
		return nil, err
	}
	var issue Issue
	if err := json.Unmarshal(out, &issue); err != nil {
		return nil, fmt.Errorf("parse gh issue view output: %w", err)
	}
	return &issue, nil
}

// ClosedIssueNumbers is the cheap poll-gate probe: numbers of all closed issues.
func (c *Client) ClosedIssueNumbers() ([]int, error) {
	out, err := c.run("issue", "list", "--state", "closed", "--json", "number", "--limit", "1000")
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Number int `json:"number"`
	}
	if err := json.Unmarshal(out, &rows); err != nil {
		return nil, fmt.Errorf("parse gh issue list output: %w", err)
	}
	nums := make([]int, 0, len(rows))
	for _, r := range rows {
		nums = append(nums, r.Number)
	}
	return nums, nil
}

// PullRequest is the normalized view of an open PR.
type PullRequest struct {
	Number             int
	Title              string
	Branch             string
	Body               string
	Checks             ChecksStatus
	UnresolvedFeedback bool
}

// ListOpenPRs returns all open pull requests with their checks status derived
// from statusCheckRollup and review feedback from reviewDecision.
func (c *Client) ListOpenPRs() ([]PullRequest, error) {
	out, err := c.run("pr", "list", "--state", "open",
		"--json", "number,title,headRefName,body,statusCheckRollup,reviewDecision",
		"--limit", "1000")
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(out) {
		return nil, fmt.Errorf("parse gh pr list output: invalid JSON")
	}

	var prs []PullRequest
	gjson.ParseBytes(out).ForEach(func(_, pr gjson.Result) bool {
		prs = append(prs, PullRequest{
			Number:             int(pr.Get("number").Int()),
			Title:              pr.Get("title").String(),
			Branch:             pr.Get("headRefName").String(),
			Body:               pr.Get("body").String(),
			Checks:             rollupStatus(pr.Get("statusCheckRollup")),
			UnresolvedFeedback: pr.Get("reviewDecision").String() == "CHANGES_REQUESTED",
		})
		return true
	})
	return prs, nil
}

// rollupStatus folds a statusCheckRollup array into a single ChecksStatus.
// The rollup mixes CheckRun entries (status/conclusion) and StatusContext
// entries (state); both shapes are handled.
func rollupStatus(rollup gjson.Result) ChecksStatus {
	if !rollup.IsArray() || len(rollup.Array()) == 0 {
		return ChecksNone
	}

	status := ChecksPassing
	rollup.ForEach(func(_, check gjson.Result) bool {
		verdict := check.Get("conclusion").String()
		if verdict == "" {
			verdict = check.Get("state").String()
		}
		switch verdict {
		case "FAILURE", "ERROR", "CANCELLED", "TIMED_OUT", "ACTION_REQUIRED":
			status = ChecksFailing
			return false
		case "SUCCESS", "NEUTRAL", "SKIPPED":
			// counts as passing
		default:
			// no conclusion yet (check run still queued or in progress)
			status = ChecksPending
		}
		return true
	})
	return status
}

// MergePR merges a pull request with the given strategy
// ("squash", "merge" or "rebase") and deletes the head branch.
func (c *Client) MergePR(number int, strategy string) error {
	args := []string{"pr", "merge", strconv.Itoa(number), "--delete-branch"}
	switch strategy {
	case "merge":
		args = append(args, "--merge")
	case "rebase":
		args = append(args, "--rebase")
	default:
		args = append(args, "--squash")
	}
	_, err := c.run(args...)
	return err
}

// AddLabel attaches a label to an issue.
func (c *Client) AddLabel(number int, label string) error {
	_, err := c.run("issue", "edit", strconv.Itoa(number), "--add-label", label)
	return err
}

// CreateIssue opens a new issue and returns its number, parsed from the
// issue URL gh prints.
func (c *Client) CreateIssue(title, body string, labels []string) (int, error) {
	args := []string{"issue", "create", "--title", title, "--body", body}
	for _, l := range labels {
		args = append(args, "--label", l)
	}
	out, err := c.run(args...)
	if err != nil {
		return 0, err
	}
	return parseIssueURL(string(out))
}

// Comment adds a comment to an issue or pull request.
func (c *Client) Comment(number int, text string) error {
	_, err := c.run("issue", "comment", strconv.Itoa(number), "--body", text)
	return err
}

// parseIssueURL extracts the trailing issue number from a gh-printed URL
// like https://github.com/owner/repo/issues/42.
func parseIssueURL(out string) (int, error) {
	url := strings.TrimSpace(out)
	if i := strings.LastIndex(url, "\n"); i >= 0 {
		url = strings.TrimSpace(url[i+1:])
	}
	idx := strings.LastIndex(url, "/")
	if idx < 0 {
		return 0, fmt.Errorf("parse issue URL %q: no path", url)
	}
	n, err := strconv.Atoi(url[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("parse issue URL %q: %w", url, err)
	}
	return n, nil
}
