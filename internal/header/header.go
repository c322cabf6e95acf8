// Package header parses the structured agent block that opens the body of
// an agent-managed issue, and closing-keyword references in PR bodies. It is
// the only place free-text tracker content is interpreted; everything past
// this boundary works with typed values.
package header

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Header is the parsed agent block from the top of an issue body.
type Header struct {
	AgentTask bool     `yaml:"agent_task"`
	DependsOn []string `yaml:"depends_on"`
}

// Result is the outcome of extracting a header from an issue body.
type Result struct {
	AgentManaged bool
	DependsOn    []int    // deduplicated, sorted
	Warnings     []string // malformed depends_on entries, dropped not fatal
}

var fenceRe = regexp.MustCompile("(?s)\\A```ya?ml[ \t]*\n(.*?)\n```")

// Extract parses an issue body. The body must begin with a fenced yaml block
// declaring agent_task: true; otherwise the issue is not agent-managed and
// the zero Result is returned. Malformed dependency entries are dropped with
// a warning; partial parsing still yields a managed task.
func Extract(body string) Result {
	var res Result

	m := fenceRe.FindStringSubmatch(strings.TrimLeft(body, " \t\r\n"))
	if m == nil {
		return res
	}

	var h Header
	if err := yaml.Unmarshal([]byte(m[1]), &h); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("unparseable agent block: %v", err))
		return res
	}
	if !h.AgentTask {
		return res
	}

	res.AgentManaged = true
	seen := make(map[int]bool)
	for _, ref := range h.DependsOn {
		id, err := parseRef(ref)
		if err != nil {
			res.Warnings = append(res.Warnings, err.Error())
			continue
		}
		if !seen[id] {
			seen[id] = true
			res.DependsOn = append(res.DependsOn, id)
		}
	}
	sort.Ints(res.DependsOn)
	return res
}

// parseRef converts a "#123" tracker reference to its integer id.
func parseRef(ref string) (int, error) {
	s := strings.TrimSpace(ref)
	if !strings.HasPrefix(s, "#") {
		return 0, fmt.Errorf("dependency %q: missing # prefix", ref)
	}
	id, err := strconv.Atoi(s[1:])
	if err != nil {
		return 0, fmt.Errorf("dependency %q: not a number", ref)
	}
	return id, nil
}

// Closing-keyword reference, per tracker linking conventions.
var closesRe = regexp.MustCompile(`(?i)\b(?:close[sd]?|fix(?:e[sd])?|resolve[sd]?)\b[: ]+#(\d+)`)

// LinkedIssue returns the issue number a PR body closes via a closing
// keyword ("Closes #42", "fixes #7", ...), or 0 if there is none.
func LinkedIssue(body string) int {
	m := closesRe.FindStringSubmatch(body)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}
