package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// TaskSummary is the minimal task info sent to Claude for a graph audit.
type TaskSummary struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	State     string `json:"state"`
	DependsOn []int  `json:"depends_on"`
}

// AuditFinding is one suspected problem in the declared dependency graph.
type AuditFinding struct {
	Kind      string `json:"kind"` // "missing_edge", "spurious_edge", "other"
	BlockedID int    `json:"blocked_id"`
	BlockerID int    `json:"blocker_id"`
	Reason    string `json:"reason"`
}

// AuditResult holds the full response from Claude.
type AuditResult struct {
	Findings []AuditFinding `json:"findings"`
	Summary  string         `json:"summary"`
}

// Client wraps the Anthropic SDK for Claude API calls.
type Client struct {
	inner anthropic.Client
	model anthropic.Model
}

// NewClient creates a Claude client. apiKey defaults to ANTHROPIC_API_KEY env.
// model defaults to Claude Sonnet.
func NewClient(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	inner := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	m := anthropic.ModelClaudeSonnet4_0
	if model != "" {
		m = anthropic.Model(model)
	}

	return &Client{inner: inner, model: m}, nil
}

const auditPrompt = `You are an expert software project manager auditing the declared dependency graph of a task tracker. Tasks declare which other tasks must complete before they may start.

Look for:
- Missing edges: task B obviously cannot start before task A, yet no dependency is declared.
- Spurious edges: a declared dependency with no plausible causal reason.
- Only use task IDs from the provided list. A task cannot depend on itself.
- Prefer fewer findings: flag only what you are confident about.

Return your answer as JSON with this exact structure:
{
  "findings": [
    {"kind": "missing_edge|spurious_edge|other", "blocked_id": 0, "blocker_id": 0, "reason": "<short explanation>"}
  ],
  "summary": "<one paragraph assessment of the graph>"
}

Return ONLY the JSON object. No markdown fences, no commentary outside the JSON.

Here are the tasks:
`

// buildAuditPrompt constructs the full prompt for a dependency graph audit.
func buildAuditPrompt(tasks []TaskSummary) (string, error) {
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal tasks: %w", err)
	}
	return auditPrompt + string(data), nil
}

// AuditGraph asks Claude to review the declared dependency graph.
func (c *Client) AuditGraph(ctx context.Context, tasks []TaskSummary) (*AuditResult, error) {
	prompt, err := buildAuditPrompt(tasks)
	if err != nil {
		return nil, err
	}

	resp, err := c.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(4096),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude API call: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	text = stripJSONFences(text)

	var result AuditResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("parse claude response: %w\nraw: %s", err, text)
	}

	return &result, nil
}

const summariseCyclePrompt = `You are a technical project manager summarising one reconciliation cycle of a dependency-gated task release loop.

You will receive the cycle's structured report as JSON: merged pull requests, released tasks, blocked tasks with the dependencies holding them, follow-up issues filed for deferred review feedback, anomalies and errors.

Produce a concise narrative covering:
- What moved this cycle (merges, releases) and what it unblocked.
- What is stuck, on which dependencies, and anything anomalous.
- An overall assessment of the project's flow.

Keep it concise, a few sentences per section. Do not repeat raw JSON.
`

// SummariseCycle sends an archived cycle report to Claude and returns a
// human-readable narrative of what moved and what is stuck.
func (c *Client) SummariseCycle(ctx context.Context, reportJSON []byte) (string, error) {
	var userContent strings.Builder
	userContent.WriteString("## Cycle Report\n\n```json\n")
	userContent.Write(reportJSON)
	userContent.WriteString("\n```\n")

	resp, err := c.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(4096),
		System: []anthropic.TextBlockParam{
			{Text: summariseCyclePrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userContent.String())),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude API call: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return strings.TrimSpace(text), nil
}

// stripJSONFences removes markdown code fences that Claude sometimes adds.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	// Remove ```json ... ``` or ``` ... ```
	if strings.HasPrefix(s, "```") {
		// Strip opening fence line
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		// Strip closing fence
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}
