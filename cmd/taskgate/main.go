package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/SapphireBeehive/taskgate/internal/claude"
	"github.com/SapphireBeehive/taskgate/internal/gh"
	"github.com/SapphireBeehive/taskgate/internal/graph"
	"github.com/SapphireBeehive/taskgate/internal/orchestrator"
	"github.com/SapphireBeehive/taskgate/internal/planner"
	"github.com/SapphireBeehive/taskgate/internal/reporter"
	"github.com/SapphireBeehive/taskgate/internal/state"
	"github.com/SapphireBeehive/taskgate/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagRepo           string
	flagGhBin          string
	flagStateDir       string
	flagInterval       time.Duration
	flagBranchPrefixes []string
	flagMergeStrategy  string
	flagJSON           bool
	flagQuiet          bool
	flagFormat         string
	flagModel          string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "taskgate",
		Short: "Dependency-gated task release for agent-managed repositories",
		Long: `Taskgate polls a GitHub repository's issues and pull requests, reads the
structured agent header from issue bodies, and releases on-hold tasks whose
declared dependencies have all completed. Passing agent pull requests are
merged first, so a PR closing a blocker unblocks its dependents in the same
cycle. Every cycle ends with a structured report.`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&flagRepo, "repo", "R", "", "GitHub repository (owner/name, default: current directory's repo)")
	rootCmd.PersistentFlags().StringVar(&flagGhBin, "gh-bin", "", "Path to the gh binary")
	rootCmd.PersistentFlags().StringVar(&flagStateDir, "state-dir", ".taskgate", "Directory for loop state and report history")
	rootCmd.PersistentFlags().DurationVar(&flagInterval, "interval", time.Minute, "Reconciliation interval")
	rootCmd.PersistentFlags().StringSliceVar(&flagBranchPrefixes, "branch-prefix", []string{"agent/", "bot/"}, "Branch prefixes that mark agent PRs")
	rootCmd.PersistentFlags().StringVar(&flagMergeStrategy, "merge-strategy", "squash", "PR merge strategy (squash, merge, rebase)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Machine-readable JSON output")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(onceCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(graphCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(summarizeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func trackerClient() *gh.Client {
	return gh.NewClient(flagGhBin, flagRepo)
}

// fetchSnapshot pulls the full tracker view: all issues plus open PRs.
func fetchSnapshot() (*graph.Graph, []gh.PullRequest, error) {
	client := trackerClient()

	issues, err := client.ListIssues("all")
	if err != nil {
		return nil, nil, fmt.Errorf("list issues: %w", err)
	}
	prs, err := client.ListOpenPRs()
	if err != nil {
		return nil, nil, fmt.Errorf("list pull requests: %w", err)
	}

	return graph.Build(issues), prs, nil
}

func plannerConfig() planner.Config {
	return planner.Config{
		BranchPrefixes: flagBranchPrefixes,
		MergeStrategy:  flagMergeStrategy,
	}
}

func newOrchestrator() (*orchestrator.Orchestrator, error) {
	st, err := state.Open(flagStateDir)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	return orchestrator.New(trackerClient(), st, orchestrator.Config{
		Interval:       flagInterval,
		BranchPrefixes: flagBranchPrefixes,
		MergeStrategy:  flagMergeStrategy,
		Quiet:          flagQuiet || flagJSON,
	}), nil
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the reconciliation loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := newOrchestrator()
			if err != nil {
				return err
			}

			if !flagQuiet {
				ui.PrintLogo()
				fmt.Fprintf(os.Stderr, "🚪 %s (every %s)\n",
					ui.BoldCyan("Reconciliation loop started"), ui.Bold(flagInterval))
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := o.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "\n🛑 %s\n", ui.Yellow("Stopped."))
			return nil
		},
	}
	cmd.Flags().BoolVar(&flagQuiet, "quiet", false, "Suppress per-cycle reports")
	return cmd
}

func onceCmd() *cobra.Command {
	var (
		flagForce  bool
		flagDryRun bool
	)

	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single reconciliation cycle, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagDryRun {
				g, prs, err := fetchSnapshot()
				if err != nil {
					return err
				}
				return printPlan(g, planner.Plan(g, prs, plannerConfig()))
			}

			o, err := newOrchestrator()
			if err != nil {
				return err
			}

			rep, err := o.RunCycle(flagForce)
			if err != nil {
				return err
			}
			if rep == nil {
				fmt.Printf("💤 %s\n", ui.Dim("Nothing changed since the last cycle; gated out. Use --force to run anyway."))
				return nil
			}
			if flagJSON {
				return outputJSON(rep)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&flagForce, "force", false, "Bypass the poll gate")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Plan only, apply nothing")
	return cmd
}

func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the actions the next cycle would apply, without applying them",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, prs, err := fetchSnapshot()
			if err != nil {
				return err
			}
			return printPlan(g, planner.Plan(g, prs, plannerConfig()))
		},
	}
	return cmd
}

// printPlan renders a planned (unapplied) action set.
func printPlan(g *graph.Graph, acts *planner.Actions) error {
	if flagJSON {
		return outputJSON(acts)
	}

	fmt.Printf("🎯 %s\n\n", ui.Yellow("Dry run. Actions planned but not applied."))
	for _, m := range acts.Merges {
		note := ""
		if m.ClosesTask > 0 {
			note = ui.Dim(fmt.Sprintf("closes #%d", m.ClosesTask))
		}
		fmt.Printf("  %s merge PR #%d (%s, %s) %s\n", ui.Green("✓"), m.PR, m.Branch, m.Strategy, note)
	}
	for _, f := range acts.FollowUps {
		fmt.Printf("  %s file follow-up for PR #%d: %s\n", ui.Yellow("+"), f.PR, truncate(f.Title, 60))
	}
	for _, l := range acts.Labels {
		fmt.Printf("  %s label #%d %q\n", ui.StateIcon("ready"), l.Task, l.Label)
	}
	if len(acts.Merges)+len(acts.FollowUps)+len(acts.Labels) == 0 {
		fmt.Printf("  %s\n", ui.Dim("No actions pending."))
	}
	reporter.New(0, g, acts).Print(os.Stdout)
	return nil
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Classify all managed tasks and print the lifecycle table",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, _, err := fetchSnapshot()
			if err != nil {
				return err
			}

			if flagJSON {
				type taskStatus struct {
					Task      int    `json:"task"`
					Title     string `json:"title"`
					State     string `json:"state"`
					DependsOn []int  `json:"depends_on,omitempty"`
				}
				var out []taskStatus
				for _, id := range g.IDs() {
					t := g.Tasks[id]
					out = append(out, taskStatus{
						Task: id, Title: t.Title,
						State: string(t.Lifecycle()), DependsOn: t.DependsOn,
					})
				}
				return outputJSON(out)
			}

			fmt.Printf("⛩  %s · %d managed tasks (%d non-agent issues ignored)\n\n",
				ui.BoldCyan("Taskgate"), len(g.Tasks), g.Ignored)
			for _, id := range g.TopoOrder() {
				t := g.Tasks[id]
				deps := ""
				if len(t.DependsOn) > 0 {
					deps = ui.Dim(fmt.Sprintf("deps %v", t.DependsOn))
				}
				fmt.Printf("  %s %s %-50s %-12s %s\n",
					ui.StateIcon(string(t.Lifecycle())), ui.IssuePrefix(id),
					truncate(t.Title, 50), t.Lifecycle(), deps)
			}
			for _, w := range g.Warnings {
				fmt.Printf("  %s %s\n", ui.Yellow("⚠"), w)
			}
			return nil
		},
	}
	return cmd
}

func graphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the dependency DAG",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, _, err := fetchSnapshot()
			if err != nil {
				return err
			}
			if flagFormat == "dot" {
				printDOT(g)
				return nil
			}
			printASCIIDAG(g)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagFormat, "format", "ascii", "Output format (ascii, dot)")
	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [report]",
		Short: "List archived cycle reports, or print one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := state.Open(flagStateDir)
			if err != nil {
				return fmt.Errorf("open state: %w", err)
			}

			if len(args) == 1 {
				name := args[0]
				// A bare number selects the nth report, oldest first.
				if n, err := strconv.Atoi(name); err == nil {
					names, err := st.ListReports()
					if err != nil {
						return err
					}
					if n < 1 || n > len(names) {
						return fmt.Errorf("report %d out of range (have %d)", n, len(names))
					}
					name = names[n-1]
				}
				data, err := st.ReadReport(name)
				if err != nil {
					return err
				}
				if flagJSON {
					fmt.Println(string(data))
					return nil
				}
				var rep reporter.Report
				if err := json.Unmarshal(data, &rep); err != nil {
					return fmt.Errorf("parse report: %w", err)
				}
				rep.Print(os.Stdout)
				return nil
			}

			names, err := st.ListReports()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Printf("💤 %s\n", ui.Dim("No archived reports yet."))
				return nil
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}
	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Ask Claude to review the declared dependency graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, _, err := fetchSnapshot()
			if err != nil {
				return err
			}
			if len(g.Tasks) == 0 {
				return fmt.Errorf("no managed tasks found")
			}

			client, err := claude.NewClient("", flagModel)
			if err != nil {
				return err
			}

			var tasks []claude.TaskSummary
			for _, id := range g.IDs() {
				t := g.Tasks[id]
				st := "open"
				if t.Closed {
					st = "closed"
				}
				tasks = append(tasks, claude.TaskSummary{
					ID: id, Title: t.Title, State: st, DependsOn: t.DependsOn,
				})
			}

			fmt.Fprintf(os.Stderr, "🔍 %s %d tasks...\n", ui.BoldCyan("Auditing dependency graph:"), len(tasks))
			result, err := client.AuditGraph(cmd.Context(), tasks)
			if err != nil {
				return err
			}

			if flagJSON {
				return outputJSON(result)
			}

			if len(result.Findings) == 0 {
				fmt.Printf("✅ %s\n", ui.Green("No findings."))
			}
			for _, f := range result.Findings {
				fmt.Printf("  %s %s #%d ← #%d  %s\n",
					ui.Yellow("⚠"), ui.Bold(f.Kind), f.BlockedID, f.BlockerID, ui.Dim(f.Reason))
			}
			fmt.Printf("\n%s\n", result.Summary)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagModel, "model", "", "Claude model override")
	return cmd
}

func summarizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Narrative summary of the latest cycle report via Claude",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := state.Open(flagStateDir)
			if err != nil {
				return fmt.Errorf("open state: %w", err)
			}
			data, err := st.LatestReport()
			if err != nil {
				return err
			}
			if data == nil {
				return fmt.Errorf("no archived reports to summarize")
			}

			client, err := claude.NewClient("", flagModel)
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "📝 %s\n", ui.BoldCyan("Summarising latest cycle..."))
			narrative, err := client.SummariseCycle(cmd.Context(), data)
			if err != nil {
				return err
			}
			fmt.Println(narrative)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagModel, "model", "", "Claude model override")
	return cmd
}

// printASCIIDAG renders the dependency graph in topological order, one task
// per line with its dependencies.
func printASCIIDAG(g *graph.Graph) {
	fmt.Printf("⛩  %s\n\n", ui.BoldCyan("Dependency graph"))
	for _, id := range g.TopoOrder() {
		t := g.Tasks[id]
		arrow := ""
		if len(t.DependsOn) > 0 {
			parts := make([]string, len(t.DependsOn))
			for i, d := range t.DependsOn {
				parts[i] = fmt.Sprintf("#%d", d)
			}
			arrow = ui.Dim("← " + strings.Join(parts, ", "))
		}
		fmt.Printf("  %s %s %-50s %s\n",
			ui.StateIcon(string(t.Lifecycle())), ui.IssuePrefix(id), truncate(t.Title, 50), arrow)
	}
	if cycle := g.DetectCycle(); cycle != nil {
		fmt.Printf("\n  %s dependency cycle: %v\n", ui.BoldRed("✗"), cycle)
	}
}

// printDOT emits the graph in Graphviz DOT format.
func printDOT(g *graph.Graph) {
	fmt.Println("digraph tasks {")
	fmt.Println("  rankdir=LR;")
	for _, id := range g.IDs() {
		t := g.Tasks[id]
		color := "gray"
		switch t.Lifecycle() {
		case graph.Completed:
			color = "green"
		case graph.InProgress:
			color = "cyan"
		case graph.Ready:
			color = "yellow"
		}
		fmt.Printf("  t%d [label=\"#%d %s\", color=%s];\n", id, id, escapeDOT(t.Title), color)
	}
	for _, id := range g.IDs() {
		for _, dep := range g.Tasks[id].DependsOn {
			fmt.Printf("  t%d -> t%d;\n", dep, id)
		}
	}
	fmt.Println("}")
}

func escapeDOT(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}

func outputJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
