package graph

import (
	"fmt"
	"sort"

	"github.com/SapphireBeehive/taskgate/internal/gh"
	"github.com/SapphireBeehive/taskgate/internal/header"
)

// Build constructs a Graph from raw tracker issues. Issues without an agent
// header are counted but excluded; header warnings are collected per issue.
// A Graph may contain cycles; detection is a separate step so the planner
// can keep releasing the unaffected subgraph.
func Build(issues []gh.Issue) *Graph {
	g := &Graph{
		Tasks:      make(map[int]*Task),
		Dependents: make(map[int][]int),
	}

	for i := range issues {
		issue := &issues[i]
		res := header.Extract(issue.Body)
		for _, w := range res.Warnings {
			g.Warnings = append(g.Warnings, fmt.Sprintf("#%d: %s", issue.Number, w))
		}
		if !res.AgentManaged {
			g.Ignored++
			continue
		}
		g.Tasks[issue.Number] = &Task{
			ID:        issue.Number,
			Title:     issue.Title,
			Closed:    issue.Closed(),
			Labels:    issue.LabelNames(),
			DependsOn: res.DependsOn,
		}
	}

	for id, t := range g.Tasks {
		for _, dep := range t.DependsOn {
			g.Dependents[dep] = append(g.Dependents[dep], id)
		}
	}
	for dep := range g.Dependents {
		sort.Ints(g.Dependents[dep])
	}

	return g
}

// IDs returns all task ids in ascending order.
func (g *Graph) IDs() []int {
	ids := make([]int, 0, len(g.Tasks))
	for id := range g.Tasks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// UnknownDeps returns, per task, the declared dependency ids that are absent
// from the graph. Unknown ids count as unsatisfied, never silently
// treated as completed.
func (g *Graph) UnknownDeps() map[int][]int {
	unknown := make(map[int][]int)
	for _, id := range g.IDs() {
		for _, dep := range g.Tasks[id].DependsOn {
			if _, ok := g.Tasks[dep]; !ok {
				unknown[id] = append(unknown[id], dep)
			}
		}
	}
	return unknown
}

// DetectCycle returns the ids of one dependency cycle, each member once, in
// forward order, or nil if the graph is acyclic. DFS with coloring: white
// (unvisited), gray (in progress), black (done). The visited set bounds the
// traversal so a cycle can never cause nontermination.
func (g *Graph) DetectCycle() []int {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make(map[int]int)
	parent := make(map[int]int)

	var dfs func(node int) []int
	dfs = func(node int) []int {
		color[node] = gray
		for _, dep := range g.Tasks[node].DependsOn {
			if _, ok := g.Tasks[dep]; !ok {
				continue
			}
			if color[dep] == gray {
				cycle := []int{node}
				for cur := node; cur != dep; {
					cur = parent[cur]
					cycle = append(cycle, cur)
				}
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				return cycle
			}
			if color[dep] == white {
				parent[dep] = node
				if cycle := dfs(dep); cycle != nil {
					return cycle
				}
			}
		}
		color[node] = black
		return nil
	}

	for _, id := range g.IDs() {
		if color[id] == white {
			if cycle := dfs(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// OnCycle returns the set of tasks that sit on or depend on a dependency
// cycle. These must never be released; everything else stays eligible.
func (g *Graph) OnCycle() map[int]bool {
	tainted := make(map[int]bool)

	// A task is on a cycle iff it is reachable from itself. Bounded DFS per
	// task keeps this simple; graphs here are small (one repo's open issues).
	for _, id := range g.IDs() {
		seen := make(map[int]bool)
		stack := append([]int{}, g.Tasks[id].DependsOn...)
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if cur == id {
				tainted[id] = true
				break
			}
			if seen[cur] {
				continue
			}
			seen[cur] = true
			if t, ok := g.Tasks[cur]; ok {
				stack = append(stack, t.DependsOn...)
			}
		}
	}

	// Taint everything transitively depending on a cyclic task.
	queue := make([]int, 0, len(tainted))
	for id := range tainted {
		queue = append(queue, id)
	}
	sort.Ints(queue)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dependent := range g.Dependents[id] {
			if !tainted[dependent] {
				tainted[dependent] = true
				queue = append(queue, dependent)
			}
		}
	}

	return tainted
}

// UnlockCount returns how many open tasks the given task transitively holds
// up. Used to annotate blocked reports with the impact of each blocker.
func (g *Graph) UnlockCount(id int) int {
	seen := make(map[int]bool)
	queue := append([]int{}, g.Dependents[id]...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		queue = append(queue, g.Dependents[cur]...)
	}

	count := 0
	for dep := range seen {
		if t, ok := g.Tasks[dep]; ok && !t.Closed {
			count++
		}
	}
	return count
}

// TopoOrder returns task ids in dependency order (Kahn's algorithm),
// dependencies before dependents, ties broken by ascending id. Tasks on a
// cycle are appended at the end in ascending id order so callers always get
// every task exactly once.
func (g *Graph) TopoOrder() []int {
	inDegree := make(map[int]int)
	for _, id := range g.IDs() {
		for _, dep := range g.Tasks[id].DependsOn {
			if _, ok := g.Tasks[dep]; ok {
				inDegree[id]++
			}
		}
	}

	var queue []int
	for _, id := range g.IDs() {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	var order []int
	placed := make(map[int]bool)
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)
		placed[node] = true

		var newReady []int
		for _, dependent := range g.Dependents[node] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				newReady = append(newReady, dependent)
			}
		}
		sort.Ints(newReady)
		queue = append(queue, newReady...)
	}

	for _, id := range g.IDs() {
		if !placed[id] {
			order = append(order, id)
		}
	}
	return order
}
