package scheduler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gammazero/toposort"

	"github.com/cheezy/kanban/internal/task"
)

// Graph is the dependency index for one board: an explicit adjacency
// structure over task IDs with a reverse index for dependents. A Graph is
// built per operation from a board snapshot and is not safe for concurrent use.
type Graph struct {
	nodes      map[string]bool
	deps       map[string][]string // taskID -> tasks it depends on, in declared order
	dependents map[string][]string // taskID -> tasks that depend on it
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:      make(map[string]bool),
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
	}
}

// BuildGraph indexes the declared dependencies of the given tasks.
// References to tasks outside the set are kept so Validate can report them.
func BuildGraph(tasks []*task.Task) *Graph {
	g := NewGraph()
	for _, t := range tasks {
		g.nodes[t.ID] = true
	}
	for _, t := range tasks {
		for _, depID := range t.Dependencies {
			g.link(t.ID, depID)
		}
	}
	return g
}

// AddNode registers a task and its dependencies without cycle checking.
// Returns an error if the ID is already present.
func (g *Graph) AddNode(id string, deps []string) error {
	if g.nodes[id] {
		return fmt.Errorf("task with ID %q already exists", id)
	}
	g.nodes[id] = true
	for _, depID := range deps {
		g.link(id, depID)
	}
	return nil
}

func (g *Graph) link(from, to string) {
	for _, existing := range g.deps[from] {
		if existing == to {
			return
		}
	}
	g.deps[from] = append(g.deps[from], to)
	g.dependents[to] = append(g.dependents[to], from)
}

// AddEdge records that from depends on to. The edge is rejected with a
// validation error when either end is unknown or when it would close a cycle;
// the graph is left unchanged in that case.
func (g *Graph) AddEdge(from, to string) error {
	if !g.nodes[from] {
		return task.NotFoundf("task %q", from)
	}
	if !g.nodes[to] {
		return task.NotFoundf("dependency %q", to)
	}
	if g.reaches(to, from) {
		return task.Validationf("dependency %s -> %s would create a cycle", from, to)
	}
	g.link(from, to)
	return nil
}

// reaches runs a depth-first search along dependency edges from start and
// reports whether target is reachable. A node always reaches itself.
func (g *Graph) reaches(start, target string) bool {
	if start == target {
		return true
	}
	visited := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range g.deps[n] {
			if next == target {
				return true
			}
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// Dependents returns the tasks that directly depend on id.
func (g *Graph) Dependents(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

// Validate runs topological sort using gammazero/toposort.
// Returns ordered task IDs or an error if a reference is dangling or a cycle exists.
func (g *Graph) Validate() ([]string, error) {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		for _, depID := range g.deps[id] {
			if !g.nodes[depID] {
				return nil, task.Validationf("task %q depends on non-existent task %q", id, depID)
			}
		}
	}

	var edges []toposort.Edge
	for _, id := range ids {
		if len(g.deps[id]) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, depID := range g.deps[id] {
			// Edge (depID, id) means depID must come before id
			edges = append(edges, toposort.Edge{depID, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, task.Validationf("dependency graph contains cycle (%v)", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(ids) {
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		var missing []string
		for _, id := range ids {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return nil, task.Validationf("dependency graph contains cycle through %s", strings.Join(missing, ", "))
	}

	return order, nil
}
