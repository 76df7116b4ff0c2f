package registry

import (
	"context"
	"sort"
	"sync"
)

// importGraph records which partials each compiled template includes.
type importGraph struct {
	edges map[string][]string
	mutex sync.RWMutex
}

func newImportGraph() *importGraph {
	return &importGraph{edges: make(map[string][]string)}
}

// set replaces the outgoing edges of name.
func (g *importGraph) set(name string, imports []string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	deps := make([]string, len(imports))
	copy(deps, imports)
	g.edges[name] = deps
}

func (g *importGraph) remove(name string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	delete(g.edges, name)
}

func (g *importGraph) clear() {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.edges = make(map[string][]string)
}

// imports returns the recorded edges of name.
func (g *importGraph) imports(name string) ([]string, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	deps, ok := g.edges[name]
	return deps, ok
}

// dependents returns every template that includes name directly or
// transitively, sorted.
func (g *importGraph) dependents(name string) []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	reverse := make(map[string][]string)
	for from, deps := range g.edges {
		for _, dep := range deps {
			reverse[dep] = append(reverse[dep], from)
		}
	}

	seen := map[string]bool{name: true}
	queue := []string{name}
	var out []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, from := range reverse[current] {
			if !seen[from] {
				seen[from] = true
				out = append(out, from)
				queue = append(queue, from)
			}
		}
	}
	sort.Strings(out)

	return out
}

// neighbors yields the imports of a template, discovering them if needed.
type neighbors func(ctx context.Context, name string) ([]string, error)

// findCycle walks the graph depth-first from start and returns the first
// cycle that passes through start, closed with start (for example
// [A B A]). It returns nil when there is none.
func findCycle(ctx context.Context, start string, next neighbors) ([]string, error) {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	return detectCycleDFS(ctx, start, start, next, visited, recStack, nil)
}

func detectCycleDFS(ctx context.Context, start, name string, next neighbors,
	visited, recStack map[string]bool, path []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	visited[name] = true
	recStack[name] = true
	path = append(path, name)

	deps, err := next(ctx, name)
	if err != nil {
		return nil, err
	}

	for _, dep := range deps {
		if dep == start {
			// Found cycle - close it with the starting template
			cycle := make([]string, len(path)+1)
			copy(cycle, path)
			cycle[len(cycle)-1] = dep
			return cycle, nil
		}
		if !visited[dep] && !recStack[dep] {
			cycle, err := detectCycleDFS(ctx, start, dep, next, visited, recStack, path)
			if err != nil || cycle != nil {
				return cycle, err
			}
		}
	}

	recStack[name] = false
	return nil, nil
}
