// Package graph provides the small dependency graph the validation engine
// uses to reject dependent-scoped component cycles.
package graph

import "sort"

// Graph is a directed graph over string node keys with display labels.
// Not safe for concurrent mutation; validation builds and queries it from
// a single goroutine.
type Graph struct {
	labels map[string]string
	edges  map[string][]string
	order  []string
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		labels: make(map[string]string),
		edges:  make(map[string][]string),
	}
}

// AddNode registers a node with a display label. Re-adding updates the
// label only.
func (g *Graph) AddNode(key, label string) {
	if _, ok := g.labels[key]; !ok {
		g.order = append(g.order, key)
	}
	g.labels[key] = label
}

// AddEdge records a dependency from one node to another. Unknown
// endpoints are added with their key as label.
func (g *Graph) AddEdge(from, to string) {
	if _, ok := g.labels[from]; !ok {
		g.AddNode(from, from)
	}
	if _, ok := g.labels[to]; !ok {
		g.AddNode(to, to)
	}
	g.edges[from] = append(g.edges[from], to)
}

// Len returns the node count.
func (g *Graph) Len() int {
	return len(g.order)
}

const (
	colorWhite = iota // unvisited
	colorGray         // on the current DFS stack
	colorBlack        // fully explored
)

// FindCycle returns the labels of one dependency cycle, in walk order
// with the entry node repeated at the end, or nil when the graph is
// acyclic. Detection is iterative DFS, so deep graphs cannot overflow the
// goroutine stack.
func (g *Graph) FindCycle() []string {
	colors := make(map[string]int, len(g.order))

	for _, start := range g.order {
		if colors[start] != colorWhite {
			continue
		}
		if cycle := g.findCycleFrom(start, colors); cycle != nil {
			return cycle
		}
	}
	return nil
}

type frame struct {
	node  string
	index int
}

func (g *Graph) findCycleFrom(start string, colors map[string]int) []string {
	stack := []frame{{node: start}}
	colors[start] = colorGray
	path := []string{start}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		deps := g.sortedEdges(top.node)

		if top.index < len(deps) {
			next := deps[top.index]
			top.index++

			switch colors[next] {
			case colorGray:
				return g.cyclePath(path, next)
			case colorWhite:
				colors[next] = colorGray
				stack = append(stack, frame{node: next})
				path = append(path, next)
			}
			continue
		}

		colors[top.node] = colorBlack
		stack = stack[:len(stack)-1]
		path = path[:len(path)-1]
	}
	return nil
}

// cyclePath trims the DFS path to the cycle entry and closes the loop.
func (g *Graph) cyclePath(path []string, entry string) []string {
	start := 0
	for i, key := range path {
		if key == entry {
			start = i
			break
		}
	}
	cycle := make([]string, 0, len(path)-start+1)
	for _, key := range path[start:] {
		cycle = append(cycle, g.labels[key])
	}
	cycle = append(cycle, g.labels[entry])
	return cycle
}

// sortedEdges returns a node's dependencies in deterministic order so
// cycle reports are stable across runs.
func (g *Graph) sortedEdges(key string) []string {
	deps := g.edges[key]
	if len(deps) < 2 {
		return deps
	}
	out := append([]string(nil), deps...)
	sort.Strings(out)
	return out
}
