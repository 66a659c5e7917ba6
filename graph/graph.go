// ABOUTME: Static pipeline graph definition: stage registration, edges, conditional routing tables.
// ABOUTME: The graph is built once at startup and validated before any run executes against it.
package graph

import (
	"context"
	"fmt"
)

// Start and End are the reserved endpoints of every graph. Start is the
// implicit predecessor of entry stages; End is the terminal routing label.
const (
	Start = "__start__"
	End   = "__end__"
)

// StageFunc is one unit of pipeline work. It receives an isolated state
// snapshot plus run-scoped configuration through the NodeContext and returns
// a StageResult carrying a partial-state update, a skip, or an interrupt.
// Stages must not retain state between invocations.
type StageFunc func(ctx context.Context, nc *NodeContext) (*StageResult, error)

// Router inspects the just-merged state after its stage completes and returns
// a routing label. The label is resolved through the stage's transition table.
type Router func(st State) string

// Node is one registered stage.
type Node struct {
	Name string
	Fn   StageFunc
	// order is the declaration index, used for deterministic merge ordering.
	order int
}

type conditionalEdge struct {
	router Router
	table  map[string]string
}

// Graph holds the stage dependency graph for a fixed pipeline topology.
type Graph struct {
	schema *Schema
	nodes  map[string]*Node
	// successors preserves edge declaration order per source node.
	successors map[string][]string
	// predecessors lists the hard (unconditional) predecessors per node.
	predecessors map[string][]string
	conditional  map[string]*conditionalEdge
	nodeOrder    []string
}

// New creates an empty graph over the given state schema.
func New(schema *Schema) *Graph {
	return &Graph{
		schema:       schema,
		nodes:        make(map[string]*Node),
		successors:   make(map[string][]string),
		predecessors: make(map[string][]string),
		conditional:  make(map[string]*conditionalEdge),
	}
}

// Schema returns the state schema the graph was built over.
func (g *Graph) Schema() *Schema {
	return g.schema
}

// AddNode registers a stage. Registration order determines the deterministic
// merge order for stages executing in the same superstep.
func (g *Graph) AddNode(name string, fn StageFunc) *Graph {
	if name == Start || name == End {
		panic(fmt.Sprintf("graph: %q is a reserved node name", name))
	}
	if _, exists := g.nodes[name]; exists {
		panic(fmt.Sprintf("graph: node %q registered twice", name))
	}
	g.nodes[name] = &Node{Name: name, Fn: fn, order: len(g.nodeOrder)}
	g.nodeOrder = append(g.nodeOrder, name)
	return g
}

// AddEdge declares an unconditional transition. The target becomes ready only
// once all of its declared predecessors have finished; a target with multiple
// predecessors is a join barrier, not a race.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.successors[from] = append(g.successors[from], to)
	if from != Start && to != End {
		g.predecessors[to] = append(g.predecessors[to], from)
	}
	return g
}

// AddConditionalEdges attaches a router to a stage. After the stage completes,
// the router's label is looked up in the table to pick the next stage. Routing
// a stage to itself is legal and means re-entry. An unmapped label is a fatal
// configuration error at run time.
func (g *Graph) AddConditionalEdges(from string, router Router, table map[string]string) *Graph {
	g.conditional[from] = &conditionalEdge{router: router, table: table}
	return g
}

// Validate checks the graph for structural errors: unknown node references,
// missing entry edges, and conditional tables pointing at unknown stages.
func (g *Graph) Validate() error {
	if len(g.successors[Start]) == 0 {
		return &ConfigurationError{Reason: "graph has no entry edge from Start"}
	}
	for from, targets := range g.successors {
		if from != Start {
			if _, ok := g.nodes[from]; !ok {
				return &ConfigurationError{Reason: fmt.Sprintf("edge source %q is not a registered node", from)}
			}
		}
		for _, to := range targets {
			if to == End {
				continue
			}
			if _, ok := g.nodes[to]; !ok {
				return &ConfigurationError{Reason: fmt.Sprintf("edge target %q is not a registered node", to)}
			}
		}
	}
	for from, ce := range g.conditional {
		if _, ok := g.nodes[from]; !ok {
			return &ConfigurationError{Reason: fmt.Sprintf("conditional edge source %q is not a registered node", from)}
		}
		for label, to := range ce.table {
			if to == End {
				continue
			}
			if _, ok := g.nodes[to]; !ok {
				return &ConfigurationError{Reason: fmt.Sprintf("conditional label %q targets unknown node %q", label, to)}
			}
		}
	}
	return nil
}

// Nodes returns all registered stage names in declaration order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.nodeOrder))
	copy(out, g.nodeOrder)
	return out
}

// find returns the node for a name, or nil.
func (g *Graph) find(name string) *Node {
	return g.nodes[name]
}

// entryNodes returns the successors of Start in declaration order.
func (g *Graph) entryNodes() []string {
	return g.successors[Start]
}

// hardPredecessors returns the unconditional predecessors of a node.
func (g *Graph) hardPredecessors(name string) []string {
	return g.predecessors[name]
}

// isJoin reports whether a node has more than one declared predecessor and
// therefore acts as a fan-in barrier.
func (g *Graph) isJoin(name string) bool {
	return len(g.predecessors[name]) > 1
}
