package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/morph/internal/ir"
)

// CycleWarning reports a group of mutually recursive functions.
//
// Recursion is legal. It is reported because every call through the cycle
// is profiled on its own, so a hot recursive function reaches Refine on the
// call count of the whole recursion tree, not of its top-level callers.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["even", "odd", "even"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles finds recursive functions in the static call graph.
//
// Only direct calls by name (including pipe targets) are edges; calls
// through lambdas or variables are not resolved. Each strongly connected
// component with more than one function, or a function calling itself, is
// one warning. Warnings follow declaration order.
func AnalyzeCycles(prog *ir.Program) []CycleWarning {
	graph := buildCallGraph(prog)
	sccs := tarjanSCC(graph, prog.Order)

	warnings := []CycleWarning{}
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph, prog.Order))
		}
	}
	slices.SortStableFunc(warnings, func(a, b CycleWarning) int {
		return slices.Index(prog.Order, a.Path[0]) - slices.Index(prog.Order, b.Path[0])
	})
	return warnings
}

// callGraph maps a function to the program functions it calls, in first
// call order.
type callGraph map[string][]string

func buildCallGraph(prog *ir.Program) callGraph {
	graph := make(callGraph, len(prog.Order))
	for _, name := range prog.Order {
		c := &callCollector{prog: prog, seen: map[string]bool{}}
		c.block(prog.Functions[name].Body)
		graph[name] = c.out
	}
	return graph
}

type callCollector struct {
	prog *ir.Program
	seen map[string]bool
	out  []string
}

func (c *callCollector) callee(e ir.Expr) {
	id, ok := e.(*ir.Ident)
	if !ok {
		c.expr(e)
		return
	}
	if c.prog.Function(id.Name) != nil && !c.seen[id.Name] {
		c.seen[id.Name] = true
		c.out = append(c.out, id.Name)
	}
}

func (c *callCollector) block(b *ir.Block) {
	if b == nil {
		return
	}
	for _, st := range b.Stmts {
		switch x := st.(type) {
		case *ir.Let:
			c.expr(x.Value)
		case *ir.ExprStmt:
			c.expr(x.Expr)
		case *ir.Return:
			if x.Value != nil {
				c.expr(x.Value)
			}
		case *ir.For:
			c.expr(x.Iter)
			if x.Where != nil {
				c.expr(x.Where)
			}
			c.block(x.Body)
		case *ir.Assign:
			c.expr(x.Value)
		}
	}
	if b.Result != nil {
		c.expr(b.Result)
	}
}

func (c *callCollector) expr(e ir.Expr) {
	switch x := e.(type) {
	case *ir.ListLit:
		for _, el := range x.Elems {
			c.expr(el)
		}
	case *ir.RecordLit:
		for _, f := range x.Fields {
			c.expr(f.Value)
		}
	case *ir.Binary:
		c.expr(x.Left)
		c.expr(x.Right)
	case *ir.Unary:
		c.expr(x.Operand)
	case *ir.Call:
		c.callee(x.Callee)
		for _, a := range x.Args {
			c.expr(a)
		}
	case *ir.Pipe:
		c.expr(x.Value)
		if call, ok := x.Target.(*ir.Call); ok {
			c.callee(call.Callee)
			for _, a := range call.Args {
				c.expr(a)
			}
		} else {
			c.callee(x.Target)
		}
	case *ir.Match:
		c.expr(x.Subject)
		for _, arm := range x.Arms {
			c.expr(arm.Body)
		}
	case *ir.Block:
		c.block(x)
	case *ir.If:
		c.expr(x.Cond)
		c.expr(x.Then)
		if x.Else != nil {
			c.expr(x.Else)
		}
	case *ir.Field:
		c.expr(x.Target)
	case *ir.Index:
		c.expr(x.Target)
		c.expr(x.Index)
	case *ir.Lambda:
		c.expr(x.Body)
	case *ir.Claim:
		c.expr(x.Value)
	}
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph callGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm,
// visiting roots in order so the result is deterministic.
func tarjanSCC(graph callGraph, order []string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// If v is a root node, pop the stack and create an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning. The path starts at
// the member declared first.
func cycleSCCToWarning(scc []string, graph callGraph, order []string) CycleWarning {
	if len(scc) == 1 {
		name := scc[0]
		return CycleWarning{
			Path:    []string{name, name},
			Message: fmt.Sprintf("Recursive function: %s calls itself", name),
			Level:   "info",
		}
	}

	slices.SortFunc(scc, func(a, b string) int {
		return slices.Index(order, a) - slices.Index(order, b)
	})
	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Mutually recursive functions: %s", strings.Join(path, " -> ")),
		Level:   "warning",
	}
}

// reconstructCyclePath follows edges inside the SCC from its first member
// until it returns there.
func reconstructCyclePath(scc []string, graph callGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
