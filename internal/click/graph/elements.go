package graph

import (
	"github.com/DrC0ns0le/clickctl/internal/click/config"
	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

// Edge is one element graph connection from an output port.
type Edge struct {
	From string
	To   string
	Port int
	Link string
}

// ElementGraph is the raw wiring of the router configuration.
type ElementGraph struct {
	order    []string
	elements map[string]*Element
	out      map[string][]Edge
}

func (g *ElementGraph) Element(name string) (*Element, bool) {
	e, ok := g.elements[name]
	return e, ok
}

// Elements are returned in list order.
func (g *ElementGraph) Elements() []*Element {
	els := make([]*Element, 0, len(g.order))
	for _, name := range g.order {
		els = append(els, g.elements[name])
	}
	return els
}

func (g *ElementGraph) Successors(name string) []Edge {
	return g.out[name]
}

func (g *ElementGraph) Len() int { return len(g.order) }

// DecodeElement builds an element from its cached handlers.
func DecodeElement(id string, handlers map[string]config.Handler, classes Classes) (*Element, error) {
	el := &Element{Name: id}
	if lines := handlers["name"].Lines; len(lines) > 0 {
		el.Name = lines[0]
	}
	if lines := handlers["class"].Lines; len(lines) > 0 {
		el.Class = lines[0]
	}
	el.Config = ParseConfig(handlers["config"].Lines)

	switch classes.Kind(el.Class) {
	case KindRouter:
		table, err := ParseTable(el.Name, handlers["table"].Lines)
		if err != nil {
			return nil, err
		}
		el.Attrs = RouterAttrs{Table: table}
	case KindPhysical:
		attrs := PhysicalAttrs{}
		if len(el.Config) > 0 {
			attrs.Interface = el.Config[0]
		}
		el.Attrs = attrs
	case KindLocalhost:
		el.Attrs = LocalhostAttrs{}
	default:
		el.Attrs = GenericAttrs{Values: keywords(el.Config)}
	}
	return el, nil
}

// BuildElementGraph creates one vertex per listed element and one edge per
// output port connection.
func BuildElementGraph(snap *config.Snapshot, classes Classes, logger logging.Logger) (*ElementGraph, error) {
	g := &ElementGraph{
		elements: make(map[string]*Element, len(snap.Elements)),
		out:      make(map[string][]Edge, len(snap.Elements)),
	}
	ids := make(map[string]string, len(snap.Elements))
	for _, id := range snap.Elements {
		el, err := DecodeElement(id, snap.Nodes[id], classes)
		if err != nil {
			return nil, err
		}
		g.elements[el.Name] = el
		g.order = append(g.order, el.Name)
		ids[el.Name] = id
	}

	for _, name := range g.order {
		for _, pe := range ParsePorts(snap.Value(ids[name], "ports")) {
			if _, ok := g.elements[pe.Target]; !ok {
				logger.Debugf("ignoring edge %s[%d] -> %s: unknown element", name, pe.Port, pe.Target)
				continue
			}
			g.out[name] = append(g.out[name], Edge{
				From: name,
				To:   pe.Target,
				Port: pe.Port,
				Link: LinkID(name, pe.Port),
			})
		}
	}
	return g, nil
}

type searchKind int

const (
	deadEnd searchKind = iota
	found
	ambiguous
)

type searchResult struct {
	kind      searchKind
	terminal  string
	via       []string
	terminals []string
}

type frame struct {
	name   string
	parent string
}

// subtree follows successor edges from start until elements satisfying
// terminal are reached. The origin is never revisited and every element is
// expanded at most once, so cycles terminate.
func (g *ElementGraph) subtree(origin, start string, terminal func(*Element) bool) searchResult {
	visited := map[string]bool{origin: true}
	parent := make(map[string]string)
	var terminals []string

	stack := []frame{{name: start}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[f.name] {
			continue
		}
		visited[f.name] = true
		parent[f.name] = f.parent

		el, ok := g.elements[f.name]
		if !ok {
			continue
		}
		if terminal(el) {
			terminals = append(terminals, f.name)
			continue
		}
		succ := g.out[f.name]
		for i := len(succ) - 1; i >= 0; i-- {
			if !visited[succ[i].To] {
				stack = append(stack, frame{name: succ[i].To, parent: f.name})
			}
		}
	}

	switch len(terminals) {
	case 0:
		return searchResult{kind: deadEnd}
	case 1:
		var via []string
		for n := parent[terminals[0]]; n != ""; n = parent[n] {
			via = append([]string{n}, via...)
		}
		return searchResult{kind: found, terminal: terminals[0], via: via}
	default:
		return searchResult{kind: ambiguous, terminals: terminals}
	}
}
