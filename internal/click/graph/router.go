package graph

import (
	"context"
	"net/netip"

	"github.com/DrC0ns0le/clickctl/internal/hosts"
	"github.com/DrC0ns0le/clickctl/internal/system/netctl"
	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

// HostResolver maps addresses to host identities.
type HostResolver interface {
	NeighborInSubnet(p netip.Prefix, self netip.Addr) (hosts.Identity, error)
	Reverse(ctx context.Context, addr netip.Addr) (hosts.Identity, error)
}

// Vertex is a router element or a host synthesized behind a physical element.
type Vertex struct {
	Name    string
	Kind    Kind
	Element *Element
}

// RouterEdge is a collapsed element chain between two router graph vertices.
// Link is the egress link on From, PeerLink the link name on the To side.
type RouterEdge struct {
	From     string
	To       string
	Port     int
	Link     string
	PeerLink string
	// Via lists the intermediate elements in chain order.
	Via []string
	// Terminal is the element the chain ended at.
	Terminal string
}

type RouterGraph struct {
	order    []string
	vertices map[string]*Vertex
	out      map[string][]RouterEdge
	in       map[string][]string
}

func newRouterGraph() *RouterGraph {
	return &RouterGraph{
		vertices: make(map[string]*Vertex),
		out:      make(map[string][]RouterEdge),
		in:       make(map[string][]string),
	}
}

func (g *RouterGraph) addVertex(v *Vertex) {
	if _, ok := g.vertices[v.Name]; ok {
		return
	}
	g.vertices[v.Name] = v
	g.order = append(g.order, v.Name)
}

func (g *RouterGraph) addEdge(e RouterEdge) {
	if g.HasEdge(e.From, e.To, e.Link) {
		return
	}
	g.out[e.From] = append(g.out[e.From], e)
	if !contains(g.in[e.To], e.From) {
		g.in[e.To] = append(g.in[e.To], e.From)
	}
}

func (g *RouterGraph) Has(name string) bool {
	_, ok := g.vertices[name]
	return ok
}

func (g *RouterGraph) Vertex(name string) (*Vertex, bool) {
	v, ok := g.vertices[name]
	return v, ok
}

// Vertices are returned in insertion order.
func (g *RouterGraph) Vertices() []*Vertex {
	vs := make([]*Vertex, 0, len(g.order))
	for _, name := range g.order {
		vs = append(vs, g.vertices[name])
	}
	return vs
}

func (g *RouterGraph) Edges(from string) []RouterEdge {
	return g.out[from]
}

// AllEdges lists every edge grouped by source vertex order.
func (g *RouterGraph) AllEdges() []RouterEdge {
	var edges []RouterEdge
	for _, name := range g.order {
		edges = append(edges, g.out[name]...)
	}
	return edges
}

// Predecessors lists vertices with an edge into name.
func (g *RouterGraph) Predecessors(name string) []string {
	return g.in[name]
}

// Edge returns the first edge from -> to.
func (g *RouterGraph) Edge(from, to string) (RouterEdge, bool) {
	for _, e := range g.out[from] {
		if e.To == to {
			return e, true
		}
	}
	return RouterEdge{}, false
}

// HasEdge reports an edge from -> to on link. An empty link matches any.
func (g *RouterGraph) HasEdge(from, to, link string) bool {
	for _, e := range g.out[from] {
		if e.To == to && (link == "" || e.Link == link) {
			return true
		}
	}
	return false
}

func (g *RouterGraph) Len() int { return len(g.order) }

type builder struct {
	elements   *ElementGraph
	hosts      HostResolver
	interfaces netctl.Interfaces
	logger     logging.Logger
}

func (b *builder) terminal(el *Element) bool {
	k := el.Kind()
	return k == KindRouter || k == KindPhysical
}

// build collapses the element graph into the router graph. An ambiguous
// subtree aborts the build; dead ends are skipped.
func (b *builder) build() (*RouterGraph, error) {
	g := newRouterGraph()

	for _, el := range b.elements.Elements() {
		if el.Kind() != KindRouter {
			continue
		}
		g.addVertex(&Vertex{Name: el.Name, Kind: KindRouter, Element: el})

		for _, e := range b.elements.Successors(el.Name) {
			res := b.elements.subtree(el.Name, e.To, b.terminal)
			switch res.kind {
			case deadEnd:
				b.logger.Debugf("dead end from %s via %s", el.Name, e.Link)
				continue
			case ambiguous:
				return nil, &InconsistencyError{Origin: el.Name, Neighbor: e.To, Terminals: res.terminals}
			}

			edge := RouterEdge{
				From:     el.Name,
				Port:     e.Port,
				Link:     e.Link,
				Terminal: res.terminal,
			}
			edge.Via = res.via

			term, _ := b.elements.Element(res.terminal)
			if term.Kind() == KindRouter {
				edge.To = term.Name
				g.addEdge(edge)
				continue
			}

			id, err := b.resolvePhysical(term)
			if err != nil {
				b.logger.Warnf("unable to resolve neighbor behind %s: %v", term.Name, err)
				continue
			}
			edge.To = id.Name
			edge.PeerLink = id.Link
			if _, ok := b.elements.Element(id.Name); !ok {
				g.addVertex(&Vertex{Name: id.Name, Kind: KindPhysical})
				g.addEdge(RouterEdge{
					From:     id.Name,
					To:       el.Name,
					Port:     -1,
					Link:     id.Link,
					PeerLink: e.Link,
				})
			}
			g.addEdge(edge)
		}
	}

	// router to router edges learn their far link from the reverse edge
	for _, name := range g.order {
		for i, e := range g.out[name] {
			if e.PeerLink != "" {
				continue
			}
			if rev, ok := g.Edge(e.To, e.From); ok {
				g.out[name][i].PeerLink = rev.Link
			}
		}
	}
	return g, nil
}

func (b *builder) resolvePhysical(el *Element) (hosts.Identity, error) {
	attrs, _ := el.Attrs.(PhysicalAttrs)
	prefix, err := b.interfaces.Prefix(attrs.Interface)
	if err != nil {
		return hosts.Identity{}, err
	}
	return b.hosts.NeighborInSubnet(prefix, prefix.Addr())
}
