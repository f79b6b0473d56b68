package route

import (
	"fmt"
	"math/rand/v2"
)

var (
	ErrNoAdvertisers = fmt.Errorf("no anycast advertisers given")
	ErrUnknownVertex = fmt.Errorf("vertex not in router graph")
)

// Adjacency is the part of the router graph anycast needs.
type Adjacency interface {
	Has(name string) bool
	// Predecessors lists the vertices with an edge into name.
	Predecessors(name string) []string
}

// Hop is the next hop a vertex uses for an anycast prefix. Advertisers
// originate the prefix and have no next hop.
type Hop struct {
	Vertex  string `json:"vertex"`
	NextHop string `json:"next_hop"`
}

type visit struct {
	vertex  string
	nextHop string
}

// AnycastSPF assigns every vertex that can reach an advertiser to the nearest
// one. All advertisers share one FIFO queue so their traversals advance level
// by level, and each vertex is claimed once: the first traversal to arrive
// owns it. Ties between equally distant advertisers go to the one listed
// first, which randomize shuffles.
func AnycastSPF(g Adjacency, advertisers []string, randomize bool) ([]Hop, error) {
	if len(advertisers) == 0 {
		return nil, ErrNoAdvertisers
	}
	for _, a := range advertisers {
		if !g.Has(a) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVertex, a)
		}
	}

	order := append([]string(nil), advertisers...)
	if randomize {
		rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	queue := make([]visit, 0, len(order))
	for _, a := range order {
		queue = append(queue, visit{vertex: a})
	}

	claimed := make(map[string]bool)
	var hops []Hop
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		if claimed[v.vertex] {
			continue
		}
		claimed[v.vertex] = true
		hops = append(hops, Hop{Vertex: v.vertex, NextHop: v.nextHop})

		for _, p := range g.Predecessors(v.vertex) {
			if !claimed[p] {
				queue = append(queue, visit{vertex: p, nextHop: v.vertex})
			}
		}
	}
	return hops, nil
}
