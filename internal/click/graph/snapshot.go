package graph

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/cespare/xxhash"

	"github.com/DrC0ns0le/clickctl/internal/click/config"
	"github.com/DrC0ns0le/clickctl/internal/hosts"
)

// Snapshot is one immutable build of both graphs together with the
// configuration they were derived from.
type Snapshot struct {
	Config   *config.Snapshot
	Elements *ElementGraph
	Routers  *RouterGraph
	BuiltAt  time.Time

	dpdk     bool
	nodeName string
	hosts    HostResolver
}

type TableRoute struct {
	Dst     string `json:"dst"`
	Netmask string `json:"netmask"`
	Gw      string `json:"gw"`
	Iface   string `json:"iface"`
}

// RouteTables projects the table of every router vertex. Synthesized
// physical vertices have no table and are omitted.
func (s *Snapshot) RouteTables() map[string][]TableRoute {
	tables := make(map[string][]TableRoute)
	for _, v := range s.Routers.Vertices() {
		if v.Element == nil {
			continue
		}
		table := v.Element.Table()
		if len(table) == 0 {
			continue
		}
		routes := make([]TableRoute, 0, len(table))
		for _, r := range table {
			tr := TableRoute{
				Dst:     r.Dst.String(),
				Netmask: Netmask(r.Dst),
				Iface:   r.Link,
			}
			if r.Gw.IsValid() {
				tr.Gw = r.Gw.String()
			}
			routes = append(routes, tr)
		}
		tables[v.Name] = routes
	}
	return tables
}

// Netmask renders the prefix length of p in dotted form.
func Netmask(p netip.Prefix) string {
	return net.IP(net.CIDRMask(p.Bits(), p.Addr().BitLen())).String()
}

type P2PRoute struct {
	NextHopAddr string `json:"next_hop_addr"`
	NextHopLink string `json:"next_hop_link"`
	NextHopName string `json:"next_hop_name"`
	DstAddr     string `json:"dst_addr"`
	DstName     string `json:"dst_name"`
	DstLink     string `json:"dst_link"`
	SrcAddr     string `json:"src_addr"`
	SrcName     string `json:"src_name"`
	SrcLink     string `json:"src_link"`
	SrcIface    string `json:"src_iface"`
}

// Narrowest returns the most specific entry containing addr. Entries of
// equal length keep table order, the first one wins.
func Narrowest(table []RoutingEntry, addr netip.Addr) (RoutingEntry, bool) {
	var (
		best RoutingEntry
		ok   bool
	)
	for _, r := range table {
		if !r.Dst.Masked().Contains(addr) {
			continue
		}
		if !ok || r.Dst.Bits() > best.Dst.Bits() {
			best, ok = r, true
		}
	}
	return best, ok
}

// PointToPoint resolves, for every router and every known host, the route
// and neighbor used to reach that host.
func (s *Snapshot) PointToPoint(ctx context.Context, known []netip.Addr) map[string][]P2PRoute {
	tables := make(map[string][]P2PRoute)
	for _, dst := range known {
		var (
			dstID  hosts.Identity
			looked bool
		)
		for _, v := range s.Routers.Vertices() {
			if v.Element == nil {
				continue
			}
			route, ok := Narrowest(v.Element.Table(), dst)
			if !ok {
				continue
			}

			p2p := P2PRoute{
				DstAddr:  dst.String(),
				SrcAddr:  route.Dst.Addr().String(),
				SrcName:  v.Name,
				SrcLink:  route.Link,
				SrcIface: route.Link,
			}
			if route.Gw.IsValid() {
				p2p.NextHopAddr = route.Gw.String()
			}
			for _, e := range s.Routers.Edges(v.Name) {
				if e.Link == route.Link {
					p2p.NextHopLink = e.PeerLink
					p2p.NextHopName = e.To
					break
				}
			}

			if !looked {
				dstID, looked = s.reverse(ctx, dst), true
			}
			p2p.DstName, p2p.DstLink = dstID.Name, dstID.Link
			tables[v.Name] = append(tables[v.Name], p2p)
		}
	}
	return tables
}

func (s *Snapshot) reverse(ctx context.Context, addr netip.Addr) hosts.Identity {
	if s.hosts == nil {
		return hosts.Identity{}
	}
	id, _ := s.hosts.Reverse(ctx, addr)
	return id
}

// ClickTopology lists router graph adjacencies as (from, to) pairs.
func (s *Snapshot) ClickTopology() [][2]string {
	var pairs [][2]string
	for _, e := range s.Routers.AllEdges() {
		pairs = append(pairs, [2]string{e.From, e.To})
	}
	return pairs
}

type NetworkEdge struct {
	ToLink  string `json:"to_link"`
	Nbr     string `json:"nbr"`
	NbrHost string `json:"nbr_host"`
}

// NetworkEdgeMap maps every physical host attached to this node to the
// routers facing it. Without physical vertices (DPDK routers) the hosts are
// found from table gateways instead.
func (s *Snapshot) NetworkEdgeMap(ctx context.Context) map[string][]NetworkEdge {
	edges := make(map[string][]NetworkEdge)
	if !s.dpdk {
		for _, v := range s.Routers.Vertices() {
			if v.Kind != KindPhysical {
				continue
			}
			list := []NetworkEdge{}
			for _, e := range s.Routers.Edges(v.Name) {
				list = append(list, NetworkEdge{ToLink: e.Link, Nbr: e.To, NbrHost: s.nodeName})
			}
			edges[v.Name] = list
		}
		return edges
	}

	type key struct {
		host string
		edge NetworkEdge
	}
	seen := make(map[key]bool)
	for _, v := range s.Routers.Vertices() {
		if v.Element == nil {
			continue
		}
		for _, r := range v.Element.Table() {
			if !r.Gw.IsValid() || s.hosts == nil {
				continue
			}
			id, err := s.hosts.Reverse(ctx, r.Gw)
			if err != nil {
				continue
			}
			if nbr, ok := s.Routers.Vertex(id.Name); ok && nbr.Kind == KindRouter {
				continue
			}
			ne := NetworkEdge{ToLink: id.Link, Nbr: v.Name, NbrHost: s.nodeName}
			if seen[key{id.Name, ne}] {
				continue
			}
			seen[key{id.Name, ne}] = true
			edges[id.Name] = append(edges[id.Name], ne)
		}
	}
	return edges
}

// Port returns the output port router uses toward neighbor.
func (s *Snapshot) Port(router, neighbor string) (int, error) {
	e, ok := s.Routers.Edge(router, neighbor)
	if !ok {
		return 0, fmt.Errorf("%w: %s -> %s", ErrNoEdge, router, neighbor)
	}
	return e.Port, nil
}

// Fingerprint hashes router adjacency and tables for change detection.
func (s *Snapshot) Fingerprint() uint64 {
	h := xxhash.New()
	for _, v := range s.Routers.Vertices() {
		fmt.Fprintf(h, "v %s %s\n", v.Name, v.Kind)
		for _, e := range s.Routers.Edges(v.Name) {
			fmt.Fprintf(h, "e %s %s %d %s %s\n", e.From, e.To, e.Port, e.Link, e.PeerLink)
		}
		if v.Element == nil {
			continue
		}
		for _, r := range v.Element.Table() {
			fmt.Fprintf(h, "r %s %s %d\n", r.Dst, r.Gw, r.Port)
		}
	}
	return h.Sum64()
}
