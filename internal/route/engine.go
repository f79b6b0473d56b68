// Package route exposes routing views of this node, from the Click router
// graph when one runs and from the host routing table otherwise, and computes
// anycast and route flap updates.
package route

import (
	"context"
	"flag"
	"fmt"
	"net/netip"
	"os"

	"go4.org/netipx"
	"golang.org/x/sync/errgroup"

	"github.com/DrC0ns0le/clickctl/internal/click/graph"
	"github.com/DrC0ns0le/clickctl/internal/hosts"
	"github.com/DrC0ns0le/clickctl/internal/system/netctl"
	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

const (
	NodeClick     = "click"
	NodeContainer = "container"
	NodePhysical  = "physical"

	DefaultContainersPath = "/var/containers"
)

var (
	ErrNotClick = fmt.Errorf("node does not run click")

	routeQueryLimit = flag.Int("route.query-limit", 8, "Concurrent per-destination route queries")
)

// Directory resolves testbed hosts.
type Directory interface {
	KnownHosts(exclude *netipx.IPSet) ([]netip.Addr, error)
	Reverse(ctx context.Context, addr netip.Addr) (hosts.Identity, error)
}

type Options struct {
	// Topology is nil on nodes without a Click router.
	Topology    *graph.Topology
	OS          OSRoutes
	Hosts       Directory
	ControlNets *netipx.IPSet
	NodeName    string
	NodeTypes   []string
	Logger      logging.Logger
}

type Engine struct {
	topology *graph.Topology
	os       OSRoutes
	hosts    Directory
	control  *netipx.IPSet
	nodeName string
	types    []string
	logger   logging.Logger
}

func NewEngine(opts Options) *Engine {
	if opts.OS == nil {
		opts.OS = NetlinkRoutes{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDefaultLogger()
	}
	if opts.ControlNets == nil {
		opts.ControlNets = &netipx.IPSet{}
	}
	return &Engine{
		topology: opts.Topology,
		os:       opts.OS,
		hosts:    opts.Hosts,
		control:  opts.ControlNets,
		nodeName: opts.NodeName,
		types:    opts.NodeTypes,
		logger:   opts.Logger.With("component", "route"),
	}
}

// DetectNodeTypes classifies the node: click when the click configuration
// path exists, container when it hosts containers, physical otherwise.
func DetectNodeTypes(clickPath, containersPath string) []string {
	var types []string
	if _, err := os.Stat(clickPath); err == nil {
		types = append(types, NodeClick)
	}
	if fi, err := os.Stat(containersPath); err == nil && fi.IsDir() {
		types = append(types, NodeContainer)
	} else {
		types = append(types, NodePhysical)
	}
	return types
}

func (e *Engine) NodeTypes() []string {
	return e.types
}

func (e *Engine) Topology() *graph.Topology {
	return e.topology
}

func (e *Engine) isClick() bool {
	return e.topology != nil
}

// isControl reports routes that belong to the management network or are not
// unicast data routes.
func (e *Engine) isControl(p netip.Prefix) bool {
	addr := p.Addr()
	if addr.IsMulticast() || addr.IsLoopback() {
		return true
	}
	return e.control.ContainsPrefix(p.Masked())
}

// RouteTables returns one table per Click router, or the host table keyed by
// node name.
func (e *Engine) RouteTables(ctx context.Context) (map[string][]graph.TableRoute, error) {
	if e.isClick() {
		return e.topology.RouteTables()
	}

	routes, err := e.os.Table(ctx)
	if err != nil {
		return nil, err
	}
	table := []graph.TableRoute{}
	for _, r := range routes {
		if !r.Dst.IsValid() || r.Local || e.isControl(r.Dst) {
			continue
		}
		tr := graph.TableRoute{
			Dst:     r.Dst.String(),
			Netmask: graph.Netmask(r.Dst),
			Iface:   r.Iface,
		}
		if r.Gw.IsValid() {
			tr.Gw = r.Gw.String()
		}
		table = append(table, tr)
	}
	return map[string][]graph.TableRoute{e.nodeName: table}, nil
}

func (e *Engine) knownHosts() ([]netip.Addr, error) {
	if e.hosts == nil {
		return nil, nil
	}
	return e.hosts.KnownHosts(e.control)
}

// PointToPoint returns, per router, how each known host is reached.
func (e *Engine) PointToPoint(ctx context.Context) (map[string][]graph.P2PRoute, error) {
	known, err := e.knownHosts()
	if err != nil {
		return nil, err
	}
	if e.isClick() {
		return e.topology.PointToPoint(ctx, known)
	}

	results := make([]*graph.P2PRoute, len(known))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*routeQueryLimit)
	for i, dst := range known {
		g.Go(func() error {
			r, err := e.os.Get(gctx, dst)
			if err != nil {
				e.logger.Debugf("no route to %s: %v", dst, err)
				return nil
			}
			results[i] = e.osPointToPoint(gctx, dst, r)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	routes := []graph.P2PRoute{}
	for _, r := range results {
		if r != nil {
			routes = append(routes, *r)
		}
	}
	return map[string][]graph.P2PRoute{e.nodeName: routes}, nil
}

func (e *Engine) osPointToPoint(ctx context.Context, dst netip.Addr, r netctl.Route) *graph.P2PRoute {
	p2p := &graph.P2PRoute{
		DstAddr:  dst.String(),
		SrcIface: r.Iface,
	}
	if id, err := e.reverse(ctx, dst); err == nil {
		p2p.DstName, p2p.DstLink = id.Name, id.Link
	}
	if r.Src.IsValid() {
		p2p.SrcAddr = r.Src.String()
		if id, err := e.reverse(ctx, r.Src); err == nil {
			p2p.SrcName, p2p.SrcLink = id.Name, id.Link
		}
	}
	if r.Gw.IsValid() {
		p2p.NextHopAddr = r.Gw.String()
		if id, err := e.reverse(ctx, r.Gw); err == nil {
			p2p.NextHopName, p2p.NextHopLink = id.Name, id.Link
		}
	}
	return p2p
}

func (e *Engine) reverse(ctx context.Context, addr netip.Addr) (hosts.Identity, error) {
	if e.hosts == nil {
		return hosts.Identity{}, hosts.ErrUnknownHost
	}
	return e.hosts.Reverse(ctx, addr)
}

type TopologyUpdate struct {
	Remove []string    `json:"remove"`
	Add    [][2]string `json:"add"`
}

// TopologyUpdates replaces this node in the testbed topology with its Click
// router adjacencies.
func (e *Engine) TopologyUpdates() (*TopologyUpdate, error) {
	if !e.isClick() {
		return nil, ErrNotClick
	}
	pairs, err := e.topology.ClickTopology()
	if err != nil {
		return nil, err
	}
	if pairs == nil {
		pairs = [][2]string{}
	}
	return &TopologyUpdate{Remove: []string{e.nodeName}, Add: pairs}, nil
}

func (e *Engine) NetworkEdges(ctx context.Context) (map[string][]graph.NetworkEdge, error) {
	if !e.isClick() {
		return nil, ErrNotClick
	}
	return e.topology.NetworkEdgeMap(ctx)
}

// AnycastSPF computes next hops toward the nearest advertiser over the
// current router graph.
func (e *Engine) AnycastSPF(advertisers []string, randomize bool) ([]Hop, error) {
	if !e.isClick() {
		return nil, ErrNotClick
	}
	snap, err := e.topology.Current()
	if err != nil {
		return nil, err
	}
	return AnycastSPF(snap.Routers, advertisers, randomize)
}
