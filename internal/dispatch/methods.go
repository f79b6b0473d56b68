package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/DrC0ns0le/clickctl/internal/click/process"
	"github.com/DrC0ns0le/clickctl/internal/linkctl"
	"github.com/DrC0ns0le/clickctl/internal/route"
	"github.com/DrC0ns0le/clickctl/internal/system"
)

// decoder keeps the first argument error so handlers can decode every field
// before checking.
type decoder struct {
	a   Args
	err error
}

func (d *decoder) keep(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *decoder) str(key, def string) string {
	s, err := d.a.String(key, def)
	d.keep(err)
	return s
}

func (d *decoder) required(key string) string {
	s, err := d.a.RequireString(key)
	d.keep(err)
	return s
}

func (d *decoder) optional(key string) *string {
	s, err := d.a.Optional(key)
	d.keep(err)
	return s
}

func (d *decoder) boolean(key string, def bool) bool {
	b, err := d.a.Bool(key, def)
	d.keep(err)
	return b
}

func (d *decoder) strings(key string) []string {
	s, err := d.a.Strings(key)
	d.keep(err)
	return s
}

func (d *decoder) duration(key string, def time.Duration) time.Duration {
	v, err := d.a.Duration(key, def)
	d.keep(err)
	return v
}

func (d *decoder) flaps(key string) []route.Flap {
	list, err := d.a.List(key)
	if err != nil {
		d.keep(err)
		return nil
	}
	flaps := make([]route.Flap, 0, len(list))
	for i, item := range list {
		f, err := decodeFlap(item)
		if err != nil {
			d.keep(fmt.Errorf("%w: %s[%d]: %v", ErrBadArgument, key, i, err))
			return nil
		}
		flaps = append(flaps, f)
	}
	return flaps
}

// decodeFlap accepts [prefix, router, next_hop_a, next_hop_b] or the object
// form.
func decodeFlap(v any) (route.Flap, error) {
	switch t := v.(type) {
	case []any:
		if len(t) != 4 {
			return route.Flap{}, fmt.Errorf("want 4 fields, got %d", len(t))
		}
		fields := make([]string, 4)
		for i, f := range t {
			s, err := stringify("flap", f)
			if err != nil {
				return route.Flap{}, err
			}
			fields[i] = s
		}
		return route.Flap{Prefix: fields[0], Router: fields[1], NextHopA: fields[2], NextHopB: fields[3]}, nil
	case map[string]any:
		d := &decoder{a: Args(t)}
		f := route.Flap{
			Prefix:   d.required("prefix"),
			Router:   d.required("router"),
			NextHopA: d.required("next_hop_a"),
			NextHopB: d.required("next_hop_b"),
		}
		return f, d.err
	default:
		return route.Flap{}, fmt.Errorf("unexpected %T", v)
	}
}

type methods struct {
	node *system.Node
}

// NewNodeDispatcher registers every command the node supports.
func NewNodeDispatcher(node *system.Node) *Dispatcher {
	d := New(node.Logger)
	m := &methods{node: node}

	for name, h := range map[string]HandlerFunc{
		"updateDelay":           m.links(m.updateDelay),
		"updateCapacity":        m.links(m.updateCapacity),
		"updateLossProbability": m.links(m.updateLossProbability),
		"updateTargetedLoss":    m.links(m.updateTargetedLoss),
		"updateSimpleReorder":   m.links(m.updateSimpleReorder),
		"updateClickConfig":     m.links(m.updateClickConfig),
		"updateLinks":           m.links(m.updateLinks),
		"updateRoute":           m.links(m.updateRoute),
		"updateRoutes":          m.links(m.updateRoutes),
		"anycastHijack":         m.links(m.anycastHijack),
		"startRouteFlaps":       m.links(m.startRouteFlaps),
		"flapForDuration":       m.links(m.flapForDuration),
		"stopRouteFlaps":        m.links(m.stopRouteFlaps),
		"startUDPTraffic":       m.links(m.startUDPTraffic),
		"stopUDPTraffic":        m.links(m.stopUDPTraffic),
		"setUDPRate":            m.links(m.setUDPRate),

		"startClick": m.startClick,
		"stopClick":  m.stopClick,

		"setConfig": m.setConfig,

		"getRouteTables":     m.getRouteTables,
		"getPointToPoint":    m.getPointToPoint,
		"getTopologyUpdates": m.getTopologyUpdates,
		"getNetworkEdgeMap":  m.getNetworkEdgeMap,
		"getNodeTypes":       m.getNodeTypes,
		"getNeighbors":       m.getNeighbors,
	} {
		d.Register(name, h)
	}
	return d
}

type linkHandler func(ctx context.Context, c *linkctl.Controller, d *decoder) (any, error)

// links decodes the arguments and fails on nodes without a Click router.
func (m *methods) links(h linkHandler) HandlerFunc {
	return func(ctx context.Context, a Args) (any, error) {
		if m.node.Links == nil {
			return nil, route.ErrNotClick
		}
		return h(ctx, m.node.Links, &decoder{a: a})
	}
}

func (m *methods) updateDelay(_ context.Context, c *linkctl.Controller, d *decoder) (any, error) {
	link, delay := d.required("link"), d.str("delay", "0.0ms")
	if d.err != nil {
		return nil, d.err
	}
	return nil, c.UpdateDelay(link, delay)
}

func (m *methods) updateCapacity(_ context.Context, c *linkctl.Controller, d *decoder) (any, error) {
	link, capacity := d.required("link"), d.str("capacity", "1Gbps")
	if d.err != nil {
		return nil, d.err
	}
	return nil, c.UpdateCapacity(link, capacity)
}

func (m *methods) updateLossProbability(_ context.Context, c *linkctl.Controller, d *decoder) (any, error) {
	link, loss := d.required("link"), d.str("loss", "0.0")
	if d.err != nil {
		return nil, d.err
	}
	return nil, c.UpdateLossProbability(link, loss)
}

func (m *methods) updateTargetedLoss(_ context.Context, c *linkctl.Controller, d *decoder) (any, error) {
	link := d.required("link")
	tl := linkctl.TargetedLoss{
		Prefix:      d.optional("prefix"),
		Destination: d.optional("destination"),
		Source:      d.optional("source"),
		ClearDrops:  d.optional("clear_drops"),
		Burst:       d.optional("burst"),
		DropProb:    d.optional("drop_prob"),
		Active:      d.boolean("active", true),
	}
	if d.err != nil {
		return nil, d.err
	}
	return nil, c.UpdateTargetedLoss(link, tl)
}

func (m *methods) updateSimpleReorder(_ context.Context, c *linkctl.Controller, d *decoder) (any, error) {
	link := d.required("link")
	sr := linkctl.SimpleReorder{
		Timeout:      d.optional("timeout"),
		Packets:      d.optional("packets"),
		SamplingProb: d.optional("sampling_prob"),
		Active:       d.boolean("active", true),
	}
	if d.err != nil {
		return nil, d.err
	}
	return nil, c.UpdateSimpleReorder(link, sr)
}

func (m *methods) updateClickConfig(_ context.Context, c *linkctl.Controller, d *decoder) (any, error) {
	node, key, value := d.required("node"), d.required("key"), d.required("value")
	if d.err != nil {
		return nil, d.err
	}
	return nil, c.UpdateClickConfig(node, key, value)
}

func (m *methods) updateLinks(_ context.Context, c *linkctl.Controller, d *decoder) (any, error) {
	u := linkctl.LinkUpdate{
		Links:      d.strings("links"),
		Delays:     d.strings("delays"),
		Capacities: d.strings("capacities"),
		Losses:     d.strings("losses"),
	}
	if d.err != nil {
		return nil, d.err
	}
	return nil, c.UpdateLinks(u)
}

func (m *methods) updateRoute(_ context.Context, c *linkctl.Controller, d *decoder) (any, error) {
	router, ip := d.required("router"), d.required("ip_addr")
	port, nextHop := d.str("port", ""), d.str("next_hop", "")
	if d.err != nil {
		return nil, d.err
	}
	if port == "" && nextHop == "" {
		return nil, fmt.Errorf("%w: one of port or next_hop is required", ErrBadArgument)
	}
	return nil, c.UpdateRoute(router, ip, port, nextHop)
}

func (m *methods) updateRoutes(_ context.Context, c *linkctl.Controller, d *decoder) (any, error) {
	path, ip := d.strings("path"), d.required("ip_addr")
	if d.err != nil {
		return nil, d.err
	}
	return nil, c.UpdateRoutes(path, ip)
}

func (m *methods) anycastHijack(_ context.Context, c *linkctl.Controller, d *decoder) (any, error) {
	prefix, advertisers, random := d.required("prefix"), d.strings("advertisers"), d.boolean("random_start", false)
	if d.err != nil {
		return nil, d.err
	}
	return nil, c.AnycastHijack(prefix, advertisers, random)
}

func (m *methods) startRouteFlaps(_ context.Context, c *linkctl.Controller, d *decoder) (any, error) {
	flaps, period := d.flaps("flaps"), d.duration("rate", 0)
	if d.err != nil {
		return nil, d.err
	}
	return nil, c.StartRouteFlaps(flaps, period, 0)
}

func (m *methods) flapForDuration(_ context.Context, c *linkctl.Controller, d *decoder) (any, error) {
	flaps, period, duration := d.flaps("flaps"), d.duration("rate", 0), d.duration("duration", 0)
	if d.err != nil {
		return nil, d.err
	}
	if duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrBadArgument)
	}
	return nil, c.StartRouteFlaps(flaps, period, duration)
}

func (m *methods) stopRouteFlaps(_ context.Context, c *linkctl.Controller, _ *decoder) (any, error) {
	return nil, c.StopRouteFlaps()
}

func (m *methods) startUDPTraffic(_ context.Context, c *linkctl.Controller, d *decoder) (any, error) {
	node := d.str("node", linkctl.DefaultUDPSource)
	if d.err != nil {
		return nil, d.err
	}
	return nil, c.StartUDPTraffic(node)
}

func (m *methods) stopUDPTraffic(_ context.Context, c *linkctl.Controller, d *decoder) (any, error) {
	node := d.str("node", linkctl.DefaultUDPSource)
	if d.err != nil {
		return nil, d.err
	}
	return nil, c.StopUDPTraffic(node)
}

func (m *methods) setUDPRate(_ context.Context, c *linkctl.Controller, d *decoder) (any, error) {
	rate, node := d.str("rate", "100Mbps"), d.str("node", linkctl.DefaultUDPSource)
	if d.err != nil {
		return nil, d.err
	}
	return nil, c.SetUDPRate(rate, node)
}

// setConfig writes key on the chain between two router graph vertices.
func (m *methods) setConfig(_ context.Context, a Args) (any, error) {
	if m.node.Topology == nil {
		return nil, route.ErrNotClick
	}
	d := &decoder{a: a}
	nodeA, nodeB := d.required("node_a"), d.required("node_b")
	key, value := d.required("key"), d.required("value")
	if d.err != nil {
		return nil, d.err
	}
	return nil, m.node.Topology.SetConfig(nodeA, nodeB, key, value)
}

func (m *methods) startClick(ctx context.Context, a Args) (any, error) {
	if m.node.Process == nil {
		return nil, fmt.Errorf("click process management is disabled")
	}
	mode, err := m.clickMode(a)
	if err != nil {
		return nil, err
	}
	return nil, m.node.Process.Start(ctx, mode)
}

// clickMode picks the runtime from the dpdk and user_mode flags, falling back
// to the configured mode when neither is given.
func (m *methods) clickMode(a Args) (process.Mode, error) {
	_, hasUser := a["user_mode"]
	_, hasDPDK := a["dpdk"]
	if !hasUser && !hasDPDK && m.node.Config != nil {
		return process.ParseMode(m.node.Config.ClickMode)
	}
	d := &decoder{a: a}
	userMode, dpdk := d.boolean("user_mode", false), d.boolean("dpdk", true)
	if d.err != nil {
		return "", d.err
	}
	switch {
	case dpdk:
		return process.ModeDPDK, nil
	case userMode:
		return process.ModeUser, nil
	}
	return process.ModeKernel, nil
}

func (m *methods) stopClick(ctx context.Context, _ Args) (any, error) {
	if m.node.Process == nil {
		return nil, fmt.Errorf("click process management is disabled")
	}
	return nil, m.node.Process.Stop(ctx)
}

func (m *methods) getRouteTables(ctx context.Context, _ Args) (any, error) {
	return m.node.Engine.RouteTables(ctx)
}

func (m *methods) getPointToPoint(ctx context.Context, _ Args) (any, error) {
	return m.node.Engine.PointToPoint(ctx)
}

func (m *methods) getTopologyUpdates(context.Context, Args) (any, error) {
	return m.node.Engine.TopologyUpdates()
}

func (m *methods) getNetworkEdgeMap(ctx context.Context, _ Args) (any, error) {
	return m.node.Engine.NetworkEdges(ctx)
}

func (m *methods) getNodeTypes(context.Context, Args) (any, error) {
	return m.node.Engine.NodeTypes(), nil
}

func (m *methods) getNeighbors(ctx context.Context, _ Args) (any, error) {
	if m.node.Neighbors == nil {
		return nil, fmt.Errorf("neighbour discovery is disabled")
	}
	return m.node.Neighbors.Neighbors(ctx)
}
