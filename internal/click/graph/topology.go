// Package graph derives the element wiring graph and the collapsed router
// graph of a running Click configuration.
package graph

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DrC0ns0le/clickctl/internal/click/config"
	"github.com/DrC0ns0le/clickctl/internal/hosts"
	"github.com/DrC0ns0le/clickctl/internal/metrics"
	"github.com/DrC0ns0le/clickctl/internal/system/netctl"
	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

type Options struct {
	Classes    Classes
	Hosts      HostResolver
	Interfaces netctl.Interfaces
	// DPDK selects gateway based neighbor discovery for the network edge map.
	DPDK     bool
	NodeName string
	Logger   logging.Logger
}

// Topology owns the current Snapshot and replaces it atomically on rebuild.
type Topology struct {
	store  *config.Store
	opts   Options
	logger logging.Logger

	mu   sync.Mutex
	snap atomic.Pointer[Snapshot]
}

func New(store *config.Store, opts Options) *Topology {
	if opts.Logger == nil {
		opts.Logger = logging.NewDefaultLogger()
	}
	if len(opts.Classes.Router) == 0 && len(opts.Classes.Physical) == 0 {
		opts.Classes = DefaultClasses()
	}
	if opts.Interfaces == nil {
		opts.Interfaces = netctl.Kernel{}
	}
	if opts.Hosts == nil {
		opts.Hosts = hosts.NewDirectory(hosts.Options{Logger: opts.Logger})
	}
	return &Topology{
		store:  store,
		opts:   opts,
		logger: opts.Logger.With("component", "topology"),
	}
}

func (t *Topology) Store() *config.Store { return t.store }

// Rebuild parses the configuration and builds both graphs. The published
// snapshot is replaced only when every step succeeds.
func (t *Topology) Rebuild(force bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap, err := t.build(force)
	metrics.TopologyRebuilds.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		t.logger.Errorf("topology rebuild failed: %v", err)
		return err
	}
	t.snap.Store(snap)
	metrics.TopologyVertices.WithLabelValues("element").Set(float64(snap.Elements.Len()))
	metrics.TopologyVertices.WithLabelValues("router").Set(float64(snap.Routers.Len()))
	return nil
}

func (t *Topology) build(force bool) (*Snapshot, error) {
	if err := t.store.Parse(force); err != nil {
		return nil, err
	}
	cfg := t.store.Snapshot()
	if cfg == nil {
		return nil, ErrNoSnapshot
	}
	if prev := t.snap.Load(); prev != nil && prev.Config == cfg {
		return prev, nil
	}

	elements, err := BuildElementGraph(cfg, t.opts.Classes, t.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build element graph: %w", err)
	}
	b := &builder{
		elements:   elements,
		hosts:      t.opts.Hosts,
		interfaces: t.opts.Interfaces,
		logger:     t.logger,
	}
	routers, err := b.build()
	if err != nil {
		return nil, fmt.Errorf("failed to build router graph: %w", err)
	}
	return &Snapshot{
		Config:   cfg,
		Elements: elements,
		Routers:  routers,
		BuiltAt:  time.Now(),
		dpdk:     t.opts.DPDK,
		nodeName: t.opts.NodeName,
		hosts:    t.opts.Hosts,
	}, nil
}

// Snapshot returns the published snapshot.
func (t *Topology) Snapshot() (*Snapshot, error) {
	snap := t.snap.Load()
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	return snap, nil
}

// Current rebuilds when the configuration changed and returns the result.
func (t *Topology) Current() (*Snapshot, error) {
	if err := t.Rebuild(false); err != nil {
		return nil, err
	}
	return t.Snapshot()
}

func (t *Topology) RouteTables() (map[string][]TableRoute, error) {
	snap, err := t.Current()
	if err != nil {
		return nil, err
	}
	return snap.RouteTables(), nil
}

func (t *Topology) PointToPoint(ctx context.Context, known []netip.Addr) (map[string][]P2PRoute, error) {
	snap, err := t.Current()
	if err != nil {
		return nil, err
	}
	return snap.PointToPoint(ctx, known), nil
}

func (t *Topology) ClickTopology() ([][2]string, error) {
	snap, err := t.Current()
	if err != nil {
		return nil, err
	}
	return snap.ClickTopology(), nil
}

func (t *Topology) NetworkEdgeMap(ctx context.Context) (map[string][]NetworkEdge, error) {
	snap, err := t.Current()
	if err != nil {
		return nil, err
	}
	return snap.NetworkEdgeMap(ctx), nil
}

func (t *Topology) Port(router, neighbor string) (int, error) {
	snap, err := t.Current()
	if err != nil {
		return 0, err
	}
	return snap.Port(router, neighbor)
}

// SetConfig writes key on the first element of the nodeA -> nodeB chain that
// exposes it.
func (t *Topology) SetConfig(nodeA, nodeB, key, value string) error {
	snap, err := t.Current()
	if err != nil {
		return err
	}
	e, ok := snap.Routers.Edge(nodeA, nodeB)
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrNoEdge, nodeA, nodeB)
	}
	for _, el := range e.Via {
		if snap.Config.Has(el, key) {
			t.logger.Debugf("setting %s.%s on path %s -> %s", el, key, nodeA, nodeB)
			return t.store.SetValue(el, key, value)
		}
	}
	return fmt.Errorf("no element between %s and %s exposes %s: %w", nodeA, nodeB, key, config.ErrNotFound)
}
