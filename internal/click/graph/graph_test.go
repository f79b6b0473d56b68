package graph

import (
	"context"
	"fmt"
	"net/netip"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrC0ns0le/clickctl/internal/click/config"
	"github.com/DrC0ns0le/clickctl/internal/click/transport/transporttest"
	"github.com/DrC0ns0le/clickctl/internal/hosts"
	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

type fakeHosts struct {
	neighbors map[netip.Prefix]hosts.Identity
	reverse   map[netip.Addr]hosts.Identity
}

func (f fakeHosts) NeighborInSubnet(p netip.Prefix, _ netip.Addr) (hosts.Identity, error) {
	if id, ok := f.neighbors[p.Masked()]; ok {
		return id, nil
	}
	return hosts.Identity{}, hosts.ErrUnknownHost
}

func (f fakeHosts) Reverse(_ context.Context, addr netip.Addr) (hosts.Identity, error) {
	if id, ok := f.reverse[addr]; ok {
		return id, nil
	}
	return hosts.Identity{}, hosts.ErrUnknownHost
}

type fakeInterfaces map[string]netip.Prefix

func (f fakeInterfaces) Prefix(token string) (netip.Prefix, error) {
	if p, ok := f[token]; ok {
		return p, nil
	}
	return netip.Prefix{}, fmt.Errorf("no interface %s", token)
}

var (
	nodeA = hosts.Identity{Addr: netip.MustParseAddr("10.0.1.2"), Name: "nodeA", Link: "nodeA-link0"}

	testHosts = fakeHosts{
		neighbors: map[netip.Prefix]hosts.Identity{netip.MustParsePrefix("10.0.1.0/24"): nodeA},
		reverse: map[netip.Addr]hosts.Identity{
			nodeA.Addr:                      nodeA,
			netip.MustParseAddr("10.0.1.5"): {Name: "nodeE", Link: "nodeE-link0"},
		},
	}
	testInterfaces = fakeInterfaces{"eth1": netip.MustParsePrefix("10.0.1.1/24")}
)

// element installs an element with its class, config and output wiring.
func element(m *transporttest.Memory, name, class, cfg string, outputs ...string) {
	m.Set(name, "class", "r", class)
	m.Set(name, "config", "r", cfg)
	ports := []string{"1 input", "push\t-\t-", fmt.Sprintf("%d outputs", len(outputs))}
	for _, target := range outputs {
		ports = append(ports, "push\t-\t[0] "+target)
	}
	m.Set(name, "ports", "r", ports...)
}

// testRouter wires two routers to each other and rt1 to a physical device:
//
//	rt1[0] -> q0 -> c0_bw -> td0 (eth1, nodeA)
//	rt1[1] -> l12 -> rt2,  rt2[0] -> l21 -> rt1
//	rt1[2] -> toh
func testRouter() *transporttest.Memory {
	m := transporttest.NewMemory()
	element(m, "rt1", "RadixIPLookup", "", "q0", "l12", "toh")
	m.Set("rt1", "table", "r",
		"10.0.0.0/8\t-\t0",
		"10.0.1.0/24\t10.0.1.2\t1",
		"10.0.9.1\t-\t2",
		"garbage",
	)
	m.Set("rt1", "set", "w")
	element(m, "rt2", "RadixIPLookup", "", "l21")
	m.Set("rt2", "table", "r", "10.0.1.0/24\t-\t0")
	element(m, "q0", "Queue", "1000", "c0_bw")
	element(m, "c0_bw", "BandwidthShaper", "10Mbps", "td0")
	m.Set("c0_bw", "rate", "rw", "10Mbps")
	element(m, "td0", "ToDevice", "eth1, BURST 8")
	element(m, "l12", "DelayShaper", "10ms", "rt2")
	m.Set("l12", "delay", "rw", "10ms")
	element(m, "l21", "DelayShaper", "10ms", "rt1")
	element(m, "toh", "ToHost", "")
	return m
}

func newTopology(t *testing.T, m *transporttest.Memory, dpdk bool) *Topology {
	t.Helper()
	store := config.NewStore(m, logging.Discard())
	return New(store, Options{
		Classes:    DefaultClasses(),
		Hosts:      testHosts,
		Interfaces: testInterfaces,
		DPDK:       dpdk,
		NodeName:   "pnode",
		Logger:     logging.Discard(),
	})
}

func TestParsePorts(t *testing.T) {
	edges := ParsePorts([]string{
		"1 input",
		"push\t-\tupstream [0]",
		"2 outputs",
		"push\t-\t[0] ThreadSafeQueue@93, [1] Discard@4",
		"push\t-\t-",
		"push\t-\t[0] ToHost@2",
	})
	assert.Equal(t, []PortEdge{
		{Port: 0, Target: "ThreadSafeQueue@93"},
		{Port: 0, Target: "Discard@4", TargetPort: 1},
		{Port: 2, Target: "ToHost@2"},
	}, edges)
}

func TestParseTable(t *testing.T) {
	table, err := ParseTable("rt", []string{
		"10.1.10.2/32\t-\t3",
		"10.0.2.0/24 10.0.0.2 1",
		"10.9.9.9 - 0",
		"header line",
	})
	require.NoError(t, err)
	require.Len(t, table, 3)
	assert.Equal(t, RoutingEntry{Dst: netip.MustParsePrefix("10.1.10.2/32"), Port: 3, Link: "rt-3"}, table[0])
	assert.Equal(t, netip.MustParseAddr("10.0.0.2"), table[1].Gw)
	assert.Equal(t, netip.MustParsePrefix("10.9.9.9/32"), table[2].Dst)

	_, err = ParseTable("rt", []string{"10.0.0.0/33 - 0"})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseConfig(t *testing.T) {
	assert.Equal(t, []string{"eth1", "BURST 8"}, ParseConfig([]string{"eth1, BUR", "ST 8,"}))
	assert.Equal(t, map[string]string{"BURST": "8"}, keywords([]string{"eth1", "BURST 8"}))
}

func TestRouterGraph(t *testing.T) {
	topo := newTopology(t, testRouter(), false)
	require.NoError(t, topo.Rebuild(true))
	snap, err := topo.Snapshot()
	require.NoError(t, err)

	names := []string{}
	for _, v := range snap.Routers.Vertices() {
		names = append(names, v.Name)
	}
	assert.Equal(t, []string{"rt1", "nodeA", "rt2"}, names)

	toA, ok := snap.Routers.Edge("rt1", "nodeA")
	require.True(t, ok)
	assert.Equal(t, RouterEdge{
		From: "rt1", To: "nodeA", Port: 0, Link: "rt1-0", PeerLink: "nodeA-link0",
		Via: []string{"q0", "c0_bw"}, Terminal: "td0",
	}, toA)

	back, ok := snap.Routers.Edge("nodeA", "rt1")
	require.True(t, ok)
	assert.Equal(t, "nodeA-link0", back.Link)
	assert.Equal(t, "rt1-0", back.PeerLink)

	r12, ok := snap.Routers.Edge("rt1", "rt2")
	require.True(t, ok)
	assert.Equal(t, "rt1-1", r12.Link)
	assert.Equal(t, "rt2-0", r12.PeerLink)
	assert.Equal(t, []string{"l12"}, r12.Via)

	// the ToHost output is a dead end
	assert.Len(t, snap.Routers.Edges("rt1"), 2)
	assert.ElementsMatch(t, []string{"rt2", "nodeA"}, snap.Routers.Predecessors("rt1"))

	port, err := topo.Port("rt1", "rt2")
	require.NoError(t, err)
	assert.Equal(t, 1, port)
	_, err = topo.Port("rt2", "nodeA")
	assert.ErrorIs(t, err, ErrNoEdge)

	assert.ElementsMatch(t, [][2]string{
		{"rt1", "nodeA"}, {"rt1", "rt2"}, {"nodeA", "rt1"}, {"rt2", "rt1"},
	}, snap.ClickTopology())
}

func TestDefaultHostResolver(t *testing.T) {
	store := config.NewStore(testRouter(), logging.Discard())
	topo := New(store, Options{Interfaces: testInterfaces, Logger: logging.Discard()})

	require.NotPanics(t, func() {
		require.NoError(t, topo.Rebuild(true))
	})
	snap, err := topo.Snapshot()
	require.NoError(t, err)
	_, ok := snap.Routers.Edge("rt1", "rt2")
	assert.True(t, ok)
}

func TestAmbiguousSubtree(t *testing.T) {
	m := testRouter()
	topo := newTopology(t, m, false)
	require.NoError(t, topo.Rebuild(true))
	before, _ := topo.Snapshot()

	// l12 now fans out to two different routers
	element(m, "rt3", "RadixIPLookup", "")
	element(m, "l12", "Tee", "2", "rt2", "rt3")
	err := topo.Rebuild(true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInconsistent)
	var ie *InconsistencyError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "rt1", ie.Origin)
	assert.ElementsMatch(t, []string{"rt2", "rt3"}, ie.Terminals)

	after, err := topo.Snapshot()
	require.NoError(t, err)
	assert.Same(t, before, after)
}

func TestSubtreeCycle(t *testing.T) {
	m := transporttest.NewMemory()
	element(m, "rt", "RadixIPLookup", "", "a")
	element(m, "a", "Queue", "", "b")
	element(m, "b", "Queue", "", "a", "rt")

	topo := newTopology(t, m, false)
	require.NoError(t, topo.Rebuild(true))
	snap, _ := topo.Snapshot()
	assert.Empty(t, snap.Routers.Edges("rt"))
}

func TestSubtreeJoinIsNotAmbiguous(t *testing.T) {
	m := transporttest.NewMemory()
	element(m, "rt1", "RadixIPLookup", "", "tee")
	element(m, "tee", "Tee", "", "a", "b")
	element(m, "a", "Queue", "", "rt2")
	element(m, "b", "Queue", "", "rt2")
	element(m, "rt2", "RadixIPLookup", "")

	topo := newTopology(t, m, false)
	require.NoError(t, topo.Rebuild(true))
	snap, _ := topo.Snapshot()
	e, ok := snap.Routers.Edge("rt1", "rt2")
	require.True(t, ok)
	assert.Equal(t, []string{"tee", "a"}, e.Via)
}

func TestRouteTables(t *testing.T) {
	topo := newTopology(t, testRouter(), false)
	tables, err := topo.RouteTables()
	require.NoError(t, err)

	require.Contains(t, tables, "rt1")
	assert.NotContains(t, tables, "nodeA")
	assert.Equal(t, TableRoute{Dst: "10.0.0.0/8", Netmask: "255.0.0.0", Iface: "rt1-0"}, tables["rt1"][0])
	assert.Equal(t, TableRoute{Dst: "10.0.1.0/24", Netmask: "255.255.255.0", Gw: "10.0.1.2", Iface: "rt1-1"}, tables["rt1"][1])
	assert.Equal(t, "255.255.255.255", tables["rt1"][2].Netmask)
}

func TestPointToPointNarrowest(t *testing.T) {
	topo := newTopology(t, testRouter(), false)
	p2p, err := topo.PointToPoint(context.Background(), []netip.Addr{netip.MustParseAddr("10.0.1.5")})
	require.NoError(t, err)

	require.Len(t, p2p["rt1"], 1)
	r := p2p["rt1"][0]
	assert.Equal(t, "rt1-1", r.SrcIface)
	assert.Equal(t, "rt2", r.NextHopName)
	assert.Equal(t, "rt2-0", r.NextHopLink)
	assert.Equal(t, "10.0.1.2", r.NextHopAddr)
	assert.Equal(t, "nodeE", r.DstName)
	assert.Equal(t, "nodeE-link0", r.DstLink)
	assert.Equal(t, "10.0.1.0", r.SrcAddr)

	require.Len(t, p2p["rt2"], 1)
	assert.Equal(t, "rt2-0", p2p["rt2"][0].SrcLink)
	assert.Equal(t, "rt1", p2p["rt2"][0].NextHopName)
}

func TestNarrowestProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	addr := netip.MustParseAddr("10.0.1.5")
	properties.Property("narrowest containing prefix wins, first on ties", prop.ForAll(
		func(lengths []int) bool {
			var table []RoutingEntry
			for i, bits := range lengths {
				p, _ := addr.Prefix(bits)
				table = append(table, RoutingEntry{Dst: p, Port: i, Link: LinkID("rt", i)})
			}
			best, ok := Narrowest(table, addr)
			if len(table) == 0 {
				return !ok
			}
			maxBits, first := -1, -1
			for i, bits := range lengths {
				if bits > maxBits {
					maxBits, first = bits, i
				}
			}
			return ok && best.Dst.Bits() == maxBits && best.Port == first
		},
		gen.SliceOf(gen.IntRange(0, 32)),
	))

	properties.TestingRun(t)
}

func TestNetworkEdgeMap(t *testing.T) {
	topo := newTopology(t, testRouter(), false)
	edges, err := topo.NetworkEdgeMap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string][]NetworkEdge{
		"nodeA": {{ToLink: "nodeA-link0", Nbr: "rt1", NbrHost: "pnode"}},
	}, edges)
}

func TestNetworkEdgeMapDPDK(t *testing.T) {
	m := transporttest.NewMemory()
	element(m, "rt1", "RadixIPLookup", "")
	m.Set("rt1", "table", "r",
		"10.0.1.0/24\t10.0.1.2\t0",
		"10.0.3.0/24\t10.0.1.2\t0",
		"10.0.4.0/24\t10.0.4.2\t1",
		"10.0.5.0/24\t-\t1",
	)

	topo := newTopology(t, m, true)
	edges, err := topo.NetworkEdgeMap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string][]NetworkEdge{
		"nodeA": {{ToLink: "nodeA-link0", Nbr: "rt1", NbrHost: "pnode"}},
	}, edges)
}

func TestSetConfig(t *testing.T) {
	m := testRouter()
	topo := newTopology(t, m, false)

	require.NoError(t, topo.SetConfig("rt1", "nodeA", "rate", "20Mbps"))
	assert.Equal(t, []transporttest.Write{{Node: "c0_bw", Key: "rate", Value: "20Mbps"}}, m.Writes())

	err := topo.SetConfig("rt1", "rt2", "rate", "1Mbps")
	assert.ErrorIs(t, err, config.ErrNotFound)

	err = topo.SetConfig("rt2", "nodeA", "rate", "1Mbps")
	assert.ErrorIs(t, err, ErrNoEdge)
}

func TestFingerprint(t *testing.T) {
	m := testRouter()
	topo := newTopology(t, m, false)
	require.NoError(t, topo.Rebuild(true))
	snap, _ := topo.Snapshot()
	first := snap.Fingerprint()

	require.NoError(t, topo.Rebuild(true))
	snap, _ = topo.Snapshot()
	assert.Equal(t, first, snap.Fingerprint())

	m.Set("rt2", "table", "r", "10.0.7.0/24\t-\t0")
	require.NoError(t, topo.Rebuild(true))
	snap, _ = topo.Snapshot()
	assert.NotEqual(t, first, snap.Fingerprint())
}
