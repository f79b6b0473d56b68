package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrC0ns0le/clickctl/internal/click/config"
	"github.com/DrC0ns0le/clickctl/internal/click/transport/transporttest"
	"github.com/DrC0ns0le/clickctl/internal/linkctl"
	"github.com/DrC0ns0le/clickctl/internal/route"
	"github.com/DrC0ns0le/clickctl/internal/system"
	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

func testNode(m *transporttest.Memory) *system.Node {
	node := &system.Node{
		Config: system.DefaultConfig(),
		Engine: route.NewEngine(route.Options{NodeName: "n1", NodeTypes: []string{route.NodePhysical}, Logger: logging.Discard()}),
		Logger: logging.Discard(),
	}
	if m != nil {
		node.Links = linkctl.New(linkctl.Options{Store: config.NewStore(m, logging.Discard()), Logger: logging.Discard()})
	}
	return node
}

func TestCallMutation(t *testing.T) {
	m := transporttest.NewMemory().
		Set("l1_bw", "bandwidth", "rw", "1Gbps").
		Set("l1_loss", "drop_prob", "rw", "0")
	d := NewNodeDispatcher(testNode(m))

	res, err := d.Call(context.Background(), "updateCapacity", Args{"link": "l1", "capacity": "50Mbps"})
	require.NoError(t, err)
	assert.True(t, res.OK)

	res, err = d.Call(context.Background(), "updateLossProbability", Args{"link": "l1", "loss": 0.25})
	require.NoError(t, err)
	assert.True(t, res.OK)

	assert.Equal(t, []transporttest.Write{
		{Node: "l1_bw", Key: "bandwidth", Value: "50Mbps"},
		{Node: "l1_loss", Key: "drop_prob", Value: "0.25"},
	}, m.Writes())

	res, err = d.Call(context.Background(), "updateDelay", Args{"link": "l1"})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "key not found")

	res, err = d.Call(context.Background(), "updateDelay", Args{})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "link is required")
}

func TestCallUnknown(t *testing.T) {
	d := NewNodeDispatcher(testNode(nil))
	res, err := d.Call(context.Background(), "reboot", nil)
	assert.ErrorIs(t, err, ErrUnknownMethod)
	assert.False(t, res.OK)
}

func TestCallWithoutClick(t *testing.T) {
	d := NewNodeDispatcher(testNode(nil))

	res, err := d.Call(context.Background(), "updateDelay", Args{"link": "l1", "delay": "1ms"})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, route.ErrNotClick.Error(), res.Error)

	res, err = d.Call(context.Background(), "setConfig", Args{"node_a": "r1", "node_b": "r2", "key": "rate", "value": "1Mbps"})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, route.ErrNotClick.Error(), res.Error)

	res, err = d.Call(context.Background(), "getNodeTypes", nil)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, []string{route.NodePhysical}, res.Value)
}

func TestMethods(t *testing.T) {
	d := NewNodeDispatcher(testNode(nil))
	assert.Contains(t, d.Methods(), "anycastHijack")
	assert.Contains(t, d.Methods(), "startRouteFlaps")
	assert.IsNonDecreasing(t, d.Methods())
}

func TestArgs(t *testing.T) {
	a := Args{
		"s":     "x",
		"n":     2.0,
		"b":     "true",
		"list":  []any{"a", 3.0},
		"one":   "solo",
		"secs":  1.5,
		"dur":   "250ms",
		"null":  nil,
		"bad":   map[string]any{},
		"strsc": "2",
	}

	s, err := a.String("n", "")
	require.NoError(t, err)
	assert.Equal(t, "2", s)

	s, err = a.String("null", "def")
	require.NoError(t, err)
	assert.Equal(t, "def", s)

	_, err = a.String("bad", "")
	assert.ErrorIs(t, err, ErrBadArgument)

	p, err := a.Optional("missing")
	require.NoError(t, err)
	assert.Nil(t, p)

	b, err := a.Bool("b", false)
	require.NoError(t, err)
	assert.True(t, b)

	l, err := a.Strings("list")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "3"}, l)

	l, err = a.Strings("one")
	require.NoError(t, err)
	assert.Equal(t, []string{"solo"}, l)

	for key, want := range map[string]time.Duration{
		"secs":  1500 * time.Millisecond,
		"dur":   250 * time.Millisecond,
		"strsc": 2 * time.Second,
	} {
		got, err := a.Duration(key, 0)
		require.NoError(t, err)
		assert.Equal(t, want, got, key)
	}
}

func TestDecodeFlaps(t *testing.T) {
	d := &decoder{a: Args{"flaps": []any{
		[]any{"10.0.5.0/24", "router1", "router2", "router3"},
		map[string]any{"prefix": "10.0.6.0/24", "router": "1", "next_hop_a": "2", "next_hop_b": "3"},
	}}}
	flaps := d.flaps("flaps")
	require.NoError(t, d.err)
	assert.Equal(t, []route.Flap{
		{Prefix: "10.0.5.0/24", Router: "router1", NextHopA: "router2", NextHopB: "router3"},
		{Prefix: "10.0.6.0/24", Router: "1", NextHopA: "2", NextHopB: "3"},
	}, flaps)

	d = &decoder{a: Args{"flaps": []any{[]any{"10.0.5.0/24", "router1"}}}}
	d.flaps("flaps")
	assert.ErrorIs(t, d.err, ErrBadArgument)
}
