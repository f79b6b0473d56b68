package neighbors

import (
	"context"
	"errors"
	"net/netip"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrC0ns0le/clickctl/internal/hosts"
	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

type entries []hosts.Entry

func (e entries) Entries() ([]hosts.Entry, error) { return e, nil }

type prober struct {
	up    map[netip.Addr]bool
	calls atomic.Int32
}

func (p *prober) Probe(_ context.Context, addr netip.Addr) (bool, error) {
	p.calls.Add(1)
	if addr == netip.MustParseAddr("10.0.9.9") {
		return false, errors.New("socket: operation not permitted")
	}
	return p.up[addr], nil
}

func entry(addr string, names ...string) hosts.Entry {
	return hosts.Entry{Addr: netip.MustParseAddr(addr), Names: names}
}

func TestNeighbors(t *testing.T) {
	p := &prober{up: map[netip.Addr]bool{
		netip.MustParseAddr("10.0.1.2"): true,
		netip.MustParseAddr("10.0.2.2"): true,
	}}
	f := NewFinder(Options{
		Hosts: entries{
			entry("127.0.0.1", "localhost"),
			entry("10.0.1.1", "self-link0", "self-0"),
			entry("10.0.2.2", "router2-link1", "router2-1"),
			entry("10.0.1.2", "router1-link0", "router1-0"),
			entry("10.0.5.5", "far-link0"),
			entry("10.0.9.9", "broken"),
		},
		Prober: p,
		Local: func() ([]netip.Addr, error) {
			return []netip.Addr{netip.MustParseAddr("10.0.1.1")}, nil
		},
		Logger: logging.Discard(),
	})

	got, err := f.Neighbors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Neighbor{
		{Name: "router1-link0", Addr: netip.MustParseAddr("10.0.1.2")},
		{Name: "router2-link1", Addr: netip.MustParseAddr("10.0.2.2")},
	}, got)
	assert.EqualValues(t, 4, p.calls.Load())
}

func TestNeighborsLocalFailure(t *testing.T) {
	f := NewFinder(Options{
		Hosts: entries{},
		Local: func() ([]netip.Addr, error) { return nil, errors.New("netlink down") },
	})
	_, err := f.Neighbors(context.Background())
	assert.Error(t, err)
}
