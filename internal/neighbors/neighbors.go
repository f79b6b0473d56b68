// Package neighbors finds the hosts file entries that are one hop away.
package neighbors

import (
	"context"
	"flag"
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"golang.org/x/sync/errgroup"

	"github.com/DrC0ns0le/clickctl/internal/hosts"
	"github.com/DrC0ns0le/clickctl/internal/system/netctl"
	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

var (
	probeTimeout = flag.Duration("neighbors.timeout", 2*time.Second, "time to wait for a one hop echo reply")
	probeLimit   = flag.Int("neighbors.limit", 16, "concurrent neighbour probes")
)

// Prober reports whether addr answers within one hop.
type Prober interface {
	Probe(ctx context.Context, addr netip.Addr) (bool, error)
}

// Ping sends TTL 1 ICMP echoes, so only directly attached hosts reply.
type Ping struct {
	Count      int
	Timeout    time.Duration
	Privileged bool
}

func (p Ping) Probe(ctx context.Context, addr netip.Addr) (bool, error) {
	pinger, err := probing.NewPinger(addr.String())
	if err != nil {
		return false, err
	}
	pinger.SetPrivileged(p.Privileged)
	pinger.TTL = 1
	pinger.Count = p.Count
	if pinger.Count <= 0 {
		pinger.Count = 1
	}
	pinger.Interval = 100 * time.Millisecond
	pinger.Timeout = p.Timeout
	if pinger.Timeout <= 0 {
		pinger.Timeout = *probeTimeout
	}
	if err := pinger.RunWithContext(ctx); err != nil {
		return false, err
	}
	return pinger.Statistics().PacketsRecv > 0, nil
}

// HostSource lists the hosts file entries to probe.
type HostSource interface {
	Entries() ([]hosts.Entry, error)
}

type Options struct {
	Hosts  HostSource
	Prober Prober
	// Local lists this host's own addresses. Defaults to netlink.
	Local  func() ([]netip.Addr, error)
	Limit  int
	Logger logging.Logger
}

type Finder struct {
	hosts  HostSource
	prober Prober
	local  func() ([]netip.Addr, error)
	limit  int
	logger logging.Logger
}

func NewFinder(opts Options) *Finder {
	if opts.Prober == nil {
		opts.Prober = Ping{Privileged: true}
	}
	if opts.Local == nil {
		opts.Local = netctl.LocalAddresses
	}
	if opts.Limit <= 0 {
		opts.Limit = *probeLimit
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDefaultLogger()
	}
	return &Finder{
		hosts:  opts.Hosts,
		prober: opts.Prober,
		local:  opts.Local,
		limit:  opts.Limit,
		logger: opts.Logger.With("component", "neighbors"),
	}
}

// Neighbor is a hosts file entry that answered a one hop probe.
type Neighbor struct {
	Name string     `json:"name"`
	Addr netip.Addr `json:"addr"`
}

// Neighbors probes every non-local hosts file address and returns those that
// reply, sorted by name.
func (f *Finder) Neighbors(ctx context.Context) ([]Neighbor, error) {
	local, err := f.local()
	if err != nil {
		return nil, fmt.Errorf("unable to get local addresses: %w", err)
	}
	self := make(map[netip.Addr]bool, len(local))
	for _, a := range local {
		self[a] = true
	}

	entries, err := f.hosts.Entries()
	if err != nil {
		return nil, err
	}

	var (
		mu  sync.Mutex
		out []Neighbor
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.limit)
	for _, e := range entries {
		if self[e.Addr] || e.Addr.IsLoopback() || !e.Addr.Is4() {
			continue
		}
		g.Go(func() error {
			ok, err := f.prober.Probe(ctx, e.Addr)
			if err != nil {
				f.logger.Warnf("unable to probe %s: %v", e.Addr, err)
				return nil
			}
			if !ok {
				f.logger.Debugf("%s (%s) does not appear to be a one hop neighbor", e.Primary(), e.Addr)
				return nil
			}
			mu.Lock()
			out = append(out, Neighbor{Name: e.Primary(), Addr: e.Addr})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
