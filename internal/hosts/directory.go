package hosts

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go4.org/netipx"

	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

var ErrUnknownHost = fmt.Errorf("host not found")

const (
	reverseTTL      = 5 * time.Minute
	cleanupInterval = 10 * time.Minute
)

// Resolver is the reverse DNS fallback for addresses not in the hosts file.
type Resolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

type Options struct {
	Path     string
	Naming   Naming
	Resolver Resolver
	Logger   logging.Logger
}

// Directory answers identity queries from a hosts file, reloading it when its
// modification time changes.
type Directory struct {
	path     string
	naming   Naming
	resolver Resolver
	logger   logging.Logger
	reverse  *cache.Cache

	mu      sync.Mutex
	entries []Entry
	mtime   time.Time
}

func NewDirectory(opts Options) *Directory {
	if opts.Path == "" {
		opts.Path = DefaultHostsFile
	}
	if opts.Naming == nil {
		opts.Naming = SuffixNaming{}
	}
	if opts.Resolver == nil {
		opts.Resolver = net.DefaultResolver
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDefaultLogger()
	}
	return &Directory{
		path:     opts.Path,
		naming:   opts.Naming,
		resolver: opts.Resolver,
		logger:   opts.Logger.With("component", "hosts"),
		reverse:  cache.New(reverseTTL, cleanupInterval),
	}
}

func (d *Directory) load() ([]Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fi, err := os.Stat(d.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat hosts file: %w", err)
	}
	if d.entries != nil && fi.ModTime().Equal(d.mtime) {
		return d.entries, nil
	}
	entries, err := LoadHosts(d.path)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	if d.entries != nil {
		d.reverse.Flush()
	}
	d.entries = entries
	d.mtime = fi.ModTime()
	return entries, nil
}

// Entries returns the current hosts file content.
func (d *Directory) Entries() ([]Entry, error) {
	return d.load()
}

// Reverse resolves addr through the hosts file first and reverse DNS second.
func (d *Directory) Reverse(ctx context.Context, addr netip.Addr) (Identity, error) {
	addr = addr.Unmap()
	key := addr.String()

	entries, err := d.load()
	if err != nil {
		return Identity{}, err
	}
	if v, ok := d.reverse.Get(key); ok {
		return v.(Identity), nil
	}

	for _, e := range entries {
		if e.Addr == addr {
			id := d.naming.Identity(e)
			d.reverse.SetDefault(key, id)
			return id, nil
		}
	}

	names, err := d.resolver.LookupAddr(ctx, key)
	if err != nil || len(names) == 0 {
		d.logger.Debugf("reverse lookup of %s failed: %v", key, err)
		return Identity{}, fmt.Errorf("%w: %s", ErrUnknownHost, key)
	}
	for i := range names {
		names[i] = strings.TrimSuffix(names[i], ".")
	}
	id := d.naming.Identity(Entry{Addr: addr, Names: names})
	d.reverse.SetDefault(key, id)
	return id, nil
}

// NeighborInSubnet returns the first host, other than self, whose address is
// inside p. This is how the far end of a point-to-point interface is found.
func (d *Directory) NeighborInSubnet(p netip.Prefix, self netip.Addr) (Identity, error) {
	entries, err := d.load()
	if err != nil {
		return Identity{}, err
	}
	p = p.Masked()
	for _, e := range entries {
		if e.Addr == self.Unmap() || !p.Contains(e.Addr) {
			continue
		}
		return d.naming.Identity(e), nil
	}
	return Identity{}, fmt.Errorf("%w: no neighbor in %s", ErrUnknownHost, p)
}

// KnownHosts lists every hosts file address outside exclude, skipping
// loopback and multicast entries.
func (d *Directory) KnownHosts(exclude *netipx.IPSet) ([]netip.Addr, error) {
	entries, err := d.load()
	if err != nil {
		return nil, err
	}
	seen := make(map[netip.Addr]struct{}, len(entries))
	var addrs []netip.Addr
	for _, e := range entries {
		if e.Addr.IsLoopback() || e.Addr.IsMulticast() || e.Addr.IsUnspecified() {
			continue
		}
		if exclude != nil && exclude.Contains(e.Addr) {
			continue
		}
		if _, ok := seen[e.Addr]; ok {
			continue
		}
		seen[e.Addr] = struct{}{}
		addrs = append(addrs, e.Addr)
	}
	return addrs, nil
}

// ControlNets builds the set of management networks excluded from routing
// views.
func ControlNets(prefixes []string) (*netipx.IPSet, error) {
	var b netipx.IPSetBuilder
	for _, s := range prefixes {
		p, err := netip.ParsePrefix(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("invalid control network %q: %w", s, err)
		}
		b.AddPrefix(p.Masked())
	}
	return b.IPSet()
}
