// Package linkctl applies validated link and route mutations to a running
// Click router.
package linkctl

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/DrC0ns0le/clickctl/internal/click/config"
	"github.com/DrC0ns0le/clickctl/internal/metrics"
	"github.com/DrC0ns0le/clickctl/internal/route"
	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

const (
	// DefaultUDPSource is the traffic generator element of the standard
	// templates.
	DefaultUDPSource = "source"

	udpPacketBits = 8000
	routeHandler  = "set"
	activeHandler = "active"
)

var (
	delayKeys    = []string{"latency", "delay"}
	capacityKeys = []string{"bandwidth", "rate"}

	routerPrefix = regexp.MustCompile(`^[0-9]+`)
	rateRe       = regexp.MustCompile(`^([1-9][0-9]*) *([GKMgkm]?)([Bb])ps`)
)

// PortResolver finds the output port a router uses toward a neighbour.
type PortResolver interface {
	Port(router, neighbor string) (int, error)
}

// Anycaster computes per-router next hops toward the nearest advertiser.
type Anycaster interface {
	AnycastSPF(advertisers []string, randomize bool) ([]route.Hop, error)
}

type Options struct {
	Store   *config.Store
	Ports   PortResolver
	Anycast Anycaster
	Logger  logging.Logger
}

// Controller validates every mutation against a freshly parsed handler
// schema before writing it.
type Controller struct {
	store   *config.Store
	ports   PortResolver
	anycast Anycaster
	flapper *route.Flapper
	logger  logging.Logger

	mu         sync.Mutex
	udpRunning bool
}

func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = logging.NewDefaultLogger()
	}
	c := &Controller{
		store:   opts.Store,
		ports:   opts.Ports,
		anycast: opts.Anycast,
		logger:  opts.Logger.With("component", "linkctl"),
	}
	c.flapper = route.NewFlapper(func(f route.Flap, nextHop string) error {
		return c.updateRoute(f.Router, f.Prefix, "", nextHop)
	}, opts.Logger)
	return c
}

// Flapper exposes the route flap task.
func (c *Controller) Flapper() *route.Flapper { return c.flapper }

func (c *Controller) observe(op string, err error) error {
	metrics.LinkOperations.WithLabelValues(op, metrics.Result(err)).Inc()
	if err != nil {
		c.logger.Errorf("%s failed: %v", op, err)
	}
	return err
}

func (c *Controller) refresh() error {
	if err := c.store.Parse(true); err != nil {
		return fmt.Errorf("unable to refresh click configuration: %w", err)
	}
	return nil
}

// keys returns the handler names of node, failing with ErrBadLink when the
// element does not exist.
func (c *Controller) keys(node string) ([]string, error) {
	keys, err := c.store.Keys(node)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, &ValidationError{Node: node, Err: ErrBadLink}
		}
		return nil, err
	}
	return keys, nil
}

// choose picks the first of prefs that node exposes.
func (c *Controller) choose(node string, prefs ...string) (string, error) {
	keys, err := c.keys(node)
	if err != nil {
		return "", err
	}
	for _, k := range prefs {
		if slices.Contains(keys, k) {
			return k, nil
		}
	}
	return "", &ValidationError{Node: node, Keys: prefs, Available: keys, Err: ErrKeyNotFound}
}

func (c *Controller) set(node, key, value string) error {
	if _, err := c.choose(node, key); err != nil {
		return err
	}
	return c.store.SetValue(node, key, value)
}

// UpdateClickConfig writes value to node.key after checking both exist.
func (c *Controller) UpdateClickConfig(node, key, value string) error {
	return c.observe("update_click_config", c.updateClickConfig(node, key, value))
}

func (c *Controller) updateClickConfig(node, key, value string) error {
	if err := c.refresh(); err != nil {
		return err
	}
	return c.set(node, key, value)
}

func bandwidthElement(link string) string { return link + "_bw" }

func (c *Controller) UpdateDelay(link, delay string) error {
	return c.observe("update_delay", c.updatePreferred(bandwidthElement(link), delay, delayKeys))
}

func (c *Controller) UpdateCapacity(link, capacity string) error {
	return c.observe("update_capacity", c.updatePreferred(bandwidthElement(link), capacity, capacityKeys))
}

func (c *Controller) updatePreferred(node, value string, prefs []string) error {
	if err := c.refresh(); err != nil {
		return err
	}
	key, err := c.choose(node, prefs...)
	if err != nil {
		return err
	}
	c.logger.Infof("setting %s.%s to %s", node, key, value)
	return c.store.SetValue(node, key, value)
}

func (c *Controller) UpdateLossProbability(link, loss string) error {
	return c.observe("update_loss", c.updateClickConfig(link+"_loss", "drop_prob", loss))
}

// field is one handler write of a multi-field mutation.
type field struct {
	key   string
	value *string
}

// TargetedLoss configures the {link}_TL element. Nil fields are left as they
// are.
type TargetedLoss struct {
	Prefix      *string `json:"prefix,omitempty"`
	Destination *string `json:"destination,omitempty"`
	Source      *string `json:"source,omitempty"`
	ClearDrops  *string `json:"clear_drops,omitempty"`
	Burst       *string `json:"burst,omitempty"`
	DropProb    *string `json:"drop_prob,omitempty"`
	Active      bool    `json:"active"`
}

func (t TargetedLoss) fields() []field {
	return []field{
		{"prefix", t.Prefix},
		{"dest", t.Destination},
		{"source", t.Source},
		{"clear_drops", t.ClearDrops},
		{"burst", t.Burst},
		{"drop_prob", t.DropProb},
	}
}

// SimpleReorder configures the {link}_SR element.
type SimpleReorder struct {
	Timeout      *string `json:"timeout,omitempty"`
	Packets      *string `json:"packets,omitempty"`
	SamplingProb *string `json:"sampling_prob,omitempty"`
	Active       bool    `json:"active"`
}

func (s SimpleReorder) fields() []field {
	return []field{
		{"timeout", s.Timeout},
		{"packets", s.Packets},
		{"sampling_prob", s.SamplingProb},
	}
}

// UpdateTargetedLoss writes each given field then the active flag. A failed
// field aborts the update; earlier fields stay applied.
func (c *Controller) UpdateTargetedLoss(link string, tl TargetedLoss) error {
	return c.observe("update_targeted_loss", c.writeFields(link+"_TL", tl.fields(), tl.Active))
}

func (c *Controller) UpdateSimpleReorder(link string, sr SimpleReorder) error {
	return c.observe("update_simple_reorder", c.writeFields(link+"_SR", sr.fields(), sr.Active))
}

func (c *Controller) writeFields(node string, fields []field, active bool) error {
	if err := c.refresh(); err != nil {
		return err
	}
	if _, err := c.keys(node); err != nil {
		return err
	}
	for _, f := range fields {
		if f.value == nil {
			continue
		}
		c.logger.Debugf("setting %s.%s to %q", node, f.key, *f.value)
		if err := c.store.SetValue(node, f.key, *f.value); err != nil {
			return err
		}
	}
	return c.store.SetValue(node, activeHandler, strconv.FormatBool(active))
}

// RouterName maps testbed node names that start with digits to their Click
// router element.
func RouterName(name string) string {
	if m := routerPrefix.FindString(name); m != "" {
		return "router" + m
	}
	return name
}

// UpdateRoute installs ipAddr on router toward nextHop, or out of port when
// port is given.
func (c *Controller) UpdateRoute(router, ipAddr, port, nextHop string) error {
	return c.observe("update_route", c.updateRoute(router, ipAddr, port, nextHop))
}

func (c *Controller) updateRoute(router, ipAddr, port, nextHop string) error {
	router = RouterName(router)
	if port == "" {
		if c.ports == nil {
			return fmt.Errorf("no router graph to resolve %s -> %s", router, nextHop)
		}
		nextHop = RouterName(nextHop)
		p, err := c.ports.Port(router, nextHop)
		if err != nil {
			return fmt.Errorf("cannot find link between %s and %s: %w", router, nextHop, err)
		}
		port = strconv.Itoa(p)
	}
	return c.updateClickConfig(router, routeHandler, ipAddr+" "+port)
}

// UpdateRoutes installs ipAddr along path, each router pointing at the next.
// Every hop is attempted.
func (c *Controller) UpdateRoutes(path []string, ipAddr string) error {
	var errs []error
	for i := 0; i+1 < len(path); i++ {
		if err := c.updateRoute(path[i], ipAddr, "", path[i+1]); err != nil {
			errs = append(errs, err)
		}
	}
	return c.observe("update_routes", errors.Join(errs...))
}

// AnycastHijack points prefix at the nearest advertiser on every router that
// has a route handler.
func (c *Controller) AnycastHijack(prefix string, advertisers []string, randomStart bool) error {
	return c.observe("anycast_hijack", c.anycastHijack(prefix, advertisers, randomStart))
}

func (c *Controller) anycastHijack(prefix string, advertisers []string, randomStart bool) error {
	if c.anycast == nil {
		return fmt.Errorf("no router graph for anycast")
	}
	hops, err := c.anycast.AnycastSPF(advertisers, randomStart)
	if err != nil {
		return err
	}
	if err := c.refresh(); err != nil {
		return err
	}
	snap := c.store.Snapshot()

	var errs []error
	for _, hop := range hops {
		if hop.NextHop == "" || !snap.Has(hop.Vertex, routeHandler) {
			continue
		}
		if err := c.updateRoute(hop.Vertex, prefix, "", hop.NextHop); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StartRouteFlaps alternates each flap between its two next hops every
// period. A positive duration stops flapping once elapsed.
func (c *Controller) StartRouteFlaps(flaps []route.Flap, period, duration time.Duration) error {
	return c.observe("start_route_flaps", c.flapper.Start(flaps, period, duration))
}

func (c *Controller) StopRouteFlaps() error {
	if !c.flapper.Stop() {
		c.logger.Infof("route flaps were not running")
	}
	return c.observe("stop_route_flaps", nil)
}

// LinkUpdate sets delay, capacity and loss on several links at once. Each
// value list is empty (left alone), a single value for every link, or one
// value per link.
type LinkUpdate struct {
	Links      []string `json:"links"`
	Delays     []string `json:"delays,omitempty"`
	Capacities []string `json:"capacities,omitempty"`
	Losses     []string `json:"losses,omitempty"`
}

func pick(values []string, i int) (string, bool) {
	switch len(values) {
	case 0:
		return "", false
	case 1:
		return values[0], true
	default:
		return values[i], true
	}
}

func (u LinkUpdate) validate() error {
	for name, values := range map[string][]string{"delays": u.Delays, "capacities": u.Capacities, "losses": u.Losses} {
		if n := len(values); n > 1 && n != len(u.Links) {
			return fmt.Errorf("%w: %d %s for %d links", ErrMismatch, n, name, len(u.Links))
		}
	}
	return nil
}

// UpdateLinks stops at the first failed write.
func (c *Controller) UpdateLinks(u LinkUpdate) error {
	return c.observe("update_links", c.updateLinks(u))
}

func (c *Controller) updateLinks(u LinkUpdate) error {
	if err := u.validate(); err != nil {
		return err
	}
	for i, link := range u.Links {
		if v, ok := pick(u.Delays, i); ok {
			if err := c.updatePreferred(bandwidthElement(link), v, delayKeys); err != nil {
				return err
			}
		}
		if v, ok := pick(u.Capacities, i); ok {
			if err := c.updatePreferred(bandwidthElement(link), v, capacityKeys); err != nil {
				return err
			}
		}
		if v, ok := pick(u.Losses, i); ok {
			if err := c.updateClickConfig(link+"_loss", "drop_prob", v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Controller) StartUDPTraffic(node string) error {
	return c.observe("start_udp", c.setUDPActive(node, true))
}

func (c *Controller) StopUDPTraffic(node string) error {
	return c.observe("stop_udp", c.setUDPActive(node, false))
}

func (c *Controller) setUDPActive(node string, active bool) error {
	if node == "" {
		node = DefaultUDPSource
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.updateClickConfig(node, activeHandler, strconv.FormatBool(active))
	c.udpRunning = active && err == nil
	return err
}

// PacketRate converts a rate such as "100Mbps" or "5 KBps" into 1000 byte
// packets per second.
func PacketRate(rate string) (int, error) {
	m := rateRe.FindStringSubmatch(rate)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRate, rate)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRate, rate)
	}
	factor := 1.0
	switch strings.ToUpper(m[2]) {
	case "G":
		factor = 1e9
	case "M":
		factor = 1e6
	case "K":
		factor = 1e3
	}
	if m[3] == "B" {
		factor *= 8
	}
	return int(math.Floor(float64(n) * factor / udpPacketBits)), nil
}

// SetUDPRate pauses a running generator while its rate changes.
func (c *Controller) SetUDPRate(rate, node string) error {
	return c.observe("set_udp_rate", c.setUDPRate(rate, node))
}

func (c *Controller) setUDPRate(rate, node string) error {
	pps, err := PacketRate(rate)
	if err != nil {
		return err
	}
	if node == "" {
		node = DefaultUDPSource
	}

	c.mu.Lock()
	wasRunning := c.udpRunning
	c.mu.Unlock()

	if wasRunning {
		if err := c.setUDPActive(node, false); err != nil {
			return err
		}
	}
	if err := c.updateClickConfig(node, "rate", strconv.Itoa(pps)); err != nil {
		return err
	}
	if wasRunning {
		return c.setUDPActive(node, true)
	}
	return nil
}
