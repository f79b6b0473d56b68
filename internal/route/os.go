package route

import (
	"context"
	"fmt"
	"net/netip"
	"os/exec"
	"regexp"
	"strings"

	"github.com/DrC0ns0le/clickctl/internal/system/netctl"
)

// OSRoutes reads the host routing table on nodes that do not run Click.
type OSRoutes interface {
	Table(ctx context.Context) ([]netctl.Route, error)
	Get(ctx context.Context, dst netip.Addr) (netctl.Route, error)
}

// NetlinkRoutes queries the kernel directly.
type NetlinkRoutes struct{}

func (NetlinkRoutes) Table(context.Context) ([]netctl.Route, error) {
	return netctl.MainRoutes()
}

func (NetlinkRoutes) Get(_ context.Context, dst netip.Addr) (netctl.Route, error) {
	return netctl.RouteTo(dst)
}

// CommandRoutes shells out to netstat and ip, for hosts where netlink is not
// available to the daemon.
type CommandRoutes struct {
	Run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

func (c CommandRoutes) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if c.Run == nil {
		return runCommand(ctx, name, args...)
	}
	return c.Run(ctx, name, args...)
}

func (c CommandRoutes) Table(ctx context.Context) ([]netctl.Route, error) {
	out, err := c.run(ctx, "netstat", "-rn")
	if err != nil {
		return nil, fmt.Errorf("netstat -rn failed: %w", err)
	}
	return ParseNetstat(string(out)), nil
}

func (c CommandRoutes) Get(ctx context.Context, dst netip.Addr) (netctl.Route, error) {
	out, err := c.run(ctx, "ip", "route", "get", dst.String())
	if err != nil {
		return netctl.Route{}, fmt.Errorf("ip route get %s failed: %w", dst, err)
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return ParseRouteGet(line)
}

var netstatLine = regexp.MustCompile(`^(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})\s+(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})\s+(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})\s+.+\s+(\w+)$`)

// ParseNetstat decodes `netstat -rn` output:
//
//	Destination     Gateway         Genmask         Flags   MSS Window  irtt Iface
//	0.0.0.0         192.168.1.254   0.0.0.0         UG        0 0          0 eth0
//	10.1.1.0        0.0.0.0         255.255.255.0   U         0 0          0 eth5
func ParseNetstat(out string) []netctl.Route {
	var routes []netctl.Route
	for _, line := range strings.Split(out, "\n") {
		m := netstatLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		dst, err1 := netip.ParseAddr(m[1])
		gw, err2 := netip.ParseAddr(m[2])
		mask, err3 := netip.ParseAddr(m[3])
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		r := netctl.Route{
			Dst:   netip.PrefixFrom(dst, maskLen(mask)),
			Iface: m[4],
		}
		if !gw.IsUnspecified() {
			r.Gw = gw
		}
		routes = append(routes, r)
	}
	return routes
}

func maskLen(mask netip.Addr) int {
	bits := 0
	for _, b := range mask.AsSlice() {
		for ; b&0x80 != 0; b <<= 1 {
			bits++
		}
	}
	return bits
}

// ParseRouteGet decodes the first line of `ip route get`:
//
//	10.0.2.2 dev eth2 src 10.0.2.1
//	local 10.0.2.1 dev lo src 10.0.2.1
//	10.0.5.2 via 10.0.4.2 dev eth1 src 10.0.4.1 realm 1
//
// Directly connected destinations use the destination as next hop.
func ParseRouteGet(line string) (netctl.Route, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return netctl.Route{}, fmt.Errorf("empty route get output")
	}

	var r netctl.Route
	switch fields[0] {
	case "local":
		r.Local = true
		fields = fields[1:]
	case "unicast", "broadcast", "multicast":
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return netctl.Route{}, fmt.Errorf("route get output %q has no destination", line)
	}
	dst, err := netip.ParseAddr(fields[0])
	if err != nil {
		return netctl.Route{}, fmt.Errorf("invalid destination in %q: %w", line, err)
	}
	r.Dst = netip.PrefixFrom(dst, dst.BitLen())

	for i := 1; i+1 < len(fields); i++ {
		value := fields[i+1]
		switch fields[i] {
		case "via":
			if r.Gw, err = netip.ParseAddr(value); err != nil {
				return netctl.Route{}, fmt.Errorf("invalid gateway in %q: %w", line, err)
			}
		case "dev":
			r.Iface = value
		case "src":
			if r.Src, err = netip.ParseAddr(value); err != nil {
				return netctl.Route{}, fmt.Errorf("invalid source in %q: %w", line, err)
			}
		default:
			continue
		}
		i++
	}
	if r.Iface == "" {
		return netctl.Route{}, fmt.Errorf("route get output %q has no device", line)
	}
	if !r.Gw.IsValid() {
		r.Gw = dst
	}
	return r, nil
}
