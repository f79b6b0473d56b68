package netctl

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
	"go4.org/netipx"
	"golang.org/x/sys/unix"
)

var ErrRouteNotFound = fmt.Errorf("route not found")

// Route is a kernel route reduced to the fields route views need.
type Route struct {
	Dst   netip.Prefix
	Gw    netip.Addr
	Src   netip.Addr
	Iface string
	Local bool
}

// MainRoutes returns the IPv4 routes of the main table.
func MainRoutes() ([]Route, error) {
	filter := &netlink.Route{
		Table: unix.RT_TABLE_MAIN,
	}
	routes, err := netlink.RouteListFiltered(netlink.FAMILY_V4, filter, netlink.RT_FILTER_TABLE)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %v", err)
	}

	names := make(map[int]string)
	result := make([]Route, 0, len(routes))
	for _, r := range routes {
		result = append(result, convertRoute(r, names))
	}
	return result, nil
}

// RouteTo asks the kernel which route it would use for dst.
func RouteTo(dst netip.Addr) (Route, error) {
	routes, err := netlink.RouteGet(net.IP(dst.AsSlice()))
	if err != nil {
		return Route{}, fmt.Errorf("failed to get route: %v", err)
	}
	if len(routes) == 0 {
		return Route{}, ErrRouteNotFound
	}

	return ResolveRoute(dst, routes[0], make(map[int]string)), nil
}

// ResolveRoute converts the kernel's answer for dst. A directly connected
// destination is its own next hop. names caches interface names by index.
func ResolveRoute(dst netip.Addr, nr netlink.Route, names map[int]string) Route {
	r := convertRoute(nr, names)
	if !r.Dst.IsValid() {
		r.Dst = netip.PrefixFrom(dst, dst.BitLen())
	}
	if !r.Gw.IsValid() && !r.Local {
		r.Gw = dst
	}
	return r
}

func convertRoute(r netlink.Route, names map[int]string) Route {
	out := Route{
		Local: r.Type == unix.RTN_LOCAL,
		Iface: linkName(r.LinkIndex, names),
	}
	if r.Dst != nil {
		out.Dst, _ = netipx.FromStdIPNet(r.Dst)
	} else if r.Table == unix.RT_TABLE_MAIN {
		// default route
		out.Dst = netip.PrefixFrom(netip.IPv4Unspecified(), 0)
	}
	if r.Gw != nil {
		out.Gw, _ = netipx.FromStdIP(r.Gw)
	}
	if r.Src != nil {
		out.Src, _ = netipx.FromStdIP(r.Src)
	}
	return out
}

func linkName(index int, names map[int]string) string {
	if index == 0 {
		return ""
	}
	if name, ok := names[index]; ok {
		return name
	}
	link, err := netlink.LinkByIndex(index)
	if err != nil {
		return ""
	}
	names[index] = link.Attrs().Name
	return names[index]
}
