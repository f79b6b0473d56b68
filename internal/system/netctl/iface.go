package netctl

import (
	"fmt"
	"net/netip"

	"github.com/vishvananda/netlink"
	"go4.org/netipx"
)

var ErrNoAddress = fmt.Errorf("no IPv4 address on interface")

// Interfaces resolves the interface token of an egress element, either an
// interface name or one of its addresses, to the address and prefix length
// configured on it.
type Interfaces interface {
	Prefix(token string) (netip.Prefix, error)
}

// Kernel resolves interfaces through netlink.
type Kernel struct{}

func (Kernel) Prefix(token string) (netip.Prefix, error) {
	if addr, err := netip.ParseAddr(token); err == nil {
		return prefixForAddr(addr)
	}

	link, err := netlink.LinkByName(token)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("failed to get interface %s: %w", token, err)
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("failed to list addresses on %s: %w", token, err)
	}
	for _, a := range addrs {
		if p, ok := netipx.FromStdIPNet(a.IPNet); ok {
			return p, nil
		}
	}
	return netip.Prefix{}, fmt.Errorf("%w: %s", ErrNoAddress, token)
}

func prefixForAddr(addr netip.Addr) (netip.Prefix, error) {
	addrs, err := netlink.AddrList(nil, netlink.FAMILY_V4)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("failed to list addresses: %w", err)
	}
	for _, a := range addrs {
		p, ok := netipx.FromStdIPNet(a.IPNet)
		if ok && p.Addr() == addr {
			return p, nil
		}
	}
	return netip.Prefix{}, fmt.Errorf("%w: %s", ErrNoAddress, addr)
}

// LocalAddresses lists every IPv4 address configured on this host.
func LocalAddresses() ([]netip.Addr, error) {
	addrs, err := netlink.AddrList(nil, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	out := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		if ip, ok := netipx.FromStdIP(a.IP); ok {
			out = append(out, ip)
		}
	}
	return out, nil
}
