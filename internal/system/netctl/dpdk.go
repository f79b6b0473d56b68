package netctl

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"strings"
)

const (
	DefaultDPDKFile = "/tmp/ifconfig.json"
	dpdkPrefixLen   = 24
)

// DPDKInterface is one entry of the ifconfig dump written by DPDK routers,
// whose ports are invisible to the kernel.
type DPDKInterface struct {
	IP        string `json:"ip"`
	Interface string `json:"interface"`
	Netmask   string `json:"netmask,omitempty"`
}

type DPDK struct {
	entries []DPDKInterface
}

// DPDKMode reports whether a DPDK ifconfig dump is present.
func DPDKMode(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func LoadDPDK(path string) (*DPDK, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var entries []DPDKInterface
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &DPDK{entries: entries}, nil
}

// Addresses maps every DPDK port address to its interface name.
func (d *DPDK) Addresses() map[netip.Addr]string {
	m := make(map[netip.Addr]string, len(d.entries))
	for _, e := range d.entries {
		if addr, err := netip.ParseAddr(e.IP); err == nil {
			m[addr] = e.Interface
		}
	}
	return m
}

// Prefix matches token against interface names and addresses. Entries without
// a netmask are assumed to be /24.
func (d *DPDK) Prefix(token string) (netip.Prefix, error) {
	for _, e := range d.entries {
		if e.Interface != token && e.IP != token {
			continue
		}
		addr, err := netip.ParseAddr(e.IP)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid address %q for %s: %w", e.IP, e.Interface, err)
		}
		bits := dpdkPrefixLen
		if e.Netmask != "" {
			if bits, err = maskBits(e.Netmask); err != nil {
				return netip.Prefix{}, err
			}
		}
		return netip.PrefixFrom(addr, bits), nil
	}
	return netip.Prefix{}, fmt.Errorf("%w: %s", ErrNoAddress, token)
}

// maskBits accepts a dotted mask ("255.255.255.0") or a length ("24").
func maskBits(mask string) (int, error) {
	mask = strings.TrimPrefix(mask, "/")
	if m, err := netip.ParseAddr(mask); err == nil {
		bits := 0
		for _, b := range m.AsSlice() {
			for ; b&0x80 != 0; b <<= 1 {
				bits++
			}
		}
		return bits, nil
	}
	var bits int
	if _, err := fmt.Sscanf(mask, "%d", &bits); err != nil || bits < 0 || bits > 32 {
		return 0, fmt.Errorf("invalid netmask %q", mask)
	}
	return bits, nil
}
