// Package hosts maps addresses found in router tables and interface
// configuration to testbed host identities.
package hosts

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"
)

const DefaultHostsFile = "/etc/hosts"

// Entry is one /etc/hosts line. Names[0] is the primary name.
type Entry struct {
	Addr  netip.Addr
	Names []string
}

func (e Entry) Primary() string {
	if len(e.Names) == 0 {
		return ""
	}
	return e.Names[0]
}

func (e Entry) Aliases() []string {
	if len(e.Names) < 2 {
		return nil
	}
	return e.Names[1:]
}

// ParseHosts reads hosts(5) content. Lines with unparseable addresses are
// skipped.
func ParseHosts(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		addr, err := netip.ParseAddr(fields[0])
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Addr: addr.Unmap(), Names: fields[1:]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read hosts: %w", err)
	}
	return entries, nil
}

func LoadHosts(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open hosts file: %w", err)
	}
	defer f.Close()
	return ParseHosts(f)
}
