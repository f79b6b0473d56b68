package hosts

import (
	"fmt"
	"net/netip"
	"strings"
)

// Identity is the resolved name of an address. Name is the canonical node
// name, Link names the address on that particular interface.
type Identity struct {
	Addr netip.Addr
	Name string
	Link string
}

// Naming derives an identity from the names bound to one address.
type Naming interface {
	Identity(e Entry) Identity
}

// SuffixNaming takes the first alias and strips its trailing "-<iface>"
// component, the convention of testbeds that register one alias per
// interface ("node-link0"). The primary name becomes the link.
type SuffixNaming struct{}

func (SuffixNaming) Identity(e Entry) Identity {
	id := Identity{Addr: e.Addr, Name: e.Primary(), Link: e.Primary()}
	if aliases := e.Aliases(); len(aliases) > 0 {
		name := aliases[0]
		if i := strings.LastIndexByte(name, '-'); i > 0 {
			name = name[:i]
		}
		id.Name = name
	}
	return id
}

// PrimaryNaming uses the primary name for both node and link.
type PrimaryNaming struct{}

func (PrimaryNaming) Identity(e Entry) Identity {
	return Identity{Addr: e.Addr, Name: e.Primary(), Link: e.Primary()}
}

func ParseNaming(s string) (Naming, error) {
	switch s {
	case "", "suffix":
		return SuffixNaming{}, nil
	case "primary":
		return PrimaryNaming{}, nil
	default:
		return nil, fmt.Errorf("unknown naming strategy %q", s)
	}
}
