package graph

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

type Kind int

const (
	KindGeneric Kind = iota
	KindRouter
	KindPhysical
	KindLocalhost
)

func (k Kind) String() string {
	switch k {
	case KindRouter:
		return "router"
	case KindPhysical:
		return "physical"
	case KindLocalhost:
		return "localhost"
	default:
		return "generic"
	}
}

// Classes names the element classes that play each role.
type Classes struct {
	Router    []string
	Physical  []string
	Localhost []string
}

func DefaultClasses() Classes {
	return Classes{
		Router:    []string{"RadixIPLookup"},
		Physical:  []string{"ToDevice"},
		Localhost: []string{"ToHost"},
	}
}

func (c Classes) Kind(class string) Kind {
	switch {
	case contains(c.Router, class):
		return KindRouter
	case contains(c.Physical, class):
		return KindPhysical
	case contains(c.Localhost, class):
		return KindLocalhost
	default:
		return KindGeneric
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Attrs holds the class specific part of an element.
type Attrs interface {
	kind() Kind
}

type RouterAttrs struct {
	Table []RoutingEntry
}

type PhysicalAttrs struct {
	// Interface is the first configuration token: a device name or address.
	Interface string
}

type LocalhostAttrs struct{}

// GenericAttrs keeps keyword arguments ("BURST 8") of any other class.
type GenericAttrs struct {
	Values map[string]string
}

func (RouterAttrs) kind() Kind    { return KindRouter }
func (PhysicalAttrs) kind() Kind  { return KindPhysical }
func (LocalhostAttrs) kind() Kind { return KindLocalhost }
func (GenericAttrs) kind() Kind   { return KindGeneric }

type Element struct {
	Name   string
	Class  string
	Config []string
	Attrs  Attrs
}

func (e *Element) Kind() Kind {
	if e.Attrs == nil {
		return KindGeneric
	}
	return e.Attrs.kind()
}

// Table returns the routing table of a router element, nil otherwise.
func (e *Element) Table() []RoutingEntry {
	if r, ok := e.Attrs.(RouterAttrs); ok {
		return r.Table
	}
	return nil
}

type RoutingEntry struct {
	Dst  netip.Prefix
	Gw   netip.Addr
	Port int
	Link string
}

// LinkID names output port of an element.
func LinkID(element string, port int) string {
	return fmt.Sprintf("%s-%d", element, port)
}

// ParseConfig joins the config handler lines and splits them on commas.
func ParseConfig(lines []string) []string {
	var tokens []string
	for _, tok := range strings.Split(strings.Join(lines, ""), ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// ParseTable decodes "dst gw port" lines. A gateway of "-" means directly
// connected, a dst without a length is a host route. Lines that do not have
// three fields are ignored.
func ParseTable(element string, lines []string) ([]RoutingEntry, error) {
	var table []RoutingEntry
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		dst, err := parseDst(fields[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %s.table %q: %v", ErrMalformed, element, line, err)
		}
		entry := RoutingEntry{Dst: dst}
		if fields[1] != "-" {
			if entry.Gw, err = netip.ParseAddr(fields[1]); err != nil {
				return nil, fmt.Errorf("%w: %s.table %q: %v", ErrMalformed, element, line, err)
			}
		}
		if entry.Port, err = strconv.Atoi(fields[2]); err != nil {
			return nil, fmt.Errorf("%w: %s.table %q: %v", ErrMalformed, element, line, err)
		}
		entry.Link = LinkID(element, entry.Port)
		table = append(table, entry)
	}
	return table, nil
}

func parseDst(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		return netip.ParsePrefix(s)
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

var (
	portsHeader = regexp.MustCompile(`^(\d+\s+)?(input|inputs|output|outputs)$`)
	portTarget  = regexp.MustCompile(`\[(\d+)\]\s*([^\s,\[\]]+)`)
)

// PortEdge is one connection from an output port.
type PortEdge struct {
	Port       int
	Target     string
	TargetPort int
}

// ParsePorts reads the output section of a ports handler. The nth line after
// the output header describes output port n; input wiring is ignored since it
// mirrors the outputs of the upstream elements.
func ParsePorts(lines []string) []PortEdge {
	var (
		edges  []PortEdge
		output bool
		port   int
	)
	for _, line := range lines {
		if m := portsHeader.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			output = strings.HasPrefix(m[2], "output")
			continue
		}
		if !output {
			continue
		}
		conns := line
		if fields := strings.SplitN(line, "\t", 3); len(fields) == 3 {
			conns = fields[2]
		}
		for _, m := range portTarget.FindAllStringSubmatch(conns, -1) {
			targetPort, _ := strconv.Atoi(m[1])
			edges = append(edges, PortEdge{Port: port, Target: m[2], TargetPort: targetPort})
		}
		port++
	}
	return edges
}

// keywords collects "KEY value" configuration arguments.
func keywords(config []string) map[string]string {
	values := make(map[string]string)
	for _, tok := range config {
		key, value, ok := strings.Cut(tok, " ")
		if !ok || !isKeyword(key) {
			continue
		}
		values[key] = strings.TrimSpace(value)
	}
	return values
}

func isKeyword(s string) bool {
	for _, r := range s {
		if !unicode.IsUpper(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return s != ""
}
