package system

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/DrC0ns0le/clickctl/internal/click/graph"
	"github.com/DrC0ns0le/clickctl/internal/click/process"
	"github.com/DrC0ns0le/clickctl/internal/hosts"
	"github.com/DrC0ns0le/clickctl/internal/system/netctl"
)

var (
	configFile = flag.String("config", "", "optional YAML configuration file")

	clickPath       = flag.String("click.path", "/click", "click handler tree or control socket")
	clickConfigFile = flag.String("click.config-file", "/tmp/vrouter.click", "click router configuration installed by start_click")
	clickMode       = flag.String("click.mode", "dpdk", "click runtime: kernel, user or dpdk")
	routerClasses   = flag.String("click.router-classes", "RadixIPLookup", "comma separated element classes that route")
	physicalClasses = flag.String("click.physical-classes", "ToDevice", "comma separated element classes that egress to an interface")
	localhostClass  = flag.String("click.localhost-classes", "ToHost", "comma separated element classes that deliver to the host")

	hostsFile   = flag.String("hosts.file", hosts.DefaultHostsFile, "hosts file naming testbed addresses")
	hostsNaming = flag.String("hosts.naming", "suffix", "host naming strategy: suffix or primary")
	controlNets = flag.String("hosts.control-nets", "192.168.0.0/16,172.16.0.0/12", "comma separated management networks hidden from routing views")

	dpdkFile  = flag.String("dpdk.interfaces", netctl.DefaultDPDKFile, "ifconfig dump written by DPDK routers")
	nodeName  = flag.String("node.name", "", "name of this node, defaults to the short hostname")
	osBackend = flag.String("route.os-backend", "netlink", "host routing table source: netlink or command")

	grpcPort   = flag.Int("grpc.port", 5122, "port for grpc server")
	httpPort   = flag.Int("http.port", 5120, "port for http server")
	socketPath = flag.String("socket.path", "/var/run/clickctl.sock", "path for unix socket")

	watchdogInterval = flag.Duration("watchdog.interval", 5*time.Second, "interval between topology rebuild checks")
)

// Config is the daemon configuration. Values come from flag defaults, then
// the YAML file, then any flag set explicitly on the command line.
type Config struct {
	ClickPath       string   `yaml:"click_path"`
	ClickConfigFile string   `yaml:"click_config_file"`
	ClickMode       string   `yaml:"click_mode"`
	RouterClasses   []string `yaml:"router_classes"`
	PhysicalClasses []string `yaml:"physical_classes"`
	LocalhostClass  []string `yaml:"localhost_classes"`

	HostsFile   string   `yaml:"hosts_file"`
	Naming      string   `yaml:"naming"`
	ControlNets []string `yaml:"control_nets"`

	DPDKInterfaces string `yaml:"dpdk_interfaces"`
	NodeName       string `yaml:"node_name"`
	OSRouteBackend string `yaml:"os_route_backend"`

	GRPCPort   int    `yaml:"grpc_port"`
	HTTPPort   int    `yaml:"http_port"`
	SocketPath string `yaml:"socket_path"`

	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// overrides maps flag names to the Config field they set.
var overrides = map[string]func(c *Config){
	"click.path":              func(c *Config) { c.ClickPath = *clickPath },
	"click.config-file":       func(c *Config) { c.ClickConfigFile = *clickConfigFile },
	"click.mode":              func(c *Config) { c.ClickMode = *clickMode },
	"click.router-classes":    func(c *Config) { c.RouterClasses = splitList(*routerClasses) },
	"click.physical-classes":  func(c *Config) { c.PhysicalClasses = splitList(*physicalClasses) },
	"click.localhost-classes": func(c *Config) { c.LocalhostClass = splitList(*localhostClass) },
	"hosts.file":              func(c *Config) { c.HostsFile = *hostsFile },
	"hosts.naming":            func(c *Config) { c.Naming = *hostsNaming },
	"hosts.control-nets":      func(c *Config) { c.ControlNets = splitList(*controlNets) },
	"dpdk.interfaces":         func(c *Config) { c.DPDKInterfaces = *dpdkFile },
	"node.name":               func(c *Config) { c.NodeName = *nodeName },
	"route.os-backend":        func(c *Config) { c.OSRouteBackend = *osBackend },
	"grpc.port":               func(c *Config) { c.GRPCPort = *grpcPort },
	"http.port":               func(c *Config) { c.HTTPPort = *httpPort },
	"socket.path":             func(c *Config) { c.SocketPath = *socketPath },
	"watchdog.interval":       func(c *Config) { c.WatchdogInterval = *watchdogInterval },
}

// DefaultConfig returns the configuration described by the flag values.
func DefaultConfig() *Config {
	c := &Config{}
	for _, apply := range overrides {
		apply(c)
	}
	return c
}

// LoadConfig must be called after flag.Parse.
func LoadConfig() (*Config, error) {
	c := DefaultConfig()
	if *configFile != "" {
		if err := c.decodeFile(*configFile); err != nil {
			return nil, err
		}
		flag.Visit(func(f *flag.Flag) {
			if apply, ok := overrides[f.Name]; ok {
				apply(c)
			}
		})
	}
	if c.NodeName == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to get hostname: %w", err)
		}
		c.NodeName, _, _ = strings.Cut(h, ".")
	}
	return c, c.Validate()
}

func (c *Config) decodeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.ClickPath == "" {
		return fmt.Errorf("click path must be set")
	}
	if _, err := process.ParseMode(c.ClickMode); err != nil {
		return err
	}
	if _, err := hosts.ParseNaming(c.Naming); err != nil {
		return err
	}
	if _, err := hosts.ControlNets(c.ControlNets); err != nil {
		return err
	}
	switch c.OSRouteBackend {
	case "netlink", "command":
	default:
		return fmt.Errorf("unknown route backend %q", c.OSRouteBackend)
	}
	if c.WatchdogInterval <= 0 {
		return fmt.Errorf("watchdog interval must be positive, got %s", c.WatchdogInterval)
	}
	return nil
}

// Classes returns the element class roles for the topology builder.
func (c *Config) Classes() graph.Classes {
	return graph.Classes{
		Router:    c.RouterClasses,
		Physical:  c.PhysicalClasses,
		Localhost: c.LocalhostClass,
	}
}
