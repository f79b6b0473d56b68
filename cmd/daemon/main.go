package main

import (
	"context"
	"flag"
	"net/netip"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/DrC0ns0le/clickctl/internal/click/config"
	"github.com/DrC0ns0le/clickctl/internal/click/graph"
	"github.com/DrC0ns0le/clickctl/internal/click/process"
	"github.com/DrC0ns0le/clickctl/internal/click/transport"
	"github.com/DrC0ns0le/clickctl/internal/dispatch"
	"github.com/DrC0ns0le/clickctl/internal/hosts"
	"github.com/DrC0ns0le/clickctl/internal/linkctl"
	"github.com/DrC0ns0le/clickctl/internal/neighbors"
	"github.com/DrC0ns0le/clickctl/internal/route"
	"github.com/DrC0ns0le/clickctl/internal/server"
	"github.com/DrC0ns0le/clickctl/internal/system"
	"github.com/DrC0ns0le/clickctl/internal/system/netctl"
	"github.com/DrC0ns0le/clickctl/internal/watchdog"
	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

var (
	updateChBufSize = flag.Int("topology.updatech", 1, "channel buffer size for topology change signals")
)

func main() {

	flag.Parse()

	logger := logging.NewDefaultLogger()

	cfg, err := system.LoadConfig()
	if err != nil {
		logger.Errorf("failed to load config: %v", err)
		os.Exit(1)
	}

	node := &system.Node{
		StopCh:           make(chan struct{}),
		TopologyUpdateCh: make(chan struct{}, *updateChBufSize),
		Config:           cfg,
		Logger:           logger.With("node", cfg.NodeName),
	}

	node.Logger.Infof("starting clickctl daemon")

	if err := setup(node); err != nil {
		node.Logger.Errorf("failed to set up node: %v", err)
		os.Exit(1)
	}

	d := dispatch.NewNodeDispatcher(node)
	node.Logger.Infof("node types %v, %d dispatch methods", node.Engine.NodeTypes(), len(d.Methods()))

	// start grpc, http and unix socket servers
	manager := server.NewServerManager(node, d)
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		if err := manager.Start(); err != nil {
			node.Logger.Errorf("server shutdown: %v", err)
		}
	}()

	// start watchdog
	watchdog.Start(node)
	go logTopologyUpdates(node)

	// wait for termination signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	close(node.StopCh)
	<-serverDone

	if node.Links != nil {
		node.Links.Flapper().Stop()
	}
	if node.Store != nil {
		if err := node.Store.Transport().Close(); err != nil {
			node.Logger.Warnf("failed to close click transport: %v", err)
		}
	}
	node.Logger.Info("clickctl daemon stopped")
}

// setup builds the node components from the loaded configuration. The Click
// stack is only built when a Click router is present at startup.
func setup(node *system.Node) error {
	cfg := node.Config

	naming, err := hosts.ParseNaming(cfg.Naming)
	if err != nil {
		return err
	}
	control, err := hosts.ControlNets(cfg.ControlNets)
	if err != nil {
		return err
	}
	node.Hosts = hosts.NewDirectory(hosts.Options{
		Path:   cfg.HostsFile,
		Naming: naming,
		Logger: node.Logger,
	})

	var dpdk *netctl.DPDK
	types := route.DetectNodeTypes(cfg.ClickPath, route.DefaultContainersPath)
	if slices.Contains(types, route.NodeClick) {
		if dpdk, err = setupClick(node); err != nil {
			return err
		}
	}

	var osRoutes route.OSRoutes = route.NetlinkRoutes{}
	if cfg.OSRouteBackend == "command" {
		osRoutes = route.CommandRoutes{}
	}
	node.Engine = route.NewEngine(route.Options{
		Topology:    node.Topology,
		OS:          osRoutes,
		Hosts:       node.Hosts,
		ControlNets: control,
		NodeName:    cfg.NodeName,
		NodeTypes:   types,
		Logger:      node.Logger,
	})

	if node.Topology != nil {
		node.Links = linkctl.New(linkctl.Options{
			Store:   node.Store,
			Ports:   node.Topology,
			Anycast: node.Engine,
			Logger:  node.Logger,
		})
	}

	node.Process = process.NewManager(process.Options{
		ConfigFile: cfg.ClickConfigFile,
		Control:    cfg.ClickPath,
		Logger:     node.Logger,
	})

	node.Neighbors = neighbors.NewFinder(neighbors.Options{
		Hosts:  node.Hosts,
		Local:  localAddresses(dpdk),
		Logger: node.Logger,
	})
	return nil
}

// localAddresses adds the DPDK port addresses, which the kernel does not
// see, to the host addresses.
func localAddresses(dpdk *netctl.DPDK) func() ([]netip.Addr, error) {
	return func() ([]netip.Addr, error) {
		addrs, err := netctl.LocalAddresses()
		if err != nil {
			return nil, err
		}
		if dpdk != nil {
			for addr := range dpdk.Addresses() {
				addrs = append(addrs, addr)
			}
		}
		return addrs, nil
	}
}

func setupClick(node *system.Node) (*netctl.DPDK, error) {
	cfg := node.Config

	t, err := transport.Open(cfg.ClickPath, transport.Options{Logger: node.Logger})
	if err != nil {
		return nil, err
	}
	node.Store = config.NewStore(t, node.Logger)

	var (
		ifaces netctl.Interfaces = netctl.Kernel{}
		dpdk   *netctl.DPDK
	)
	if netctl.DPDKMode(cfg.DPDKInterfaces) {
		if dpdk, err = netctl.LoadDPDK(cfg.DPDKInterfaces); err != nil {
			return nil, err
		}
		ifaces = dpdk
	}

	node.Topology = graph.New(node.Store, graph.Options{
		Classes:    cfg.Classes(),
		Hosts:      node.Hosts,
		Interfaces: ifaces,
		DPDK:       dpdk != nil,
		NodeName:   cfg.NodeName,
		Logger:     node.Logger,
	})
	if err := node.Topology.Rebuild(true); err != nil {
		// the watchdog retries
		node.Logger.Warnf("initial topology build failed: %v", err)
	}
	return dpdk, nil
}

func logTopologyUpdates(node *system.Node) {
	for {
		select {
		case <-node.StopCh:
			return
		case <-node.TopologyUpdateCh:
			update, err := node.Engine.TopologyUpdates()
			if err != nil {
				node.Logger.Warnf("failed to compute topology update: %v", err)
				continue
			}
			edges, err := node.Engine.NetworkEdges(context.Background())
			if err != nil {
				node.Logger.Warnf("failed to compute network edges: %v", err)
			}
			node.Logger.Infof("click topology changed: %d router links, %d network edge routers",
				len(update.Add), len(edges))
		}
	}
}
