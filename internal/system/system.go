package system

import (
	"github.com/DrC0ns0le/clickctl/internal/click/config"
	"github.com/DrC0ns0le/clickctl/internal/click/graph"
	"github.com/DrC0ns0le/clickctl/internal/click/process"
	"github.com/DrC0ns0le/clickctl/internal/hosts"
	"github.com/DrC0ns0le/clickctl/internal/linkctl"
	"github.com/DrC0ns0le/clickctl/internal/neighbors"
	"github.com/DrC0ns0le/clickctl/internal/route"
	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

// Node holds the components shared by the servers and the watchdog.
type Node struct {
	StopCh           chan struct{}
	TopologyUpdateCh chan struct{}

	Config *Config

	Hosts     *hosts.Directory
	Store     *config.Store // nil without click
	Topology  *graph.Topology
	Engine    *route.Engine
	Links     *linkctl.Controller
	Process   *process.Manager
	Neighbors *neighbors.Finder

	Logger logging.Logger
}

// Click reports whether the node runs a Click router.
func (n *Node) Click() bool {
	return n.Topology != nil
}
