package watchdog

import (
	"github.com/DrC0ns0le/clickctl/internal/system"
)

// Start runs the watchdogs that apply to this node until StopCh closes.
func Start(global *system.Node) {
	if !global.Click() {
		global.Logger.Infof("no click router on %s, topology watchdog disabled", global.Config.NodeName)
		return
	}

	w := &topologyWatchdog{
		StopCh:   global.StopCh,
		UpdateCh: global.TopologyUpdateCh,
		Topology: global.Topology,
		Interval: global.Config.WatchdogInterval,
		Logger:   global.Logger.With("component", "watchdog"),
	}
	go w.Start()
}
