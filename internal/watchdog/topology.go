package watchdog

import (
	"time"

	"github.com/DrC0ns0le/clickctl/internal/click/graph"
	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

// Rebuilder is the part of graph.Topology the watchdog drives.
type Rebuilder interface {
	Rebuild(force bool) error
	Snapshot() (*graph.Snapshot, error)
}

type topologyWatchdog struct {
	StopCh   chan struct{}
	UpdateCh chan struct{}

	Topology Rebuilder
	Interval time.Duration

	Logger logging.Logger

	fingerprint uint64
	seen        bool
}

func (w *topologyWatchdog) Start() {
	w.Logger.Infof("starting topology watchdog, checking every %s", w.Interval)

	w.check()

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.StopCh:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check rebuilds when the handler tree changed and signals UpdateCh when the
// router adjacency or tables differ from the last check.
func (w *topologyWatchdog) check() bool {
	if err := w.Topology.Rebuild(false); err != nil {
		w.Logger.Errorf("failed to rebuild topology: %v", err)
		return false
	}
	snap, err := w.Topology.Snapshot()
	if err != nil {
		w.Logger.Errorf("no topology snapshot: %v", err)
		return false
	}

	fp := snap.Fingerprint()
	if w.seen && fp == w.fingerprint {
		return false
	}
	if w.seen {
		w.Logger.Infof("topology changed: %d routers, fingerprint %016x", snap.Routers.Len(), fp)
	}
	w.fingerprint = fp
	w.seen = true

	// never block the watchdog on a slow consumer
	select {
	case w.UpdateCh <- struct{}{}:
	default:
	}
	return true
}
