package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/DrC0ns0le/clickctl/internal/dispatch"
	"github.com/DrC0ns0le/clickctl/internal/system"
	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

type Server interface {
	Start() error
	Stop() error
}

type namedServer struct {
	name string
	Server
}

// ServerManager exposes the dispatcher on every transport the orchestration
// collaborator may use.
type ServerManager struct {
	stopCh  <-chan struct{}
	servers []namedServer
	logger  logging.Logger
}

func NewServerManager(global *system.Node, d *dispatch.Dispatcher) *ServerManager {
	return &ServerManager{
		stopCh: global.StopCh,
		servers: []namedServer{
			{"grpc", NewGRPCServer(global, d)},
			{"http", NewHTTPServer(global, d)},
			{"socket", NewSocketServer(global, d)},
		},
		logger: global.Logger.With("component", "servers"),
	}
}

// Start runs every server and blocks until StopCh closes. A server that fails
// is logged and the others keep running.
func (m *ServerManager) Start() error {
	failed := make(chan error, len(m.servers))
	for _, s := range m.servers {
		go func() {
			if err := s.Start(); err != nil {
				failed <- fmt.Errorf("%s server: %w", s.name, err)
			}
		}()
	}

	for {
		select {
		case err := <-failed:
			m.logger.Errorf("%v", err)
		case <-m.stopCh:
			return m.stop()
		}
	}
}

func (m *ServerManager) stop() error {
	m.logger.Info("received stop signal, shutting down servers")

	errs := make([]error, len(m.servers))
	var wg sync.WaitGroup
	for i, s := range m.servers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Stop(); err != nil {
				errs[i] = fmt.Errorf("stopping %s server: %w", s.name, err)
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
