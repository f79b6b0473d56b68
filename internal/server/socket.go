package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/DrC0ns0le/clickctl/internal/dispatch"
	"github.com/DrC0ns0le/clickctl/internal/system"
	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

const socketConnectionTimeout = 30 * time.Second

// SocketServer speaks a line protocol on a unix socket:
//
//	CALL <method> [<json args>]  ->  <json result>
//	METHODS                      ->  <json method list>
type SocketServer struct {
	socketPath string
	dispatcher *dispatch.Dispatcher

	mu       sync.Mutex
	listener net.Listener
	logger   logging.Logger
}

func NewSocketServer(global *system.Node, d *dispatch.Dispatcher) *SocketServer {
	return &SocketServer{
		socketPath: global.Config.SocketPath,
		dispatcher: d,
		logger:     global.Logger.With("component", "socket"),
	}
}

func (s *SocketServer) Start() error {
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("error removing existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Infof("control socket listening at %s", s.socketPath)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Errorf("error accepting connection: %v", err)
				continue
			}
			go s.handleConnection(conn)
		}
	}()

	return nil
}

func (s *SocketServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *SocketServer) reply(conn net.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(dispatch.Result{Error: err.Error()})
	}
	conn.Write(append(data, '\n'))
}

func (s *SocketServer) handleConnection(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(socketConnectionTimeout))
		message, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				s.logger.Errorf("error reading from socket: %v", err)
			}
			return
		}

		message = strings.TrimSpace(message)
		s.logger.Debugf("received message from socket: %s", message)

		verb, rest, _ := strings.Cut(message, " ")
		switch verb {
		case "CALL":
			method, raw, _ := strings.Cut(strings.TrimSpace(rest), " ")
			var args dispatch.Args
			if raw = strings.TrimSpace(raw); raw != "" {
				if err := json.Unmarshal([]byte(raw), &args); err != nil {
					s.reply(conn, dispatch.Result{Error: "invalid arguments: " + err.Error()})
					continue
				}
			}
			res, _ := s.dispatcher.Call(context.Background(), method, args)
			s.reply(conn, res)
		case "METHODS":
			s.reply(conn, s.dispatcher.Methods())
		default:
			s.reply(conn, dispatch.Result{Error: "invalid message format"})
		}
	}
}
