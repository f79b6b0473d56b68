package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DrC0ns0le/clickctl/internal/dispatch"
	"github.com/DrC0ns0le/clickctl/internal/system"
	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

const maxBody = 1 << 20

type HTTPServer struct {
	listenAddress string
	dispatcher    *dispatch.Dispatcher
	logger        logging.Logger

	mu     sync.Mutex
	server *http.Server
}

func NewHTTPServer(global *system.Node, d *dispatch.Dispatcher) *HTTPServer {
	return &HTTPServer{
		listenAddress: ":" + strconv.Itoa(global.Config.HTTPPort),
		dispatcher:    d,
		logger:        global.Logger.With("component", "http"),
	}
}

func (s *HTTPServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/hello", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	mux.Handle("GET /dispatch", http.HandlerFunc(s.handleMethods))
	mux.Handle("POST /dispatch/{method}", http.HandlerFunc(s.handleDispatch))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *HTTPServer) Start() error {
	server := &http.Server{
		Addr:    s.listenAddress,
		Handler: s.handler(),
	}
	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	s.logger.With("listener", s.listenAddress).Info("http server running")
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Stop() error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	s.logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// Handlers

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *HTTPServer) handleMethods(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dispatcher.Methods())
}

func (s *HTTPServer) handleDispatch(w http.ResponseWriter, r *http.Request) {
	method := r.PathValue("method")

	var args dispatch.Args
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dispatch.Result{Error: err.Error()})
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &args); err != nil {
			writeJSON(w, http.StatusBadRequest, dispatch.Result{Error: "invalid arguments: " + err.Error()})
			return
		}
	}

	res, err := s.dispatcher.Call(r.Context(), method, args)
	if errors.Is(err, dispatch.ErrUnknownMethod) {
		writeJSON(w, http.StatusNotFound, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
