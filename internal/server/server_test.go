package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/DrC0ns0le/clickctl/internal/dispatch"
	"github.com/DrC0ns0le/clickctl/internal/system"
	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

func testDispatcher() *dispatch.Dispatcher {
	d := dispatch.New(logging.Discard())
	d.Register("echo", func(_ context.Context, a dispatch.Args) (any, error) {
		return a.String("msg", "")
	})
	d.Register("fail", func(context.Context, dispatch.Args) (any, error) {
		return nil, assert.AnError
	})
	return d
}

func testNode(t *testing.T) *system.Node {
	cfg := system.DefaultConfig()
	cfg.SocketPath = filepath.Join(t.TempDir(), "clickctl.sock")
	return &system.Node{StopCh: make(chan struct{}), Config: cfg, Logger: logging.Discard()}
}

func TestGRPCCall(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	s := NewGRPCServer(testNode(t), testDispatcher())
	go s.serve(lis)
	t.Cleanup(func() { s.Stop() })

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	res, err := Call(context.Background(), conn, "echo", map[string]any{"msg": "hi"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "hi", res.Value)

	res, err = Call(context.Background(), conn, "fail", nil)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, assert.AnError.Error(), res.Error)

	_, err = Call(context.Background(), conn, "nope", nil)
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestHTTPDispatch(t *testing.T) {
	s := NewHTTPServer(testNode(t), testDispatcher())
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/dispatch/echo", "application/json", strings.NewReader(`{"msg":"hello"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var res dispatch.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, dispatch.Result{OK: true, Value: "hello"}, res)

	resp, err = http.Post(srv.URL+"/dispatch/nope", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/dispatch/echo", "application/json", strings.NewReader(`{`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSocketCall(t *testing.T) {
	node := testNode(t)
	s := NewSocketServer(node, testDispatcher())
	require.NoError(t, s.Start())
	defer s.Stop()

	conn, err := net.Dial("unix", node.Config.SocketPath)
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	roundTrip := func(line string) string {
		_, err := conn.Write([]byte(line + "\n"))
		require.NoError(t, err)
		out, err := r.ReadString('\n')
		require.NoError(t, err)
		return strings.TrimSpace(out)
	}

	assert.JSONEq(t, `{"ok":true,"value":"yo"}`, roundTrip(`CALL echo {"msg":"yo"}`))
	assert.JSONEq(t, `{"ok":false,"error":"`+assert.AnError.Error()+`"}`, roundTrip("CALL fail"))
	assert.JSONEq(t, `["echo","fail"]`, roundTrip("METHODS"))
	assert.JSONEq(t, `{"ok":false,"error":"invalid message format"}`, roundTrip("HELLO"))
}

type fakeServer struct {
	startErr error
	stopErr  error
	stopped  chan struct{}
}

func (f *fakeServer) Start() error { return f.startErr }

func (f *fakeServer) Stop() error {
	close(f.stopped)
	return f.stopErr
}

func TestServerManagerStops(t *testing.T) {
	stopCh := make(chan struct{})
	broken := &fakeServer{startErr: assert.AnError, stopped: make(chan struct{})}
	stubborn := &fakeServer{stopErr: assert.AnError, stopped: make(chan struct{})}
	m := &ServerManager{
		stopCh:  stopCh,
		servers: []namedServer{{"broken", broken}, {"stubborn", stubborn}},
		logger:  logging.Discard(),
	}

	done := make(chan error, 1)
	go func() { done <- m.Start() }()
	close(stopCh)

	err := <-done
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "stopping stubborn server")
	assert.NotContains(t, err.Error(), "stopping broken server")
	<-broken.stopped
	<-stubborn.stopped
}
