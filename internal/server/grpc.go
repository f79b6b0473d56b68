package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/DrC0ns0le/clickctl/internal/dispatch"
	"github.com/DrC0ns0le/clickctl/internal/system"
	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

const (
	ServiceName = "clickctl.Dispatch"
	CallMethod  = "/" + ServiceName + "/Call"
)

// DispatchServer runs one command per call. Requests and responses are
// structpb.Struct values: {"method": m, "args": {...}} in, a dispatch.Result
// out.
type DispatchServer interface {
	Call(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var dispatchServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DispatchServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Call", Handler: callHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "clickctl/dispatch",
}

func callHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DispatchServer).Call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CallMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DispatchServer).Call(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type dispatchService struct {
	dispatcher *dispatch.Dispatcher
}

func (s *dispatchService) Call(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.AsMap()
	method, _ := fields["method"].(string)
	if method == "" {
		return nil, status.Error(codes.InvalidArgument, "method is required")
	}
	args, _ := fields["args"].(map[string]any)

	res, err := s.dispatcher.Call(ctx, method, args)
	if errors.Is(err, dispatch.ErrUnknownMethod) {
		return nil, status.Error(codes.Unimplemented, err.Error())
	}
	out, err := ResultStruct(res)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// ResultStruct converts a result through its JSON form so any value the
// handlers return is representable.
func ResultStruct(res dispatch.Result) (*structpb.Struct, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return structpb.NewStruct(m)
}

// Call invokes method on a remote daemon.
func Call(ctx context.Context, conn grpc.ClientConnInterface, method string, args map[string]any) (dispatch.Result, error) {
	if args == nil {
		args = map[string]any{}
	}
	req, err := structpb.NewStruct(map[string]any{"method": method, "args": args})
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("failed to encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, CallMethod, req, out); err != nil {
		return dispatch.Result{}, err
	}
	m := out.AsMap()
	res := dispatch.Result{Value: m["value"]}
	res.OK, _ = m["ok"].(bool)
	res.Error, _ = m["error"].(string)
	return res, nil
}

type GRPCServer struct {
	port   int
	server *grpc.Server
	logger logging.Logger
}

func NewGRPCServer(global *system.Node, d *dispatch.Dispatcher) *GRPCServer {
	s := &GRPCServer{
		port:   global.Config.GRPCPort,
		server: grpc.NewServer(),
		logger: global.Logger.With("component", "grpc"),
	}
	s.server.RegisterService(&dispatchServiceDesc, &dispatchService{dispatcher: d})
	return s
}

func (s *GRPCServer) Start() error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.serve(listener)
}

func (s *GRPCServer) serve(listener net.Listener) error {
	s.logger.Infof("gRPC server listening at %v", listener.Addr())
	if err := s.server.Serve(listener); err != nil {
		return fmt.Errorf("failed to serve gRPC server: %w", err)
	}
	return nil
}

func (s *GRPCServer) Stop() error {
	s.server.Stop()
	return nil
}
