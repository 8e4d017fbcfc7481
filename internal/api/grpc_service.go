package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

// jsonCodec gRPC с JSON вместо protobuf: тот же Message, что и в websocket
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// ControlServer bidirectional stream, аналог websocket канала
type ControlServer interface {
	Stream(Control_StreamServer) error
}

type UnimplementedControlServer struct{}

func (UnimplementedControlServer) Stream(Control_StreamServer) error {
	return status.Errorf(codes.Unimplemented, "method Stream not implemented")
}

type Control_StreamServer interface {
	Send(*Message) error
	Recv() (*Message, error)
	grpc.ServerStream
}

type controlStreamServer struct {
	grpc.ServerStream
}

func (x *controlStreamServer) Send(m *Message) error {
	return x.ServerStream.SendMsg(m)
}

func (x *controlStreamServer) Recv() (*Message, error) {
	m := new(Message)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _Control_Stream_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ControlServer).Stream(&controlStreamServer{stream})
}

const controlStreamMethod = "/livetranscriber.Control/Stream"

var _Control_serviceDesc = grpc.ServiceDesc{
	ServiceName: "livetranscriber.Control",
	HandlerType: (*ControlServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       _Control_Stream_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "internal/api/control.proto",
}

func RegisterControlServer(s *grpc.Server, srv ControlServer) {
	s.RegisterService(&_Control_serviceDesc, srv)
}

// grpcClient поток gRPC: SendMsg нельзя вызывать из нескольких горутин
type grpcClient struct {
	stream Control_StreamServer
	mu     sync.Mutex
	cancel context.CancelFunc
}

func (c *grpcClient) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream.Send(&msg)
}

func (c *grpcClient) close() { c.cancel() }

// Stream обслуживает один gRPC клиент теми же сообщениями, что и websocket
func (s *Server) Stream(stream Control_StreamServer) error {
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	c := &grpcClient{stream: stream, cancel: cancel}
	s.addClient(c)
	defer s.removeClient(c)

	msgs := make(chan *Message)
	errc := make(chan error, 1)
	go func() {
		for {
			msg, err := stream.Recv()
			if err != nil {
				errc <- err
				return
			}
			select {
			case msgs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case msg := <-msgs:
			s.processMessage(ctx, c, *msg)
		case err := <-errc:
			if status.Code(err) == codes.Canceled || errors.Is(err, context.Canceled) {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Server) serveGRPC(ctx context.Context, addr string) error {
	if addr == "default" {
		addr = defaultGRPCAddr()
	}
	lis, err := listenGRPC(addr)
	if err != nil {
		log.Errorf("Failed to start gRPC listener (%s): %v", addr, err)
		return err
	}

	server := grpc.NewServer(
		grpc.Creds(insecure.NewCredentials()),
		grpc.ForceServerCodec(jsonCodec{}),
	)
	RegisterControlServer(server, s)

	go func() {
		<-ctx.Done()
		server.Stop()
	}()

	log.Infof("gRPC listening on %s", addr)
	if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		log.Errorf("gRPC server stopped: %v", err)
		return err
	}
	return nil
}

// listenGRPC: unix:/path, unix:///path, npipe:\\.\pipe\name или host:port
func listenGRPC(addr string) (net.Listener, error) {
	switch {
	case strings.HasPrefix(addr, "unix:"):
		socketPath := strings.TrimPrefix(strings.TrimPrefix(addr, "unix:"), "//")
		if err := removeIfExists(socketPath); err != nil {
			return nil, err
		}
		return net.Listen("unix", socketPath)
	case strings.HasPrefix(addr, "npipe:"):
		return listenPipe(strings.TrimPrefix(addr, "npipe:"))
	default:
		return net.Listen("tcp", addr)
	}
}

func removeIfExists(path string) error {
	if path == "" {
		return errors.New("empty socket path")
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
