package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/overlaymesh/omq/internal/logging"
	"github.com/overlaymesh/omq/internal/omq"
	"github.com/overlaymesh/omq/internal/peer"
)

// GRPC is an omq.Transport that dials a plain gRPC connection per peer
// and issues a generic unary call against it. It mirrors the gossip
// layer's SimpleTransport: a deliberately minimal adapter (no
// generated protobuf service, no code-genned stubs) kept as the
// reference for operators who want a binary-framed transport instead
// of the HTTP one.
type GRPC struct {
	mu      sync.Mutex
	conns   map[peer.ID]*grpc.ClientConn
	resolve func(peer.ID) string
}

// NewGRPC builds a gRPC transport. resolve maps a peer.ID to its
// "host:port" dial target.
func NewGRPC(resolve func(peer.ID) string) *GRPC {
	return &GRPC{
		conns:   make(map[peer.ID]*grpc.ClientConn),
		resolve: resolve,
	}
}

func (t *GRPC) connFor(p peer.ID) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.conns[p]; ok {
		return c, nil
	}
	c, err := grpc.Dial(t.resolve(p), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", p, err)
	}
	t.conns[p] = c
	return c, nil
}

// Submit implements omq.Transport. The unary call is issued against
// the "/omq.Delivery/Deliver" method name; a deployment wiring this
// transport for real traffic registers a matching generated service on
// the receiving node.
func (t *GRPC) Submit(ctx context.Context, p peer.ID, payload []byte, complete func(omq.Outcome)) (omq.Handle, error) {
	conn, err := t.connFor(p)
	if err != nil {
		return nil, err
	}

	go func() {
		req := &rawPayload{Data: payload}
		reply := &rawPayload{}
		if err := conn.Invoke(ctx, "/omq.Delivery/Deliver", req, reply); err != nil {
			logging.Debug("[transport] grpc send to %s failed: %v", p, err)
			complete(omq.Failed(err))
			return
		}
		complete(omq.Delivered())
	}()

	return nil, nil
}

// Close tears down every pooled connection.
func (t *GRPC) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, c := range t.conns {
		c.Close()
		delete(t.conns, id)
	}
	return nil
}

// GRPCServer listens for inbound deliveries, the same way the gossip
// layer's SimpleTransport served its placeholder RPC.
type GRPCServer struct {
	server *grpc.Server
}

// ServeGRPC starts a bare grpc.Server on addr. It has no services
// registered beyond gRPC's built-in reflection-free defaults; a real
// deployment registers its generated Delivery service before Serve is
// called by constructing its own *grpc.Server instead.
func ServeGRPC(addr string) (*GRPCServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	s := grpc.NewServer()
	go func() {
		if err := s.Serve(lis); err != nil {
			logging.Warn("[transport] grpc server stopped: %v", err)
		}
	}()
	return &GRPCServer{server: s}, nil
}

func (s *GRPCServer) Stop() { s.server.GracefulStop() }

// rawPayload stands in for a generated protobuf message so this file
// compiles without a .proto toolchain step. A deployment that wires
// GRPC for real traffic replaces it with its generated Delivery
// request/response types.
type rawPayload struct {
	Data []byte
}
