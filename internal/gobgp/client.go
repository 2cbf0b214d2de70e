// Package gobgp reads BGP speaker state from GoBGP over its gRPC API.
//
// Test steps use a GoBGP daemon as the BGP peer of the controller under
// test. The client exposes the observables convergence waits poll (session
// state, received and RIB path counts) and the administrative controls
// used to flap a session on purpose.
package gobgp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	apipb "github.com/osrg/gobgp/v3/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// -------------------------------------------------------------------------
// Client Interface
// -------------------------------------------------------------------------

// Client abstracts the GoBGP operations used by test steps. It allows
// probes and the flapper to be tested without a running GoBGP.
type Client interface {
	// Peer returns the neighbor configured with addr.
	Peer(ctx context.Context, addr string) (Peer, error)

	// Peers lists every configured neighbor.
	Peers(ctx context.Context) ([]Peer, error)

	// RIBSize returns the path and destination counts of the global RIB
	// for family.
	RIBSize(ctx context.Context, family Family) (RIBSize, error)

	// DisablePeer administratively shuts a session down. The communication
	// string is sent in the Cease NOTIFICATION.
	DisablePeer(ctx context.Context, addr string, communication string) error

	// EnablePeer re-enables a previously disabled session.
	EnablePeer(ctx context.Context, addr string) error

	// Close releases the underlying gRPC connection.
	Close() error
}

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("gobgp client is closed")

	// ErrDialFailed indicates the gRPC client to GoBGP could not be created.
	ErrDialFailed = errors.New("gobgp gRPC dial failed")

	// ErrPeerNotFound indicates no neighbor is configured with the address.
	ErrPeerNotFound = errors.New("bgp peer not found")

	// ErrUnknownFamily indicates an address family name that is not mapped.
	ErrUnknownFamily = errors.New("unknown address family")
)

// -------------------------------------------------------------------------
// Observed state
// -------------------------------------------------------------------------

// Peer is the observed state of one BGP neighbor.
type Peer struct {
	Address string
	PeerASN uint32

	// State is the FSM state name, e.g. "ESTABLISHED".
	State string

	// AdminDown reports an administratively disabled session.
	AdminDown bool

	// Received and Accepted count prefixes per family name.
	Received map[Family]uint64
	Accepted map[Family]uint64
}

// Established reports whether the session is up.
func (p Peer) Established() bool {
	return p.State == apipb.PeerState_ESTABLISHED.String()
}

// RIBSize summarizes a RIB table.
type RIBSize struct {
	Destinations uint64
	Paths        uint64
	Accepted     uint64
}

// -------------------------------------------------------------------------
// GRPCClient: GoBGP gRPC client
// -------------------------------------------------------------------------

// GRPCClient talks to GoBGP's gRPC API and implements Client.
//
// The connection uses insecure credentials because the GoBGP API of a test
// speaker listens on the harness host or a lab network.
type GRPCClient struct {
	conn   *grpc.ClientConn
	api    apipb.GobgpApiClient
	logger *slog.Logger

	// callTimeout bounds server-streaming calls, which the unary
	// interceptor does not see.
	callTimeout time.Duration

	mu     sync.RWMutex
	closed bool
}

var _ Client = (*GRPCClient)(nil)

// GRPCClientConfig holds connection parameters for the GoBGP gRPC client.
type GRPCClientConfig struct {
	// Addr is the GoBGP gRPC listen address (e.g., "127.0.0.1:50051").
	Addr string

	// DialTimeout bounds each RPC when the caller's context has no
	// deadline. Zero leaves RPCs bounded by the context only.
	DialTimeout time.Duration
}

// NewGRPCClient creates a GoBGP gRPC client.
//
// grpc.NewClient does not block; connectivity is established on the first
// RPC, so a speaker that is still starting is handled by the caller's
// retry policy.
func NewGRPCClient(cfg GRPCClientConfig, logger *slog.Logger) (*GRPCClient, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("create gobgp client: %w: empty address", ErrDialFailed)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if cfg.DialTimeout > 0 {
		opts = append(opts, grpc.WithUnaryInterceptor(timeoutInterceptor(cfg.DialTimeout)))
	}
	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gobgp client to %s: %w: %w", cfg.Addr, ErrDialFailed, err)
	}

	client := &GRPCClient{
		conn:        conn,
		api:         apipb.NewGobgpApiClient(conn),
		callTimeout: cfg.DialTimeout,
		logger: logger.With(
			slog.String("component", "gobgp.client"),
			slog.String("addr", cfg.Addr),
		),
	}
	client.logger.Debug("gobgp gRPC client created")
	return client, nil
}

// timeoutInterceptor applies d to unary calls whose context has no deadline.
func timeoutInterceptor(d time.Duration) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func (c *GRPCClient) checkOpen(op string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return fmt.Errorf("%s: %w", op, ErrClientClosed)
	}
	return nil
}

// Peer returns the neighbor configured with addr, or ErrPeerNotFound.
func (c *GRPCClient) Peer(ctx context.Context, addr string) (Peer, error) {
	peers, err := c.listPeers(ctx, "get peer "+addr, addr)
	if err != nil {
		return Peer{}, err
	}
	for _, p := range peers {
		if p.Address == addr {
			return p, nil
		}
	}
	return Peer{}, fmt.Errorf("get peer %s: %w", addr, ErrPeerNotFound)
}

// Peers lists every configured neighbor.
func (c *GRPCClient) Peers(ctx context.Context) ([]Peer, error) {
	return c.listPeers(ctx, "list peers", "")
}

func (c *GRPCClient) listPeers(ctx context.Context, op, addr string) ([]Peer, error) {
	if err := c.checkOpen(op); err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok && c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}
	stream, err := c.api.ListPeer(ctx, &apipb.ListPeerRequest{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var peers []Peer
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return peers, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if resp.GetPeer() != nil {
			peers = append(peers, peerFromAPI(resp.GetPeer()))
		}
	}
}

func peerFromAPI(p *apipb.Peer) Peer {
	out := Peer{
		Address:   p.GetConf().GetNeighborAddress(),
		PeerASN:   p.GetConf().GetPeerAsn(),
		State:     p.GetState().GetSessionState().String(),
		AdminDown: p.GetState().GetAdminState() == apipb.PeerState_DOWN,
		Received:  make(map[Family]uint64),
		Accepted:  make(map[Family]uint64),
	}
	if out.Address == "" {
		out.Address = p.GetState().GetNeighborAddress()
	}
	for _, afi := range p.GetAfiSafis() {
		st := afi.GetState()
		fam, ok := familyFromAPI(st.GetFamily())
		if !ok {
			continue
		}
		out.Received[fam] = st.GetReceived()
		out.Accepted[fam] = st.GetAccepted()
	}
	return out
}

// RIBSize returns the global RIB counters for family.
func (c *GRPCClient) RIBSize(ctx context.Context, family Family) (RIBSize, error) {
	op := "get rib size " + string(family)
	if err := c.checkOpen(op); err != nil {
		return RIBSize{}, err
	}
	fam, err := family.api()
	if err != nil {
		return RIBSize{}, fmt.Errorf("%s: %w", op, err)
	}
	resp, err := c.api.GetTable(ctx, &apipb.GetTableRequest{
		TableType: apipb.TableType_GLOBAL,
		Family:    fam,
	})
	if err != nil {
		return RIBSize{}, fmt.Errorf("%s: %w", op, err)
	}
	return RIBSize{
		Destinations: resp.GetNumDestination(),
		Paths:        resp.GetNumPath(),
		Accepted:     resp.GetNumAccepted(),
	}, nil
}

// DisablePeer disables a BGP peer by address with an administrative reason.
func (c *GRPCClient) DisablePeer(ctx context.Context, addr string, communication string) error {
	if err := c.checkOpen("disable peer " + addr); err != nil {
		return err
	}
	_, err := c.api.DisablePeer(ctx, &apipb.DisablePeerRequest{
		Address:       addr,
		Communication: communication,
	})
	if err != nil {
		return fmt.Errorf("disable peer %s: %w", addr, err)
	}
	c.logger.Info("disabled BGP peer",
		slog.String("peer", addr),
		slog.String("reason", communication),
	)
	return nil
}

// EnablePeer enables a previously disabled BGP peer by address.
func (c *GRPCClient) EnablePeer(ctx context.Context, addr string) error {
	if err := c.checkOpen("enable peer " + addr); err != nil {
		return err
	}
	if _, err := c.api.EnablePeer(ctx, &apipb.EnablePeerRequest{Address: addr}); err != nil {
		return fmt.Errorf("enable peer %s: %w", addr, err)
	}
	c.logger.Info("enabled BGP peer", slog.String("peer", addr))
	return nil
}

// Close releases the underlying gRPC connection. After Close, all methods
// return ErrClientClosed.
func (c *GRPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close gobgp client: %w", err)
	}
	c.logger.Debug("gobgp gRPC client closed")
	return nil
}
