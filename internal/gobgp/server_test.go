package gobgp_test

import (
	"context"
	"net"
	"sync"
	"testing"

	apipb "github.com/osrg/gobgp/v3/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/dantte-lp/gocsit/internal/gobgp"
)

// -------------------------------------------------------------------------
// In-process GoBGP API
// -------------------------------------------------------------------------

type fakePeer struct {
	asn      uint32
	state    apipb.PeerState_SessionState
	admin    apipb.PeerState_AdminState
	received uint64

	// upAfter counts ListPeer reads left before an enabled session
	// reaches ESTABLISHED.
	upAfter int
}

// fakeSpeaker implements the subset of GobgpApiServer the client uses.
type fakeSpeaker struct {
	apipb.UnimplementedGobgpApiServer

	mu       sync.Mutex
	peers    map[string]*fakePeer
	paths    uint64
	comms    []string
	settleUp int
}

func newFakeSpeaker() *fakeSpeaker {
	return &fakeSpeaker{peers: make(map[string]*fakePeer)}
}

func (s *fakeSpeaker) addPeer(addr string, asn uint32, received uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[addr] = &fakePeer{
		asn:      asn,
		state:    apipb.PeerState_ESTABLISHED,
		admin:    apipb.PeerState_UP,
		received: received,
	}
}

func (s *fakeSpeaker) setPaths(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = n
}

func (s *fakeSpeaker) communications() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.comms...)
}

func (s *fakeSpeaker) ListPeer(req *apipb.ListPeerRequest, stream apipb.GobgpApi_ListPeerServer) error {
	s.mu.Lock()
	var out []*apipb.Peer
	for addr, p := range s.peers {
		if req.GetAddress() != "" && req.GetAddress() != addr {
			continue
		}
		if p.admin == apipb.PeerState_UP && p.state != apipb.PeerState_ESTABLISHED {
			if p.upAfter <= 0 {
				p.state = apipb.PeerState_ESTABLISHED
			}
			p.upAfter--
		}
		out = append(out, &apipb.Peer{
			Conf: &apipb.PeerConf{NeighborAddress: addr, PeerAsn: p.asn},
			State: &apipb.PeerState{
				NeighborAddress: addr,
				SessionState:    p.state,
				AdminState:      p.admin,
			},
			AfiSafis: []*apipb.AfiSafi{{
				State: &apipb.AfiSafiState{
					Family:   &apipb.Family{Afi: apipb.Family_AFI_IP, Safi: apipb.Family_SAFI_UNICAST},
					Received: p.received,
					Accepted: p.received,
				},
			}},
		})
	}
	s.mu.Unlock()

	for _, p := range out {
		if err := stream.Send(&apipb.ListPeerResponse{Peer: p}); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeSpeaker) GetTable(_ context.Context, req *apipb.GetTableRequest) (*apipb.GetTableResponse, error) {
	if req.GetTableType() != apipb.TableType_GLOBAL {
		return nil, status.Error(codes.InvalidArgument, "unexpected table type")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &apipb.GetTableResponse{NumDestination: s.paths, NumPath: s.paths, NumAccepted: s.paths}, nil
}

func (s *fakeSpeaker) DisablePeer(_ context.Context, req *apipb.DisablePeerRequest) (*emptypb.Empty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[req.GetAddress()]
	if !ok {
		return nil, status.Error(codes.NotFound, "peer not found")
	}
	p.admin = apipb.PeerState_DOWN
	p.state = apipb.PeerState_IDLE
	s.comms = append(s.comms, req.GetCommunication())
	return &emptypb.Empty{}, nil
}

func (s *fakeSpeaker) EnablePeer(_ context.Context, req *apipb.EnablePeerRequest) (*emptypb.Empty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[req.GetAddress()]
	if !ok {
		return nil, status.Error(codes.NotFound, "peer not found")
	}
	p.admin = apipb.PeerState_UP
	p.state = apipb.PeerState_ACTIVE
	p.upAfter = s.settleUp
	return &emptypb.Empty{}, nil
}

// startSpeaker serves s on a loopback listener and returns a connected client.
func startSpeaker(t *testing.T, s *fakeSpeaker) *gobgp.GRPCClient {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpc.NewServer()
	apipb.RegisterGobgpApiServer(srv, s)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := gobgp.NewGRPCClient(gobgp.GRPCClientConfig{Addr: lis.Addr().String()}, nil)
	if err != nil {
		t.Fatalf("NewGRPCClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}
