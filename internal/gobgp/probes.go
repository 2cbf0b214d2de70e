package gobgp

import (
	"context"
	"errors"

	"github.com/dantte-lp/gocsit/internal/converge"
)

// SessionState samples the FSM state name of the neighbor at addr. A
// neighbor that is not configured yet reads as "NOT_CONFIGURED" rather
// than failing the probe, so waits can cover peer creation.
func SessionState(c Client, addr string) converge.Probe[string] {
	return converge.NewProbe("bgp_session_state", func(ctx context.Context) (string, error) {
		p, err := c.Peer(ctx, addr)
		if errors.Is(err, ErrPeerNotFound) {
			return "NOT_CONFIGURED", nil
		}
		if err != nil {
			return "", err
		}
		return p.State, nil
	}, addr)
}

// Established samples whether the session with addr is up.
func Established(c Client, addr string) converge.Probe[bool] {
	return converge.NewProbe("bgp_established", func(ctx context.Context) (bool, error) {
		p, err := c.Peer(ctx, addr)
		if errors.Is(err, ErrPeerNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return p.Established(), nil
	}, addr)
}

// ReceivedPrefixes samples how many prefixes of family the neighbor at
// addr has sent.
func ReceivedPrefixes(c Client, addr string, family Family) converge.Probe[int] {
	return converge.NewProbe("bgp_received_prefixes", func(ctx context.Context) (int, error) {
		p, err := c.Peer(ctx, addr)
		if err != nil {
			return 0, err
		}
		return int(p.Received[family]), nil
	}, addr, family)
}

// RIBPaths samples the number of paths in the global RIB for family.
func RIBPaths(c Client, family Family) converge.Probe[int] {
	return converge.NewProbe("bgp_rib_paths", func(ctx context.Context) (int, error) {
		size, err := c.RIBSize(ctx, family)
		if err != nil {
			if errors.Is(err, ErrUnknownFamily) || errors.Is(err, ErrClientClosed) {
				return 0, converge.Fatal(err)
			}
			return 0, err
		}
		return int(size.Paths), nil
	}, family)
}
