package p2p

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// NewHost starts a libp2p host on listenAddrs with GossipSub attached. A nil
// identity generates a fresh peer key.
func NewHost(ctx context.Context, listenAddrs []multiaddr.Multiaddr, identity crypto.PrivKey) (host.Host, *pubsub.PubSub, error) {
	opts := []libp2p.Option{libp2p.ListenAddrs(listenAddrs...)}
	if identity != nil {
		opts = append(opts, libp2p.Identity(identity))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, nil, fmt.Errorf("failed to create gossipsub: %w", err)
	}
	return h, ps, nil
}

// Connect dials every bootstrap peer. It returns the number of peers reached
// and the last error seen.
func Connect(ctx context.Context, h host.Host, peers []string) (int, error) {
	var (
		connected int
		lastErr   error
	)
	for _, addr := range peers {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			lastErr = fmt.Errorf("invalid peer address %s: %w", addr, err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			lastErr = fmt.Errorf("invalid peer address %s: %w", addr, err)
			continue
		}
		if info.ID == h.ID() {
			continue
		}
		if err := h.Connect(ctx, *info); err != nil {
			lastErr = fmt.Errorf("failed to connect to %s: %w", info.ID, err)
			continue
		}
		connected++
	}
	return connected, lastErr
}
