package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/multiformats/go-multiaddr"

	"github.com/DeBrosOfficial/fitsync/pkg/feed"
	"github.com/DeBrosOfficial/fitsync/pkg/source/p2p"
)

// handlePublish joins the gossip network and publishes one snapshot read from
// a JSON file ("-" for stdin).
func handlePublish(args []string) error {
	channel, principal, file := args[0], args[1], args[2]

	var data []byte
	var err error
	if file == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return fmt.Errorf("failed to read rows: %w", err)
	}
	var rows feed.Rows
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("rows must be a JSON array of objects: %w", err)
	}

	peers := splitList(os.Getenv("FITSYNC_BOOTSTRAP_PEERS"))
	if len(peers) == 0 {
		return fmt.Errorf("FITSYNC_BOOTSTRAP_PEERS is required")
	}
	namespace := os.Getenv("FITSYNC_NAMESPACE")
	if namespace == "" {
		namespace = "fitsync"
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	addr, _ := multiaddr.NewMultiaddr("/ip4/0.0.0.0/tcp/0")
	h, ps, err := p2p.NewHost(ctx, []multiaddr.Multiaddr{addr}, nil)
	if err != nil {
		return err
	}
	defer h.Close()

	if n, err := p2p.Connect(ctx, h, peers); n == 0 {
		if err == nil {
			err = fmt.Errorf("no usable address")
		}
		return fmt.Errorf("no bootstrap peer reachable: %w", err)
	}

	m := p2p.NewManager(ps, namespace, nil)
	defer m.Close()

	// Give GossipSub a moment to build the mesh before publishing.
	time.Sleep(time.Second)
	if err := p2p.PublishRows(ctx, m, channel, principal, rows); err != nil {
		return err
	}
	fmt.Printf("✅ Published %d rows to %s.%s\n", len(rows), namespace, p2p.Topic(channel, principal))
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
