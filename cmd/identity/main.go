package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// identity generates the peer key used by the p2p source (source.p2p.identity_file)
// and prints the peer id that other nodes put in their bootstrap_peers.
func main() {
	var outputPath string
	var displayOnly bool

	flag.StringVar(&outputPath, "output", "", "Output path for identity key")
	flag.BoolVar(&displayOnly, "display-only", false, "Only display identity info, don't save")
	flag.Parse()

	priv, pub, err := crypto.GenerateKeyPairWithReader(crypto.Ed25519, 2048, rand.Reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate identity: %v\n", err)
		os.Exit(1)
	}
	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to derive peer id: %v\n", err)
		os.Exit(1)
	}

	if displayOnly {
		fmt.Printf("Peer ID: %s\n", id)
		return
	}

	if outputPath == "" {
		fmt.Fprintln(os.Stderr, "Output path is required")
		os.Exit(1)
	}

	data, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal identity: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0700); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create directory: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(outputPath, data, 0600); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save identity: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated Peer ID: %s\n", id)
	fmt.Printf("Identity saved to: %s\n", outputPath)
	fmt.Printf("Bootstrap address: /ip4/<host>/tcp/4101/p2p/%s\n", id)
}
