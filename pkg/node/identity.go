package node

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/fitsync/pkg/logging"
)

// loadOrCreateIdentity loads the peer key from path, creating and saving one if
// needed. An empty path returns nil for an ephemeral identity.
func loadOrCreateIdentity(path string, logger *logging.ColoredLogger) (crypto.PrivKey, error) {
	if path == "" {
		return nil, nil
	}

	if data, err := os.ReadFile(path); err == nil {
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err == nil {
			logger.ComponentInfo(logging.ComponentSource, "Loaded existing identity", zap.String("file", path))
			return priv, nil
		}
		logger.ComponentWarn(logging.ComponentSource, "Failed to unmarshal existing identity, creating new one", zap.Error(err))
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}

	priv, _, err := crypto.GenerateKeyPairWithReader(crypto.Ed25519, 2048, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	data, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create identity directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to save identity: %w", err)
	}

	logger.ComponentInfo(logging.ComponentSource, "Identity saved", zap.String("file", path))
	return priv, nil
}
