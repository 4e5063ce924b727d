package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Credentials is what an external login writes for headless tools.
type Credentials struct {
	UserID     string    `json:"user_id"`
	APIKey     string    `json:"api_key,omitempty"`
	Namespace  string    `json:"namespace,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	IssuedAt   time.Time `json:"issued_at"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// DefaultCredentialsPath returns ~/.fitsync/credentials.json.
func DefaultCredentialsPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".fitsync", "credentials.json"), nil
}

// LoadCredentials reads credentials from path. A missing file yields nil and no error.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	return &creds, nil
}

// SaveCredentials writes creds to path, readable only by the owner.
func SaveCredentials(path string, creds *Credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return nil
}

// IsExpired checks if credentials are expired
func (creds *Credentials) IsExpired() bool {
	if creds.ExpiresAt.IsZero() {
		return false // No expiration set
	}
	return time.Now().After(creds.ExpiresAt)
}

// IsValid checks if credentials name a user and are not expired
func (creds *Credentials) IsValid() bool {
	if creds == nil || creds.UserID == "" {
		return false
	}
	return !creds.IsExpired()
}
