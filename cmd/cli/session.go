package main

import (
	"fmt"
	"os"
	"time"

	"github.com/DeBrosOfficial/fitsync/pkg/session"
)

func credentialsFile() (string, error) {
	if p := os.Getenv("FITSYNC_CREDENTIALS"); p != "" {
		return p, nil
	}
	return session.DefaultCredentialsPath()
}

func handleLogin(args []string) error {
	path, err := credentialsFile()
	if err != nil {
		return err
	}
	now := time.Now()
	creds := &session.Credentials{UserID: args[0], IssuedAt: now}
	if len(args) > 1 {
		ttl, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid ttl %q: %w", args[1], err)
		}
		creds.ExpiresAt = now.Add(ttl)
	}
	if err := session.SaveCredentials(path, creds); err != nil {
		return err
	}
	fmt.Printf("✅ Signed in as %s\n", creds.UserID)
	return nil
}

func handleLogout() error {
	path, err := credentialsFile()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	fmt.Println("✅ Signed out")
	return nil
}

func handleWhoami() error {
	path, err := credentialsFile()
	if err != nil {
		return err
	}
	id, ok := session.File{Path: path}.CurrentPrincipalID()
	if !ok {
		fmt.Println("Not signed in")
		return nil
	}
	fmt.Println(id)
	return nil
}
