package main

import (
	"fmt"
	"os"
	"time"
)

var timeout = 30 * time.Second

// version metadata populated via -ldflags at build time
var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	if len(os.Args) < 2 {
		showHelp()
		return
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "version":
		fmt.Printf("fitsync %s", version)
		if commit != "" {
			fmt.Printf(" (commit %s)", commit)
		}
		if date != "" {
			fmt.Printf(" built %s", date)
		}
		fmt.Println()
		return

	// Session commands
	case "login":
		if len(args) == 0 {
			fmt.Fprintf(os.Stderr, "Usage: fitsync login <user_id> [ttl]\n")
			os.Exit(1)
		}
		err = handleLogin(args)
	case "logout":
		err = handleLogout()
	case "whoami":
		err = handleWhoami()

	// Gateway commands
	case "feeds":
		err = handleFeeds(newGatewayClient())
	case "fetch":
		if len(args) == 0 {
			fmt.Fprintf(os.Stderr, "Usage: fitsync fetch <channel> [limit]\n")
			os.Exit(1)
		}
		err = handleFetch(newGatewayClient(), args)
	case "refresh":
		if len(args) == 0 {
			fmt.Fprintf(os.Stderr, "Usage: fitsync refresh <channel> [limit]\n")
			os.Exit(1)
		}
		err = handleRefresh(newGatewayClient(), args)

	// Gossip publish for backends and local testing
	case "publish":
		if len(args) < 3 {
			fmt.Fprintf(os.Stderr, "Usage: fitsync publish <channel> <principal> <rows.json>\n")
			os.Exit(1)
		}
		err = handlePublish(args)

	case "help", "--help", "-h":
		showHelp()
		return

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		showHelp()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func showHelp() {
	fmt.Printf("fitsync - dashboard feed tooling\n\n")
	fmt.Printf("Usage: fitsync <command> [args...]\n\n")

	fmt.Printf("🔐 Session:\n")
	fmt.Printf("  login <user_id> [ttl]      - Write local credentials (e.g. ttl 24h)\n")
	fmt.Printf("  logout                     - Remove local credentials\n")
	fmt.Printf("  whoami                     - Show the signed-in user\n\n")

	fmt.Printf("📡 Gateway (FITSYNC_GATEWAY_URL, FITSYNC_API_KEY):\n")
	fmt.Printf("  feeds                      - List live feeds of the caller\n")
	fmt.Printf("  fetch <channel> [limit]    - One-shot fetch of a feed\n")
	fmt.Printf("  refresh <channel> [limit]  - Force a feed to resubscribe\n\n")

	fmt.Printf("📨 Gossip (FITSYNC_BOOTSTRAP_PEERS, FITSYNC_NAMESPACE):\n")
	fmt.Printf("  publish <channel> <principal> <rows.json> - Publish a snapshot\n\n")

	fmt.Printf("  version                    - Show version\n")
	fmt.Printf("  help                       - Show this help\n")
}
