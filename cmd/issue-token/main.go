// Command issue-token signs an agent credential for local use against the api.
// It reads the same JWT_* environment as the api.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"calldesk/internal/auth"
	"calldesk/internal/config"
	"calldesk/internal/rbac"
)

func main() {
	var (
		userID      = flag.String("user", "", "agent user id (required)")
		workspaceID = flag.String("workspace", "", "workspace id (required)")
		role        = flag.String("role", rbac.RoleAgent, "role: agent, supervisor, owner")
		refresh     = flag.Bool("refresh", false, "also print the refresh token")
	)
	flag.Parse()

	if *userID == "" || *workspaceID == "" {
		flag.Usage()
		os.Exit(2)
	}
	if !rbac.IsKnownRole(*role) {
		slog.Error("unknown role", "role", *role)
		os.Exit(2)
	}

	cfg, err := config.LoadAuth()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	m, err := auth.NewManager(cfg)
	if err != nil {
		slog.Error("auth init failed", "err", err)
		os.Exit(1)
	}
	pair, err := m.IssuePair(time.Now(), *userID, *workspaceID, *role)
	if err != nil {
		slog.Error("token issuance failed", "err", err)
		os.Exit(1)
	}

	fmt.Println(pair.AccessToken)
	if *refresh {
		fmt.Println(pair.RefreshToken)
	}
}
