// Taskboard MCP server: exposes the task tool catalogue over stdio to MCP
// clients. The acting user is fixed at startup via TASKBOARD_MCP_USER_ID;
// all tool calls run with that user's project permissions.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"taskboard/api/internal/app"
	"taskboard/api/internal/config"
	"taskboard/api/internal/logging"
	"taskboard/api/internal/mcpserver"
	"taskboard/api/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	if strings.TrimSpace(cfg.MCPUserID) == "" {
		return fmt.Errorf("TASKBOARD_MCP_USER_ID is required")
	}

	// Logs go to a file or stderr, never stdout: stdout carries the MCP
	// stdio transport.
	logger := logging.New(cfg.LogLevel, cfg.LogFile, cfg.LogMaxSize)

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	dataStore := store.NewPostgresStore(db)
	service := app.New(cfg, dataStore, nil, nil, nil, logger)

	name := cfg.MCPUserName
	if strings.TrimSpace(name) == "" {
		name = cfg.MCPUserID
	}
	actor, err := service.EnsureIdentity(ctx, cfg.MCPUserID, name)
	if err != nil {
		return fmt.Errorf("resolve acting user: %w", err)
	}

	return mcpserver.ServeStdio(mcpserver.New(service, actor))
}
