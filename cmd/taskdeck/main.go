// Command taskdeck is the terminal dashboard for monitoring agent task
// execution against a taskdeck server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/taskdeck/taskdeck/client"
	"github.com/taskdeck/taskdeck/config"
	"github.com/taskdeck/taskdeck/dashboard"
)

var (
	configPath = flag.String("config", "", "path to YAML config file")
	serverURL  = flag.String("server", "", "server base URL (overrides config)")
	agentType  = flag.String("agent", "", "agent type to scope the dashboard to (overrides config)")
	token      = flag.String("token", "", "bearer token for an auth-enabled server")
	username   = flag.String("user", "", "username to log in with when no token is given")
	password   = flag.String("pass", "", "password to log in with when no token is given")
)

func main() {
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if *serverURL != "" {
		cfg.Dashboard.ServerURL = *serverURL
	}
	if *agentType != "" {
		cfg.Dashboard.AgentType = *agentType
	}

	c := client.New(cfg.Dashboard.ServerURL, *token)
	if *token == "" && *username != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		tok, err := c.Login(ctx, *username, *password)
		cancel()
		if err != nil {
			log.Fatalf("Login failed: %v", err)
		}
		c.SetToken(tok)
	}

	// The TUI owns the terminal; route logs to a file instead.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if f, err := os.OpenFile("taskdeck.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
		defer f.Close() //nolint:errcheck
		logger = slog.New(slog.NewTextHandler(f, nil))
	}

	view := dashboard.NewView(c, dashboard.Options{
		AgentType:     cfg.Dashboard.AgentType,
		PageSize:      cfg.Dashboard.PageSize,
		PollInterval:  cfg.Dashboard.PollInterval.Std(),
		ActivityLimit: cfg.Dashboard.ActivityLimit,
		Logger:        logger,
	})
	view.Start()
	defer view.Stop()

	p := tea.NewProgram(newModel(view, cfg.Dashboard.AgentType), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "taskdeck: %v\n", err)
		os.Exit(1)
	}
}
