package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/metrowatch/genlog/internal/api"
	"github.com/metrowatch/genlog/internal/chat"
	"github.com/metrowatch/genlog/internal/config"
	"github.com/metrowatch/genlog/internal/logbook"
	"github.com/metrowatch/genlog/internal/nlp"
	"github.com/metrowatch/genlog/internal/render"
	"github.com/metrowatch/genlog/internal/service"
	"github.com/metrowatch/genlog/internal/wiki"
	"github.com/metrowatch/genlog/internal/workflow"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the genlog server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running genlog server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show genlog system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "genlog.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// resetterFunc adapts a closure to the rollover-reset hook.
type resetterFunc func()

func (f resetterFunc) DayReset() { f() }

func runServer() error {
	fmt.Fprintf(os.Stderr, "genlog version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
	for _, warning := range cfg.Warnings() {
		slog.Warn(warning)
	}

	// Refuse to double-start. The health endpoint is the authority; the PID
	// file only improves the error message.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("genlog is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("genlog is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := logbook.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Chat gateway and channels.
	gateway := chat.NewGateway(cfg.Gateway.BaseURL, cfg.Gateway.Token)
	logChannel := gateway.Channel(cfg.Gateway.LogChannel)
	var approval chat.Channel
	if cfg.Gateway.ApprovalChannel != "" {
		approval = gateway.Channel(cfg.Gateway.ApprovalChannel)
	}
	var feedChannel chat.Channel
	if cfg.Gateway.FeedChannel != "" {
		feedChannel = gateway.Channel(cfg.Gateway.FeedChannel)
	}

	// Core wiring: renderer -> coordinator -> workflow and NLP on top.
	renderer := render.New(logChannel, store, nil)
	coordinator := service.New(store, renderer)
	feed := render.NewFeed(feedChannel)
	wf := workflow.New(coordinator, gateway, approval, feed)
	coordinator.OnDayReset(wf)

	var dataset *wiki.Dataset
	if cfg.Wiki.BaseURL != "" {
		dataset = wiki.NewDataset(wiki.NewClient(cfg.Wiki.BaseURL), slog.Default())
	}
	tiers := nlp.BuildTiers(cfg.Models.GoogleAPIKey, cfg.Models.GroqAPIKey, cfg.Models.OpenRouterAPIKey)
	orchestrator := nlp.New(tiers, dataset, coordinator, gateway, slog.Default())
	coordinator.OnDayReset(orchestrator)
	coordinator.OnDayReset(resetterFunc(func() {
		dataset.Refresh(context.Background())
	}))

	if err := coordinator.Start(ctx); err != nil {
		return fmt.Errorf("starting coordinator: %w", err)
	}
	dataset.Refresh(ctx)
	slog.Info("log loaded", "services", len(coordinator.Snapshot()), "models", len(tiers))

	appHandler := api.NewAppHandler(api.AppDeps{
		Coordinator: coordinator,
		Workflow:    wf,
		NLP:         orchestrator,
		Token:       cfg.Gateway.Token,
	})
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: appHandler}

	mcpSrv := server.NewStreamableHTTPServer(api.NewMCPServer(api.MCPDeps{Log: coordinator}))
	mcpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("HTTP API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("MCP server listening", "addr", mcpAddr)
		if err := mcpSrv.Start(mcpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return coordinator.RunRolloverLoop(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mcpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("mcp shutdown", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("genlog is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop genlog (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to genlog (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Gateway", "%s", cfg.Gateway.BaseURL)
	models := 0
	for _, key := range []string{cfg.Models.GoogleAPIKey, cfg.Models.GroqAPIKey, cfg.Models.OpenRouterAPIKey} {
		if key != "" {
			models++
		}
	}
	if models == 0 {
		printStatus("AI logging", "disabled (no API keys)")
	} else {
		printStatus("AI logging", "%d provider key(s)", models)
	}
	if cfg.Wiki.BaseURL == "" {
		printStatus("Wiki", "not configured")
	} else {
		printStatus("Wiki", "%s", cfg.Wiki.BaseURL)
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
