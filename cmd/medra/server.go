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

	"github.com/medrahq/medra/internal/api"
	"github.com/medrahq/medra/internal/config"
	"github.com/medrahq/medra/internal/contextstore"
	"github.com/medrahq/medra/internal/generate"
	"github.com/medrahq/medra/internal/keywords"
	"github.com/medrahq/medra/internal/media"
	"github.com/medrahq/medra/internal/storage"
	"github.com/medrahq/medra/internal/upstream"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the medra server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running medra server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show medra system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "medra.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "medra version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("medra is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("medra is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Keyword vocabulary: built-in clinical table, or a JSON override.
	table := keywords.DefaultTable()
	if cfg.Retrieval.KeywordsFile != "" {
		table, err = keywords.LoadTable(cfg.Retrieval.KeywordsFile)
		if err != nil {
			return fmt.Errorf("loading keywords file: %w", err)
		}
		slog.Info("loaded keyword vocabulary", "path", cfg.Retrieval.KeywordsFile)
	}
	extractor := keywords.NewExtractor(table)
	turns := contextstore.NewSQLiteStore(store.DB(), extractor, cfg.Retrieval.MaxTurns)

	fetchTimeout, err := time.ParseDuration(cfg.Media.FetchTimeout)
	if err != nil {
		slog.Warn("invalid media fetch timeout, using default 10s", "value", cfg.Media.FetchTimeout, "error", err)
		fetchTimeout = 10 * time.Second
	}
	fetcher := media.NewFetcher(fetchTimeout)

	client := upstream.NewClient(cfg.Model.Endpoint)
	generator := generate.NewGenerator(store, turns, fetcher, client, generate.Options{
		Model:        cfg.Model.Name,
		SystemPrompt: cfg.Model.SystemPrompt,
		Temperature:  cfg.Model.Temperature,
		MaxTokens:    cfg.Model.MaxTokens,
	})

	handler := api.NewHandler(api.Deps{
		Store:      store,
		Turns:      turns,
		Generator:  generator,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		Token:      cfg.Server.APIToken,
	})
	if cfg.Server.APIToken == "" {
		slog.Info("API bearer auth disabled (no token configured)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build the MCP server and expose it on two transports: stdio for
	// a parent process, SSE on the configured MCP port for network
	// clients.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store: store,
		Turns: turns,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	mcpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort)
	sseSrv := server.NewSSEServer(mcpSrv)
	go func() {
		if err := sseSrv.Start(mcpAddr); err != nil && err != http.ErrServerClosed {
			slog.Error("MCP SSE server error", "error", err)
		}
	}()
	slog.Info("MCP server started", "transports", "stdio, sse", "addr", mcpAddr)

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "medra listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sseSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("MCP SSE server shutdown", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
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
		printError("medra is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop medra (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to medra (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Probe the model endpoint. A connection error means the local
	// inference server is down; any HTTP response means it is up.
	modelResp, err := client.Get(cfg.Model.Endpoint)
	if err != nil {
		printStatus("Model endpoint", "not reachable (%s)", cfg.Model.Endpoint)
	} else {
		modelResp.Body.Close()
		printStatus("Model endpoint", "reachable at %s", cfg.Model.Endpoint)
	}

	printStatus("Model", "%s", cfg.Model.Name)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
