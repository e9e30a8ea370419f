package main

import (
	"context"
	"errors"
	"fmt"
	"net"
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
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/clinicdocs/docgate/internal/api"
	"github.com/clinicdocs/docgate/internal/config"
	"github.com/clinicdocs/docgate/internal/statussync"
	"github.com/clinicdocs/docgate/internal/storage"
)

const (
	maxConnections  = 256
	shutdownTimeout = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Run the HTTP gateway (foreground)",
	Long: `Run the HTTP gateway in the foreground.

With --mcp the same gateway is also served as MCP tools over stdin/stdout,
for use as a subprocess of an MCP client.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(cmd.Context(), withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "docgate.pid")
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

func runServer(parent context.Context, withMCP bool) error {
	if parent == nil {
		parent = context.Background()
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg
	log := a.logger

	log.Info("docgate starting", "version", version, "port", cfg.Server.Port, "data_dir", cfg.Storage.DataDir)
	if !a.gw.Configured() {
		log.Warn("document provider is not configured; provider routes will answer 503", "hint", config.MissingKeyHint())
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	pidPath := pidFilePath(cfg.Storage.DataDir)
	if running(addr) {
		if pid, err := readPIDFile(pidPath); err == nil {
			return fmt.Errorf("docgate is already running (PID %d)", pid)
		}
		return fmt.Errorf("something is already listening on %s", addr)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := api.NewProxyHandler(api.ProxyDeps{
		Gateway: a.gw,
		Uploads: a.ledger,
		Metrics: a.metrics,
		Logger:  log,
	})
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	ln = netutil.LimitListener(ln, maxConnections)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("docgate listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.StatusSync.Enabled && a.gw.Configured() {
		worker := statussync.NewWorker(a.store, a.gw, cfg.StatusSync.PollInterval)
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
		log.Info("status sync worker started", "poll_interval", cfg.StatusSync.PollInterval)
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Gateway: a.gw,
			Uploads: a.ledger,
			Logger:  log,
			Version: version,
		})
		stdio := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			err := stdio.Listen(gctx, os.Stdin, os.Stdout)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("mcp stdio server: %w", err)
			}
			return nil
		})
		log.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}

// running reports whether a docgate health endpoint answers on addr.
func running(addr string) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("docgate is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidPath)
		return fmt.Errorf("stopping docgate (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to docgate (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	if running(addr) {
		printStatus("Server", "running on port %d", cfg.Server.Port)
	} else {
		printStatus("Server", "stopped")
	}

	switch {
	case cfg.Provider.BaseURL == "":
		printStatus("Provider", "%s", colorize(colorYellow, "no base URL"))
	case cfg.Provider.APIKey == "":
		printStatus("Provider", "%s (%s)", cfg.Provider.BaseURL, colorize(colorYellow, "no API key"))
	default:
		printStatus("Provider", "%s", cfg.Provider.BaseURL)
	}
	if cfg.Provider.DefaultFolder != "" {
		printStatus("Default folder", "%s", cfg.Provider.DefaultFolder)
	}

	if store, err := storage.Open(cfg.Storage.DataDir); err == nil {
		for _, st := range []string{storage.SyncPending, storage.SyncProcessing, storage.SyncUploadFailed} {
			if ups, err := store.ListUploads(100, st); err == nil && len(ups) > 0 {
				printStatus("Uploads "+st, "%s", countLabel(len(ups), 100))
			}
		}
		store.Close()
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return strconv.Itoa(count)
}
