package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/chatcommerce/internal/api"
	"github.com/kalambet/chatcommerce/internal/config"
	"github.com/kalambet/chatcommerce/internal/janitor"
	"github.com/kalambet/chatcommerce/internal/persist"
	"github.com/kalambet/chatcommerce/internal/ratelimit"
)

const shutdownTimeout = 5 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the chatcommerce server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running chatcommerce server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show chatcommerce status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "chatcommerce.pid")
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

func serverURL(cfg config.Config) string {
	return "http://" + net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "chatcommerce version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(serverURL(cfg) + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("chatcommerce is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("chatcommerce is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	limiter := ratelimit.New(cfg.RateLimit.Limit, cfg.RateLimit.Window)
	if cfg.API.Token == "" {
		slog.Info("CHATCOMMERCE_API_TOKEN not set; record endpoints disabled")
	}
	handler := api.NewHandler(api.Deps{
		Chat:    a.chat,
		Limiter: limiter,
		Records: a.records,
		Jobs:    a.store,
		Token:   cfg.API.Token,
	})

	// The worker outlives request contexts so queued records still land
	// after the HTTP server stops.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	a.recoverJobs()
	worker := persist.NewWorker(a.store, a.sink, 500*time.Millisecond)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(workerCtx)
	}()

	jan, err := janitor.New(janitor.Tasks(janitor.Deps{
		Caches:  []janitor.Pruner{a.web, a.extractor},
		Limiter: limiter,
		Jobs:    a.store,
	})...)
	if err != nil {
		return err
	}
	jan.Start()

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "chatcommerce listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	jan.Stop(shutdownCtx)

	stopWorker()
	<-workerDone
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelDrain()
	if n := worker.Drain(drainCtx); n > 0 {
		slog.Info("persisted queued records on shutdown", "jobs", n)
	}
	return serveErr
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
		printError("chatcommerce is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop chatcommerce (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to chatcommerce (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(serverURL(cfg) + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		var health struct {
			Jobs map[string]int `json:"jobs"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&health)
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on %s", serverURL(cfg))
			if decodeErr == nil && health.Jobs != nil {
				printStatus("Queued records", "%d pending, %d failed", health.Jobs["pending"], health.Jobs["failed"])
			}
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Model", "%s (%s)", cfg.LLM.Model, configured(cfg.LLM.APIKey))
	printStatus("Search", "tavily (%s)", configured(cfg.Search.APIKey))
	printStatus("Reader", "%s", cfg.Reader.Provider)
	if cfg.Storage.DatabaseURL != "" {
		printStatus("Records", "postgres")
	} else {
		printStatus("Records", "sqlite")
	}
	printStatus("Lead flow", "%t", cfg.Chat.LeadFlow)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func configured(secret string) string {
	if secret == "" {
		return "not configured"
	}
	return "configured"
}
