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

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/voxbar/internal/api"
	"github.com/kalambet/voxbar/internal/composer"
	"github.com/kalambet/voxbar/internal/config"
	"github.com/kalambet/voxbar/internal/credential"
	"github.com/kalambet/voxbar/internal/derive"
	"github.com/kalambet/voxbar/internal/engine"
	"github.com/kalambet/voxbar/internal/improve"
	"github.com/kalambet/voxbar/internal/interactions"
	"github.com/kalambet/voxbar/internal/notify"
	"github.com/kalambet/voxbar/internal/profile"
	"github.com/kalambet/voxbar/internal/retention"
	"github.com/kalambet/voxbar/internal/sampler"
	"github.com/kalambet/voxbar/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the voxbar daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp")
		return runServer(mcpStdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running voxbar daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and improvement status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "voxbar.pid")
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

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(stderr, "voxbar version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)})))

	kc := config.NewKeychain()
	apiToken, err := config.GetAPIToken(kc)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Refuse to start twice. The health endpoint is the source of truth; the
	// PID file only improves the message.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("voxbar is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("voxbar is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(stderr, "warning: closing storage: %v\n", err)
		}
	}()

	logs := interactions.New(cfg.Storage.DataDir)
	go retention.NewWorker(logs, cfg.Logs.RetentionDays, retention.DefaultInterval).Run(ctx)
	profileMgr := profile.NewManager(store)

	creds := credential.New(cfg.LLM.Provider, config.APIKeyLookup(kc))
	if !creds.HasValidCredential() {
		slog.Warn("no LLM API key configured; improvement is paused until one is set", "provider", cfg.LLM.Provider)
	}

	eng, err := engine.Detect(engine.DetectConfig{
		Provider:      cfg.LLM.Provider,
		BaseURL:       cfg.LLM.BaseURL,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		Key:           creds.Current,
		Timeout:       cfg.LLM.TimeoutDuration(),
		HTTP2:         cfg.LLM.HTTP2,
	})
	if err != nil {
		return fmt.Errorf("selecting LLM backend: %w", err)
	}
	if cfg.LLM.Provider == engine.ProviderOllama {
		// Logging keeps working without the local model; sweeps record failures.
		if err := engine.EnsureReady(ctx, eng, cfg.LLM.Model, stderr); err != nil {
			slog.Warn("local model not ready", "error", err)
		}
	}
	opts, err := cfg.Improve.Options()
	if err != nil {
		return fmt.Errorf("improve options: %w", err)
	}
	smp := sampler.New()
	smp.MaxFieldChars = cfg.Improve.MaxFieldChars

	deriver := derive.NewClient(eng, creds, store, cfg.LLM.Model).WithTimeout(cfg.LLM.TimeoutDuration())
	slog.Info("LLM backend selected", "provider", eng.Name(), "model", deriver.Model())
	sched, err := improve.New(improve.Deps{
		Logs:        logs,
		Deriver:     deriver,
		Config:      profileMgr,
		State:       store,
		Credentials: creds,
		Sampler:     smp,
		Logger:      slog.Default().With("component", "improve"),
	}, opts)
	if err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	schedDone := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(schedDone)
	}()

	if cfg.Notify.Enabled {
		events, unsubscribe := sched.Subscribe()
		defer unsubscribe()
		go notify.New(nil).Watch(ctx, events)
	}

	appHandler := api.NewAppHandler(api.AppDeps{
		Store:     store,
		Logs:      logs,
		Profile:   profileMgr,
		Composer:  composer.New(profileMgr, 0),
		Scheduler: sched,
		Token:     apiToken,
	})

	topRouter := chi.NewRouter()
	topRouter.Mount("/", appHandler)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           topRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Logs:      logs,
			Profile:   profileMgr,
			Scheduler: sched,
			Version:   version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(stderr, "voxbar listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			stop()
			<-schedDone
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	<-schedDone
	return err
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
		printError("voxbar is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop voxbar (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to voxbar (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	printStatus("LLM", "%s (%s)", cfg.LLM.Provider, cfg.LLM.Model)
	creds := credential.New(cfg.LLM.Provider, config.APIKeyLookup(config.NewKeychain()))
	switch {
	case !creds.NeedsKey():
		printStatus("API key", "not required")
	case creds.HasValidCredential():
		printStatus("API key", "configured")
	default:
		printStatus("API key", "missing")
	}

	client, err := newAPIClient()
	if err != nil {
		printStatus("Server", "unknown (%v)", err)
		return nil
	}
	printServerStatus(ctx, client, cfg.Server.Port)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// printServerStatus reports health and, when the daemon is up, the
// scheduler's counters.
func printServerStatus(ctx context.Context, client *apiClient, port int) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
		return
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		return
	}
	printStatus("Server", "running on port %d", port)

	resp, err = client.get(ctx, "/improve/status")
	if err != nil {
		return
	}
	var st improve.Status
	if err := decodeJSON(resp, &st); err != nil {
		printWarning("could not read improvement status: %v", err)
		return
	}
	printImproveStatus(st)
}

func printImproveStatus(st improve.Status) {
	switch {
	case !st.Enabled:
		printStatus("Improvement", "disabled")
	case st.Running:
		printStatus("Improvement", "running")
	default:
		printStatus("Improvement", "idle")
	}
	printStatus("Cooldown", "%s", cooldownLabel(st.Cooldown))
	printStatus("Operations", "%d of %d since last run", st.DictationCounter, st.Threshold)
	if st.LastRunAt.IsZero() {
		printStatus("Last run", "never")
	} else {
		printStatus("Last run", "%s", st.LastRunAt.Local().Format(time.DateTime))
	}
}

func cooldownLabel(c improve.Cooldown) string {
	switch {
	case c.IsNever(), c.IsAlways():
		return c.String()
	case c.String() == "1":
		return "1 day"
	}
	return c.String() + " days"
}
