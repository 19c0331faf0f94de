package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/symdex/symdex/cache"
	"github.com/symdex/symdex/commands"
	"github.com/symdex/symdex/config"
	"github.com/symdex/symdex/daemon"
	"github.com/symdex/symdex/indexer"
	"github.com/symdex/symdex/internal/logging"
	"github.com/symdex/symdex/request"
	"github.com/symdex/symdex/sched"
	"github.com/symdex/symdex/storage"
	"github.com/symdex/symdex/watcher"
)

var (
	serveStdin      bool
	serveBackground bool
	serveStatus     bool
	serveStop       bool
)

func init() {
	rootCmd.Flags().BoolVar(&serveStdin, "stdin", false, "Read one request from standard input instead of serving a socket")
	rootCmd.Flags().BoolVar(&serveBackground, "background", false, "Run the daemon in the background")
	rootCmd.Flags().BoolVar(&serveStatus, "status", false, "Show daemon status")
	rootCmd.Flags().BoolVar(&serveStop, "stop", false, "Stop the background daemon")
}

func runServe(cmd *cobra.Command, args []string) error {
	activeFlags := 0
	for _, f := range []bool{serveStdin, serveBackground, serveStatus, serveStop} {
		if f {
			activeFlags++
		}
	}
	if activeFlags > 1 {
		return fmt.Errorf("flags --stdin, --background, --status, and --stop are mutually exclusive")
	}

	projectRoot, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	if !config.Exists(projectRoot) {
		return fmt.Errorf("symdex is not initialized in %s (run 'symdex init' first)", projectRoot)
	}

	if serveStatus {
		return showStatus(projectRoot)
	}
	if serveStop {
		return stopDaemon(projectRoot)
	}
	if serveBackground && os.Getenv("SYMDEX_BACKGROUND") == "" {
		return startBackground(projectRoot)
	}

	cfg, err := config.Load(projectRoot)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	return serve(cfg, projectRoot)
}

// serve runs the daemon until the context is canceled by a signal or the
// serving front end terminates via the exit command. In --stdin mode the
// socket is replaced by a single request read from standard input; the
// supervised machinery is the same in both modes.
func serve(cfg *config.Config, projectRoot string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var logW io.Writer = os.Stderr
	if os.Getenv("SYMDEX_BACKGROUND") != "" {
		logFile, err := os.OpenFile(config.GetLogPath(projectRoot), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer logFile.Close()
		logW = logFile
	}
	logger := logging.New(logW, slog.LevelInfo)

	st, err := storage.NewStore(ctx, cfg, projectRoot)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer st.Close()

	fileCache := cache.New()
	extractor := indexer.NewExtractor(cfg.Index.Languages)
	idx := indexer.New(st, fileCache, extractor, logger)

	scheduler := sched.New(sched.RescanFunc(func(ctx context.Context) error {
		_, err := idx.Rescan(ctx)
		return err
	}), logger)

	fsWatcher, err := watcher.New(st, scheduler, logger)
	if err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	defer fsWatcher.Close()
	fsWatcher.SetWaitTimeout(time.Duration(cfg.Watch.PollTimeoutMs) * time.Millisecond)
	scheduler.BindWatcher(fsWatcher)

	registry := commands.Register(request.NewRegistry(), commands.Deps{
		Store:     st,
		Cache:     fileCache,
		Scheduler: scheduler,
		Extractor: extractor,
		Config:    cfg,
	})

	// The serving goroutine cancels the group so scheduler and watcher wind
	// down after an exit command, not only on signals.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return fsWatcher.Run(gctx) })

	if serveStdin {
		g.Go(func() error {
			defer cancel()
			return request.Execute(gctx, registry, os.Stdin, os.Stdout)
		})
		return g.Wait()
	}

	srv, err := request.NewServer(registry, logger,
		config.GetPIDPath(projectRoot), config.GetSocketPath(projectRoot))
	if err != nil {
		return err
	}
	defer srv.Close()

	logger.Info("daemon started",
		slog.Int("pid", os.Getpid()),
		slog.String("socket", config.GetSocketPath(projectRoot)))

	scheduler.RequestRescan()

	g.Go(func() error {
		defer cancel()
		return srv.Serve(gctx)
	})
	return g.Wait()
}

func showStatus(projectRoot string) error {
	pid, err := daemon.GetRunningPID(config.GetPIDPath(projectRoot))
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}
	if pid == 0 {
		fmt.Println("Status: not running")
		return nil
	}
	fmt.Println("Status: running")
	fmt.Printf("PID: %d\n", pid)
	fmt.Printf("Socket: %s\n", config.GetSocketPath(projectRoot))
	fmt.Printf("Log file: %s\n", config.GetLogPath(projectRoot))
	return nil
}

func stopDaemon(projectRoot string) error {
	pidPath := config.GetPIDPath(projectRoot)
	pid, err := daemon.GetRunningPID(pidPath)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}
	if pid == 0 {
		fmt.Println("No background daemon is running")
		return nil
	}

	fmt.Printf("Stopping background daemon (PID %d)...\n", pid)
	if err := daemon.StopProcess(pid); err != nil {
		return fmt.Errorf("failed to stop process: %w", err)
	}

	const shutdownTimeout = 30 * time.Second
	const pollInterval = 500 * time.Millisecond
	deadline := time.Now().Add(shutdownTimeout)
	for time.Now().Before(deadline) {
		if !daemon.IsProcessRunning(pid) {
			break
		}
		time.Sleep(pollInterval)
	}
	if daemon.IsProcessRunning(pid) {
		return fmt.Errorf("process did not stop within %v\nStill running? Try: kill -9 %d\nOr check logs at: %s",
			shutdownTimeout, pid, config.GetLogPath(projectRoot))
	}

	if err := daemon.RemovePIDFile(pidPath, nil); err != nil {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	fmt.Println("Background daemon stopped")
	return nil
}

func startBackground(projectRoot string) error {
	pidPath := config.GetPIDPath(projectRoot)
	pid, err := daemon.GetRunningPID(pidPath)
	if err != nil {
		return fmt.Errorf("failed to check running status: %w", err)
	}
	if pid > 0 {
		return fmt.Errorf("daemon is already running (PID %d)\nUse 'symdex --stop' to stop it", pid)
	}

	logPath := config.GetLogPath(projectRoot)
	childPID, exitCh, err := daemon.SpawnBackground(logPath, nil)
	if err != nil {
		return err
	}

	// Wait for the PID file to appear, also checking for early child exit.
	const startupTimeout = 30 * time.Second
	const pollInterval = 250 * time.Millisecond
	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		runningPID, pidErr := daemon.GetRunningPID(pidPath)
		if pidErr == nil && runningPID == childPID {
			fmt.Printf("Background daemon started (PID %d)\n", childPID)
			fmt.Printf("Logs: %s\n", logPath)
			fmt.Printf("\nUse 'symdex --status' to check status\n")
			fmt.Printf("Use 'symdex --stop' to stop the daemon\n")
			return nil
		}
		select {
		case <-exitCh:
			return fmt.Errorf("background process failed to start (check logs at %s)", logPath)
		default:
		}
		time.Sleep(pollInterval)
	}

	return fmt.Errorf("timeout waiting for daemon to become ready after %v (check logs at %s)", startupTimeout, logPath)
}
