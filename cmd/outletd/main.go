// Command outletd runs the outlet presence monitor: it watches a fixed
// set of cameras for enrolled targets and fires absence alerts when a
// target has not been seen on any configured camera for longer than the
// configured absence threshold (presence.absent_seconds). Grounded on the teacher's main.go (flag
// parsing, logger construction, signal-driven graceful shutdown).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/outletguard/orchestrator/internal/config"
	"github.com/outletguard/orchestrator/internal/logger"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: outletd <run|enroll> [flags]")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runCommand(os.Args[2:])
	case "enroll":
		enrollCommand(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q; expected run or enroll\n", os.Args[1])
		os.Exit(1)
	}
}

func loadConfigOrExit(configPath string) *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func buildLoggerOrExit(cfg *config.Config) *logger.Logger {
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return log
}

// waitForShutdownSignal blocks until SIGINT/SIGTERM, then cancels ctx's
// parent cancel func and returns the signal received.
func waitForShutdownSignal(cancel context.CancelFunc) os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	cancel()
	return sig
}

const shutdownTimeout = 30 * time.Second
