// Command deltafeed runs one change-detection cycle over the configured
// source fleet and exits: 0 when every source is ok or disabled, 1 when
// any source errored or the cycle itself failed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deltafeed/engine/internal/cycle"
	"github.com/deltafeed/engine/pkg/telemetry"
)

const serviceName = "deltafeed"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configDir   = flag.String("config-dir", getenv("DELTAFEED_CONFIG_DIR", "."), "directory holding sources.config.json")
		env         = flag.String("env", getenv("DELTAFEED_ENV", ""), "optional config overlay environment")
		outDir      = flag.String("out-dir", getenv("DELTAFEED_OUT_DIR", "."), "root directory for published feeds and state")
		archivePath = flag.String("archive", getenv("DELTAFEED_ARCHIVE", ""), "optional provenance archive database path")
		logLevel    = flag.String("log-level", getenv("DELTAFEED_LOG_LEVEL", "info"), "debug|info|warn|error")
	)
	flag.Parse()

	logger := telemetry.New(os.Stdout, serviceName, telemetry.Level(*logLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	report, err := cycle.Run(ctx, cycle.Options{
		ConfigDir:   *configDir,
		Env:         *env,
		OutDir:      *outDir,
		ArchivePath: *archivePath,
		Logger:      logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		logger.Error("cycle_failed", map[string]any{
			"run_id":      report.RunID,
			"error":       err,
			"duration_ms": time.Since(started).Milliseconds(),
		})
		return 1
	}
	logger.Info("cycle_finished", map[string]any{
		"run_id":      report.RunID,
		"exit_code":   report.ExitCode,
		"duration_ms": time.Since(started).Milliseconds(),
	})
	return report.ExitCode
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
