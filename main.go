package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"vidconvert/internal/ffmpeg"
	"vidconvert/internal/history"
	"vidconvert/internal/logging"
	"vidconvert/internal/orchestrator"
	"vidconvert/internal/pipeline"
	"vidconvert/internal/scanner"
	"vidconvert/internal/session"
	"vidconvert/internal/startup"
	"vidconvert/internal/statusserver"
	"vidconvert/internal/workers"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	inputDir := flag.String("input", cfg.InputDir, "directory to scan for video files")
	outputDir := flag.String("output", cfg.OutputDir, "directory for converted files")
	workerCount := flag.Int("workers", cfg.Workers, "concurrent conversions (0 = default)")
	resume := flag.Bool("resume", false, "resume an interrupted session if one exists")
	dryRun := flag.Bool("dry-run", false, "report what would be converted without converting")
	flag.Parse()

	cfg.InputDir = *inputDir
	cfg.OutputDir = *outputDir
	cfg.Workers = workers.Count(*workerCount)
	if err := cfg.Validate(); err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}
	cfg.LogConfig()

	// Cancel on the first signal; force-exit on the second.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Warn("Interrupt received, finishing in-flight cancellation (interrupt again to force quit)")
		cancel()
		<-sigCh
		logging.Error("Forced exit")
		os.Exit(130)
	}()

	ledger, err := history.Open(ctx, cfg.HistoryPath)
	if err != nil {
		startup.LogFatal("Failed to open conversion history: %v", err)
	}
	defer ledger.Close()

	sessions, err := session.NewManager(cfg.SessionsDir)
	if err != nil {
		startup.LogFatal("Failed to initialize session store: %v", err)
	}
	defer sessions.Close()

	prober := ffmpeg.NewProber(cfg.FFprobeBinary)
	encCfg := ffmpeg.DefaultEncoderConfig()
	encCfg.Binary = cfg.FFmpegBinary
	encCfg.VideoCodec = cfg.VideoCodec
	encCfg.CRF = cfg.CRF
	encCfg.Preset = cfg.Preset

	collab := pipeline.Collaborators{
		Exporter:  scanner.NewCopyExporter(cfg.StagingDir),
		Encoder:   ffmpeg.NewEncoder(encCfg),
		Validator: ffmpeg.NewValidator(prober),
		Restorer:  ffmpeg.NewRestorer(cfg.FFmpegBinary),
	}
	source := scanner.New(cfg.InputDir, prober)

	orch := orchestrator.New(orchestrator.Config{
		OutputDir:   cfg.OutputDir,
		TargetCodec: cfg.TargetCodec,
		Workers:     cfg.Workers,
		Resume:      *resume,
		DryRun:      *dryRun,
		RatioPolicy: pipeline.RatioPolicy(cfg.RatioPolicy),
		RetryPolicy: cfg.RetryPolicy,
	}, source, collab, sessions, ledger)

	if cfg.StatusAddr != "" {
		srv := statusserver.New(sessions, orch.Progress)
		srv.Start(cfg.StatusAddr)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	stopProgress := startProgressReporter(ctx, orch)
	result, err := orch.RunBatch(ctx)
	stopProgress()

	if err != nil {
		if errors.Is(err, session.ErrSessionLocked) || errors.Is(err, session.ErrDuplicateSession) {
			logging.Error("Another run is already active: %v", err)
		} else {
			logging.Error("Batch failed: %v", err)
		}
		return 1
	}

	printReport(orch, result)
	return result.ExitCode()
}

// startProgressReporter periodically surfaces aggregated progress.
// Inline rendering is reserved for interactive terminals; otherwise
// progress goes through the logger so piped output stays line-oriented.
func startProgressReporter(ctx context.Context, orch *orchestrator.Orchestrator) (stop func()) {
	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				snap := orch.Progress()
				if snap == nil {
					continue
				}
				if interactive {
					fmt.Printf("\rProgress: %5.1f%% (%d active)",
						snap.OverallFraction*100, len(snap.PerTaskFractions))
				} else {
					logging.Info("Progress: %.1f%%", snap.OverallFraction*100)
				}
			}
		}
	}()

	return func() {
		close(done)
		<-finished
		if interactive {
			fmt.Println()
		}
	}
}

// printReport writes the end-of-run summary.
func printReport(orch *orchestrator.Orchestrator, r orchestrator.BatchResult) {
	logging.Info("==============================")
	logging.Info("Done: %d succeeded, %d failed, %d skipped (of %d)",
		r.Succeeded, r.Failed, r.Skipped, r.Total)
	logging.Info("  Duration: %s", r.Duration.Round(time.Second))

	if saved := r.SpaceSaved(); saved >= 0 && r.Succeeded > 0 {
		logging.Info("  Space saved: %s (input %s -> output %s)",
			formatBytes(saved), formatBytes(r.OriginalSize), formatBytes(r.ConvertedSize))
	} else if saved < 0 {
		logging.Warn("  Space saved: -%s (overall output is larger)", formatBytes(-saved))
	}

	for _, f := range orch.Failures() {
		logging.Warn("  Failed: %s [%s after %d attempts] %s", f.TaskID, f.Category, f.AttemptCount, f.Message)
	}
}

// formatBytes renders a byte count in human units.
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
