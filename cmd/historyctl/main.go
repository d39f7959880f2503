// Command historyctl inspects and maintains the conversion history
// ledger used for batch dedup.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"vidconvert/internal/history"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted")
		cancel()
	}()

	ledger, err := history.Open(ctx, historyPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not open history ledger: %v\n", err)
		fmt.Fprintln(os.Stderr, "Set WORK_DIR if the engine uses a non-default work directory")
		os.Exit(1)
	}
	defer ledger.Close()

	switch command {
	case "stats":
		if !showStats(ctx, ledger) {
			os.Exit(1)
		}
	case "export":
		if !exportLedger(ctx, ledger, os.Args[2:]) {
			os.Exit(1)
		}
	case "prune":
		if !pruneLedger(ctx, ledger, os.Args[2:]) {
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %q\n", command)
		printUsage()
		os.Exit(1)
	}
}

func historyPath() string {
	workDir := os.Getenv("WORK_DIR")
	if workDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			workDir = ".vidconvert"
		} else {
			workDir = filepath.Join(home, ".vidconvert")
		}
	}
	return filepath.Join(workDir, "history.db")
}

func showStats(ctx context.Context, ledger *history.History) bool {
	stats, err := ledger.Stats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return false
	}
	fmt.Printf("Conversions: %d\n", stats.Count)
	fmt.Printf("Space saved: %d bytes\n", stats.TotalSaved)
	fmt.Printf("Avg ratio:   %.1f%%\n", stats.AvgRatio*100)
	return true
}

func exportLedger(ctx context.Context, ledger *history.History, args []string) bool {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("o", "history-export.json", "output file")
	_ = fs.Parse(args)

	if err := ledger.ExportJSON(ctx, *out); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return false
	}
	fmt.Printf("Exported to %s\n", *out)
	return true
}

func pruneLedger(ctx context.Context, ledger *history.History, args []string) bool {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	olderThan := fs.Duration("older-than", 365*24*time.Hour, "prune records older than this")
	_ = fs.Parse(args)

	n, err := ledger.Prune(ctx, time.Now().Add(-*olderThan))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return false
	}
	fmt.Printf("Pruned %d records\n", n)
	return true
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: historyctl <command> [options]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  stats                 show ledger statistics")
	fmt.Fprintln(os.Stderr, "  export [-o file]      export the ledger as JSON")
	fmt.Fprintln(os.Stderr, "  prune [-older-than d] delete old records")
}
