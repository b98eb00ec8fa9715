package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/takumin/cloudcase/internal/ledger"
)

var (
	queryStepOnly   bool
	queryResultOnly bool
	queryNoDetail   bool
	progressFile    string
	progressWatch   bool
)

func init() {
	queryCmd := &cobra.Command{
		Use:   "query RUN_ID",
		Short: "Inspect a remote run's current step and result",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuery,
	}
	queryCmd.Flags().BoolVar(&queryStepOnly, "step-only", false, "only show the current step")
	queryCmd.Flags().BoolVar(&queryResultOnly, "result-only", false, "only show the final result")
	queryCmd.Flags().BoolVar(&queryNoDetail, "no-detail", false, "fetch the result without detailed output")
	rootCmd.AddCommand(queryCmd)

	cancelCmd := &cobra.Command{
		Use:   "cancel RUN_ID",
		Short: "Request cancellation of a remote run",
		Args:  cobra.ExactArgs(1),
		RunE:  runCancel,
	}
	rootCmd.AddCommand(cancelCmd)

	progressCmd := &cobra.Command{
		Use:   "progress",
		Short: "Show completion progress of the current or given result log",
		RunE:  runProgress,
	}
	progressCmd.Flags().StringVar(&progressFile, "file", "", "result log to inspect (defaults to the newest)")
	progressCmd.Flags().BoolVar(&progressWatch, "watch", false, "keep reporting as the log grows")
	rootCmd.AddCommand(progressCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	runID := args[0]
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !queryResultOnly {
		step, err := client.PollStep(ctx, runID)
		if err != nil {
			return err
		}
		fmt.Printf("step status=%s signal=%s\n", step.Status, step.Signal)
		printJSON(step.Raw)
	}
	if !queryStepOnly {
		res, err := client.FetchResult(ctx, runID, !queryNoDetail)
		if err != nil {
			return err
		}
		fmt.Printf("result outcome=%s\n", res.Outcome)
		printJSON(res.Raw)
	}
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	receipt, err := client.CancelTask(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("cancel accepted=%t detail=%s\n", receipt.Accepted, receipt.Detail)
	return nil
}

func runProgress(cmd *cobra.Command, args []string) error {
	path := progressFile
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path, err = ledger.LatestLog(cfg.Runner.ResultsDir)
		if err != nil {
			return err
		}
	}

	done, err := printProgress(path)
	if err != nil {
		return err
	}
	if !progressWatch || done {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer watcher.Close()
	// Watch the directory: appenders write the file in place but editors and
	// finalization may replace it.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			done, err := printProgress(path)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		}
	}
}

func printProgress(path string) (done bool, err error) {
	p, err := ledger.ReadProgress(path)
	if err != nil {
		return false, err
	}
	pct := 0.0
	if p.Meta.TotalCases > 0 {
		pct = float64(p.Done) / float64(p.Meta.TotalCases) * 100
	}
	fmt.Printf("%s: %d/%d cases done (%.0f%%)\n", filepath.Base(path), p.Done, p.Meta.TotalCases, pct)
	return p.Meta.TotalCases > 0 && p.Done >= p.Meta.TotalCases, nil
}

func printJSON(raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var buf any
	if err := json.Unmarshal(raw, &buf); err != nil {
		fmt.Println(string(raw))
		return
	}
	pretty, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(string(pretty))
}
