package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/takumin/cloudcase/internal/agentapi"
	"github.com/takumin/cloudcase/internal/cases"
	"github.com/takumin/cloudcase/internal/coordinator"
	"github.com/takumin/cloudcase/internal/engine"
	"github.com/takumin/cloudcase/internal/events"
	"github.com/takumin/cloudcase/internal/ledger"
	"github.com/takumin/cloudcase/internal/lock"
	"github.com/takumin/cloudcase/internal/model"
	"github.com/takumin/cloudcase/internal/setup"
)

var (
	initName    string
	runFilter   string
	runMode     string
	validatePod string
)

func init() {
	initCmd := &cobra.Command{
		Use:   "init [DIR]",
		Short: "Scaffold a new project",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runInit,
	}
	initCmd.Flags().StringVar(&initName, "name", "", "project name (defaults to directory basename)")
	rootCmd.AddCommand(initCmd)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run all discovered cases",
		RunE:  runRun,
	}
	runCmd.Flags().StringVar(&runFilter, "filter", "", "comma-separated keywords, overrides runner.case_filter")
	runCmd.Flags().StringVar(&runMode, "mode", "", "execution mode: auto, serial or parallel (overrides config)")
	rootCmd.AddCommand(runCmd)

	validateCmd := &cobra.Command{
		Use:   "validate-env",
		Short: "Check credentials and pod configuration without running cases",
		RunE:  runValidateEnv,
	}
	validateCmd.Flags().StringVar(&validatePod, "pod-id", "", "validate a single pod instead of all configured pods")
	rootCmd.AddCommand(validateCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	if err := setup.Run(dir, initName); err != nil {
		return err
	}
	fmt.Printf("Initialized cloudcase project in %s\n", dir)
	fmt.Println("Edit config.yaml, add cases under cases/, then run: cloudcase run")
	return nil
}

func loadConfig() (model.Config, error) {
	return model.LoadConfig(configPath)
}

func newClient(cfg model.Config) (*agentapi.HTTPClient, error) {
	accessKey := os.Getenv(cfg.API.AccessKeyEnv)
	secretKey := os.Getenv(cfg.API.SecretKeyEnv)
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("credentials missing: set %s and %s", cfg.API.AccessKeyEnv, cfg.API.SecretKeyEnv)
	}
	return agentapi.NewHTTPClient(agentapi.HTTPConfig{
		Host:      cfg.API.Host,
		ProductID: cfg.API.ProductID,
		AccessKey: accessKey,
		SecretKey: secretKey,
	}), nil
}

func runValidateEnv(cmd *cobra.Command, args []string) error {
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

	pods := cfg.Pods.IDs
	if validatePod != "" {
		pods = []string{validatePod}
	}
	report := struct {
		OK      bool     `json:"ok"`
		Product string   `json:"product_id"`
		Pods    []string `json:"pods"`
		Error   string   `json:"error,omitempty"`
	}{OK: true, Product: cfg.API.ProductID, Pods: pods}
	if err := agentapi.ValidatePods(ctx, client, cfg.API.ProductID, pods); err != nil {
		report.OK = false
		report.Error = err.Error()
	}
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if !report.OK {
		return fmt.Errorf("environment validation failed")
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
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

	if err := agentapi.ValidatePods(ctx, client, cfg.API.ProductID, cfg.Pods.IDs); err != nil {
		return err
	}

	filter := cfg.Runner.CaseFilter
	if runFilter != "" {
		filter = runFilter
	}
	list, err := cases.Discover(cfg.Runner.CasesDir, filter)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No cases matched.")
		return nil
	}

	mode := cfg.Runner.ExecMode
	if runMode != "" {
		mode = runMode
	}
	mode = coordinator.ResolveMode(mode, len(cfg.Pods.IDs))

	if err := os.MkdirAll(cfg.Runner.ResultsDir, 0755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	fl := lock.NewFileLock(filepath.Join(cfg.Runner.ResultsDir, "run.lock"))
	if err := fl.TryLock(); err != nil {
		return err
	}
	defer fl.Unlock()

	session, err := ledger.Open(cfg.Runner.ResultsDir, model.Meta{
		CreatedAt:  model.Now(),
		TotalCases: len(list),
		CasesDir:   cfg.Runner.CasesDir,
		Mode:       mode,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	logger := log.New(os.Stderr, "", 0)
	bus := events.NewBus(64)
	defer bus.Close()
	total := len(list)
	bus.Subscribe(events.EventCaseFinished, func(ev events.Event) {
		fmt.Printf("[%v] %v (%vms) %v\n", ev.Data["status"], ev.Data["case"], ev.Data["duration_ms"], ev.Data["reason"])
	})

	eng := engine.New(client, engine.Options{
		PollInterval: cfg.PollInterval(),
		CaseTimeout:  cfg.CaseTimeout(),
		Detailed:     cfg.Runner.DetailedResult,
		SystemPrompt: cfg.Runner.SystemPrompt,
		LogLevel:     cfg.Logging.Level,
	}, logger)
	coord := coordinator.New(eng, session, bus, cfg.Pods.IDs, logger, cfg.Logging.Level)

	fmt.Printf("Running %d case(s) on %d pod(s) in %s mode\n", total, len(cfg.Pods.IDs), mode)
	fmt.Printf("Result log: %s\n", session.Path())

	summary, runErr := coord.Run(ctx, mode, list)
	if runErr != nil {
		return runErr
	}

	snapPath, err := session.Finalize(cases.OrderIndex(list))
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	fmt.Printf("\nDone: %d pass, %d fail, %d skip (of %d)\n", summary.Pass, summary.Fail, summary.Skip, summary.Total)
	fmt.Printf("Snapshot: %s\n", snapPath)
	if summary.Fail > 0 {
		return fmt.Errorf("%d case(s) failed", summary.Fail)
	}
	return nil
}
