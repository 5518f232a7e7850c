package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"vitalwatch/internal/alerts"
	"vitalwatch/internal/config"
	"vitalwatch/internal/logger"
	"vitalwatch/internal/monitor"
	"vitalwatch/internal/processor"
	"vitalwatch/internal/reader"
	"vitalwatch/internal/storage"
)

// GlobalFlags holds persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
}

// EvaluateFlags holds flags for the evaluate command
type EvaluateFlags struct {
	Dir  string
	JSON bool
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "vitalwatch",
		Short: "Patient vital-signs store and alert evaluator",
		Long: `vitalwatch keeps per-patient vital-sign histories in memory and
evaluates them periodically against clinical alert rules.

Examples:
  vitalwatch serve --config vitalwatch.yaml
  vitalwatch evaluate --dir ./records`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to config file (optional)")
	root.PersistentFlags().StringVar(&globalFlags.LogLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(
		createServeCommand(globalFlags),
		createEvaluateCommand(globalFlags, &EvaluateFlags{}),
	)
	return root
}

// loadConfig reads the config and initializes the global logger from it
func loadConfig(flags *GlobalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	if flags.LogLevel != "" {
		cfg.Log.Level = flags.LogLevel
	}

	logger.Init(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	return cfg, nil
}

func createServeCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run ingestion, periodic evaluation and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return processor.New(cfg).Run(ctx)
		},
	}
}

func createEvaluateCommand(globalFlags *GlobalFlags, flags *EvaluateFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Load record files into a fresh store, evaluate once and print alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(globalFlags)
			if err != nil {
				return err
			}
			return runEvaluate(cmd, cfg, flags)
		},
	}

	cmd.Flags().StringVar(&flags.Dir, "dir", "", "directory of .txt/.csv record files")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print alerts as JSON lines")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

func runEvaluate(cmd *cobra.Command, cfg *config.Config, flags *EvaluateFlags) error {
	store := storage.NewStore()
	if _, err := reader.LoadDir(flags.Dir, store); err != nil {
		return err
	}

	collected := &alerts.CollectSink{}
	ev := monitor.NewEvaluator(monitor.Config{
		Source:      store,
		Engine:      alerts.NewEngine(alerts.Counted(collected)),
		Concurrency: cfg.Evaluation.Concurrency,
	})
	ev.RunOnce(context.Background())

	// patients are evaluated in parallel; rule order within a patient holds
	found := collected.Alerts()
	sort.SliceStable(found, func(i, j int) bool { return found[i].PatientID < found[j].PatientID })

	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	for _, a := range found {
		if flags.JSON {
			if err := enc.Encode(a); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(out, "patient %d: %s at %d\n", a.PatientID, a.Condition, a.Timestamp)
	}
	return nil
}
