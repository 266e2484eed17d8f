package main

import (
	"context"
	"fmt"
	"os"

	"ecomdash/config"
	"ecomdash/dashboard"
	"ecomdash/logging"
	"ecomdash/operators/project"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app carries the state shared by every subcommand once the root pre-run has finished.
type app struct {
	configPath string
	envFiles   []string
	dataPath   string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "ecomdash",
		Short: "E-commerce order analytics dashboard",
		Long: `ecomdash loads a combined orders table (CSV or Parquet, local or s3://bucket/key),
filters it to a date range and derives daily orders, category sales, review scores,
top customer cities and RFM metrics.

Serve them as a web dashboard, or write one report or the chart images to disk.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", nil, "dotenv files with DASH_* settings (default .env)")
	root.PersistentFlags().StringVar(&a.dataPath, "data", "", "orders file, overrides data.path")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newServeCmd(a), newReportCmd(a), newChartsCmd(a))
	return root
}

func (a *app) init() error {
	if a.configPath != "" {
		if err := config.Decode(a.configPath); err != nil {
			return fmt.Errorf("config %s: %w", a.configPath, err)
		}
	}
	if err := config.LoadEnv(a.envFiles...); err != nil {
		return err
	}
	a.cfg = config.GetConfig()
	if a.dataPath != "" {
		a.cfg.Data.Path = a.dataPath
	}
	logger, err := logging.New(a.cfg, a.verbose)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

// loadTable reads the configured orders file. Object store paths get an S3 client
// built from the storage section.
func (a *app) loadTable(ctx context.Context) (*dashboard.Table, error) {
	opts := dashboard.LoadOptions{
		Path:             a.cfg.Data.Path,
		MaxDownloadBytes: a.cfg.MaxDownloadBytes(),
		RowLimit:         a.cfg.Data.RowLimit,
		BatchSize:        a.cfg.Data.BatchSize,
		Logger:           a.logger,
	}
	if project.IsObjectURI(opts.Path) {
		opts.Client = project.NewObjectClient(project.ObjectCredentials{
			Region:    a.cfg.Storage.Region,
			Endpoint:  a.cfg.Storage.Endpoint,
			AccessKey: a.cfg.Storage.AccessKey,
			SecretKey: a.cfg.Storage.SecretKey,
			PathStyle: a.cfg.Storage.PathStyle,
		})
	}
	return dashboard.Load(ctx, opts)
}

// buildReport loads the table and derives the report for [start, end].
func (a *app) buildReport(ctx context.Context, start, end string) (*dashboard.Report, error) {
	table, err := a.loadTable(ctx)
	if err != nil {
		return nil, err
	}
	defer table.Release()
	sel, err := dashboard.ParseSelection(start, end, table.Bounds())
	if err != nil {
		return nil, err
	}
	return dashboard.BuildReport(table, sel, a.reportOptions())
}

func (a *app) reportOptions() dashboard.ReportOptions {
	return dashboard.ReportOptions{
		Category:  dashboard.CategoryOptions{Missing: a.cfg.Dashboard.MissingCategory},
		TopCities: a.cfg.Dashboard.TopCities,
		Logger:    a.logger,
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
