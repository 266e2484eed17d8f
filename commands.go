package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"ecomdash/charts"
	"ecomdash/dashboard"
	"ecomdash/export"
	"ecomdash/server"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load the orders and serve the dashboard over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			table, err := a.loadTable(ctx)
			if err != nil {
				return err
			}
			defer table.Release()

			var grpcDone <-chan error
			if a.cfg.Server.EnableGRPC {
				grpcDone, err = server.StartGRPC(ctx, a.cfg.Server.Host, a.cfg.Server.GRPCPort, a.logger)
				if err != nil {
					return err
				}
			}
			err = server.New(table, a.cfg, a.logger, a.cfg.Data.Path).ListenAndServe(ctx)
			stop()
			if grpcDone != nil {
				if gerr := <-grpcDone; gerr != nil {
					a.logger.Error("grpc health server", zap.Error(gerr))
				}
			}
			return err
		},
	}
}

func newReportCmd(a *app) *cobra.Command {
	var start, end, format, output string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Compute one report and write it to a timestamped file",
		Example: `  ecomdash report --start 2018-01-01 --end 2018-03-31 --format xlsx
  ecomdash report --data s3://orders/all_data.parquet --output out`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			rep, err := a.buildReport(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			path, err := export.WriteFile(output, f, export.NewEnvelope(a.cfg.Data.Path, rep))
			if err != nil {
				return err
			}
			a.logger.Info("report exported", zap.String("path", path), zap.Int("rows", rep.Rows))
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first day, YYYY-MM-DD (default first day of the data)")
	cmd.Flags().StringVar(&end, "end", "", "last day, YYYY-MM-DD (default last day of the data)")
	cmd.Flags().StringVarP(&format, "format", "f", string(export.FormatJSON), "json or xlsx")
	cmd.Flags().StringVarP(&output, "output", "o", "reports", "output directory")
	return cmd
}

func newChartsCmd(a *app) *cobra.Command {
	var start, end, output string
	cmd := &cobra.Command{
		Use:   "charts",
		Short: "Render every dashboard chart to PNG files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := a.buildReport(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(output, 0o755); err != nil {
				return err
			}
			for _, name := range charts.Names {
				path := filepath.Join(output, fmt.Sprintf("%s_%s.png", name, rep.Selection))
				if err := writeChart(path, name, rep); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			a.logger.Info("charts rendered", zap.String("dir", output), zap.Int("count", len(charts.Names)))
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "last day, YYYY-MM-DD")
	cmd.Flags().StringVarP(&output, "output", "o", "charts", "output directory")
	return cmd
}

func writeChart(path, name string, rep *dashboard.Report) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return charts.Render(f, name, rep)
}
