package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kwv/ubindex/lattice"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	app := NewApp()
	if err := newRootCmd(app).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newRootCmd wires the CLI to app. Persistent flags are applied to the
// configuration before any subcommand runs.
func newRootCmd(app *App) *cobra.Command {
	var (
		configFile string
		logLevel   string
		logFormat  string
		logOutput  string
	)

	root := &cobra.Command{
		Use:   "ubindex",
		Short: "Find crystal orientation matrices and conventional cells from peak q-vectors",
		Long: `ubindex indexes single-crystal diffraction peaks without prior knowledge of the
unit cell. It finds the orientation (UB) matrix, Niggli reduces it and ranks the
conventional cells consistent with it.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			explicit := cmd.Flags().Changed("config")
			if err := app.LoadConfig(configFile, explicit); err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				app.Config.Logging.Level = logLevel
			}
			if cmd.Flags().Changed("log-format") {
				app.Config.Logging.Format = logFormat
			}
			if cmd.Flags().Changed("log-output") {
				app.Config.Logging.Output = logOutput
			}
			return app.InitLogger()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.Sync()
		},
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "Path to configuration file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	root.PersistentFlags().StringVar(&logOutput, "log-output", "stderr", "Log output: stdout, stderr or a file path")

	root.AddCommand(newIndexCmd(app), newCellsCmd(app), newServeCmd(app))
	return root
}

func newIndexCmd(app *App) *cobra.Command {
	var opts IndexOptions

	cmd := &cobra.Command{
		Use:   "index <peaks>...",
		Short: "Index peak files and print the reduced and conventional cells",
		Long: `Index one or more peak files. A peak file is either JSON
({"sample": "id", "q": [[qx, qy, qz], ...]}) or text with qx qy qz columns.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app.applyIndexFlags(cmd, opts)
			return app.RunIndex(args, opts, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.Float64Var(&opts.MinD, "min-d", lattice.DefaultMinD, "Lower bound on real-space edge length (Angstrom)")
	f.Float64Var(&opts.MaxD, "max-d", lattice.DefaultMaxD, "Upper bound on real-space edge length (Angstrom)")
	f.Float64Var(&opts.Tolerance, "tolerance", 0, "Indexing tolerance on fractional Miller indices (0 = config)")
	f.Float64Var(&opts.Step, "step", 0, "Hemisphere scan step in radians (0 = config)")
	f.IntVarP(&opts.Workers, "workers", "w", 0, "Goroutines for the direction and cell scans (0 = config)")
	f.BoolVar(&opts.AllCells, "all-cells", false, "List every form within the error limit, not just the best per lattice")
	f.BoolVar(&opts.JSON, "json", false, "Print results as JSON")
	f.StringVar(&opts.ResultsCache, "save", "", "Store results in this JSON cache file")
	return cmd
}

func newCellsCmd(app *App) *cobra.Command {
	var opts CellsOptions

	cmd := &cobra.Command{
		Use:   "cells",
		Short: "List conventional cells for a known UB matrix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("max-error") {
				app.Config.Cells.MaxScalarError = opts.MaxError
			}
			if opts.AllCells {
				app.Config.Cells.BestOnly = false
			}
			return app.RunCells(opts, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.UBFile, "ub", "", "File holding the UB matrix (JSON or three rows)")
	f.Float64Var(&opts.MaxError, "max-error", lattice.DefaultMaxScalarError, "Largest accepted scalar distance")
	f.BoolVar(&opts.AllCells, "all-cells", false, "List every form within the error limit")
	f.BoolVar(&opts.JSON, "json", false, "Print results as JSON")
	_ = cmd.MarkFlagRequired("ub")
	return cmd
}

func newServeCmd(app *App) *cobra.Command {
	var opts ServeOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Index peak sets received over MQTT or HTTP and serve the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.MQTT && !opts.HTTP {
				return fmt.Errorf("serve needs --mqtt, --http or both")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.RunService(ctx, opts)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.MQTT, "mqtt", false, "Subscribe to sample topics and publish results")
	f.BoolVar(&opts.HTTP, "http", false, "Serve results over HTTP")
	f.IntVar(&opts.HTTPPort, "http-port", 8080, "HTTP server port")
	f.StringVar(&opts.ResultsCache, "results-cache", lattice.DefaultResultsCachePath, "Path to the results cache file")
	return cmd
}
