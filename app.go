package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kwv/ubindex/lattice"
)

// IndexOptions are the flags of the index command
type IndexOptions struct {
	MinD         float64
	MaxD         float64
	Tolerance    float64
	Step         float64
	Workers      int
	AllCells     bool
	JSON         bool
	ResultsCache string
}

// CellsOptions are the flags of the cells command
type CellsOptions struct {
	UBFile   string
	MaxError float64
	AllCells bool
	JSON     bool
}

// ServeOptions are the flags of the serve command
type ServeOptions struct {
	MQTT         bool
	HTTP         bool
	HTTPPort     int
	ResultsCache string
}

// App encapsulates the application state and dependencies
type App struct {
	Config     *lattice.Config
	Tracker    *lattice.ResultTracker
	MQTTClient *lattice.MQTTClient
	Publisher  *lattice.Publisher
	Logger     *zap.SugaredLogger

	base *zap.Logger
}

// NewApp creates an App with the default configuration and a silent logger
func NewApp() *App {
	return &App{
		Config:  lattice.DefaultConfig(),
		Tracker: lattice.NewResultTracker(),
		Logger:  zap.NewNop().Sugar(),
	}
}

// LoadConfig reads the configuration file. A missing file is only an error
// when the path was given explicitly.
func (a *App) LoadConfig(path string, required bool) error {
	if _, err := os.Stat(path); os.IsNotExist(err) && !required {
		a.Config = lattice.DefaultConfig()
		return nil
	}
	cfg, err := lattice.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", path, err)
	}
	a.Config = cfg
	return nil
}

// InitLogger builds the logger from the logging configuration and hands it
// to the lattice package
func (a *App) InitLogger() error {
	base, err := lattice.NewLogger(a.Config.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	a.base = base
	a.Logger = base.Sugar()
	lattice.SetLogger(a.Logger.Named("lattice"))
	return nil
}

// Sync flushes buffered log entries
func (a *App) Sync() {
	if a.base != nil {
		_ = a.base.Sync()
	}
}

// applyIndexFlags copies explicitly set index flags over the configuration
func (a *App) applyIndexFlags(cmd *cobra.Command, opts IndexOptions) {
	f := cmd.Flags()
	idx := &a.Config.Indexing
	if f.Changed("min-d") {
		idx.MinD = opts.MinD
	}
	if f.Changed("max-d") {
		idx.MaxD = opts.MaxD
	}
	if opts.Tolerance > 0 {
		idx.Tolerance = opts.Tolerance
	}
	if opts.Step > 0 {
		idx.DirStepSize = opts.Step
	}
	if opts.Workers > 0 {
		idx.Workers = opts.Workers
		a.Config.Cells.Workers = opts.Workers
	}
	if opts.AllCells {
		a.Config.Cells.BestOnly = false
	}
}

// RunIndex indexes every peak file and writes the results to w. Files that
// fail are logged and skipped; the returned error counts them.
func (a *App) RunIndex(paths []string, opts IndexOptions, w io.Writer) error {
	tracker := a.Tracker
	if opts.ResultsCache != "" {
		tracker = lattice.NewResultTrackerWithCache(opts.ResultsCache)
	}

	var results []lattice.SampleResult
	failed := 0
	for _, path := range paths {
		ps, err := lattice.ParsePeaksFile(path)
		if err != nil {
			a.Logger.Errorw("cannot read peaks", "file", path, "error", err)
			failed++
			continue
		}
		res, err := lattice.AnalyzePeaks(ps, a.Config)
		if err != nil {
			a.Logger.Errorw("indexing failed", "file", path, "sample", ps.SampleID, "error", err)
			failed++
			continue
		}
		tracker.Update(res)
		results = append(results, res)
	}

	if opts.JSON {
		if err := writeJSON(w, results); err != nil {
			return err
		}
	} else {
		for _, res := range results {
			printResult(w, res)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d peak sets failed to index", failed, len(paths))
	}
	return nil
}

// RunCells lists the conventional cells of the UB matrix in opts.UBFile
func (a *App) RunCells(opts CellsOptions, w io.Writer) error {
	ub, err := lattice.ParseUBFile(opts.UBFile)
	if err != nil {
		return err
	}
	cells, err := lattice.ScanCells(ub, a.Config.Cells)
	if err != nil {
		return err
	}
	if opts.JSON {
		return writeJSON(w, cells)
	}

	if params, err := lattice.LatticeParamsFromUB(ub); err == nil {
		fmt.Fprintf(w, "Input cell: %s\n", params)
	}
	printCells(w, cells)
	return nil
}

// RunService indexes peak sets arriving over MQTT and from sample APIs until
// ctx is cancelled, serving the results over HTTP when enabled
func (a *App) RunService(ctx context.Context, opts ServeOptions) error {
	a.Tracker = lattice.NewResultTrackerWithCache(opts.ResultsCache)

	if opts.MQTT {
		client, err := lattice.InitMQTT(ctx, a.Config, a.handlePeaks)
		if err != nil {
			return fmt.Errorf("initializing MQTT: %w", err)
		}
		if client == nil {
			return fmt.Errorf("MQTT broker not configured (set mqtt.broker or MQTT_BROKER)")
		}
		a.MQTTClient = client
		a.Publisher = lattice.NewPublisher(client.GetClient(), lattice.ResolveMQTTConfig(a.Config.MQTT).PublishPrefix)
		defer client.Disconnect()
	}

	var srv *http.Server
	if opts.HTTP {
		srv = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", opts.HTTPPort),
			Handler:           newHTTPServer(a.Tracker, a.Config, a.Logger.Named("http"), a.publishResult),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.Logger.Infow("HTTP server starting", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Errorw("HTTP server error", "error", err)
			}
		}()
	}

	go a.fetchRemoteSamples(ctx)

	a.Logger.Infow("service running", "mqtt", opts.MQTT, "http", opts.HTTP, "samples", len(a.Config.Samples))
	<-ctx.Done()
	a.Logger.Info("shutting down service")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warnw("HTTP shutdown", "error", err)
		}
	}
	return nil
}

// fetchRemoteSamples indexes the peak sets of samples that expose an API
func (a *App) fetchRemoteSamples(ctx context.Context) {
	for _, sc := range a.Config.Samples {
		if !sc.HasAPI() {
			continue
		}
		ps, err := lattice.FetchPeaksFromAPI(ctx, *sc.ApiURL, lattice.WithSampleID(sc.ID))
		if ctx.Err() != nil {
			return
		}
		a.handlePeaks(sc.ID, ps, err)
	}
}

// handlePeaks indexes one received peak set, records and publishes the result
func (a *App) handlePeaks(sampleID string, ps *lattice.PeakSet, err error) {
	if err != nil {
		a.Logger.Warnw("peak set rejected", "sample", sampleID, "error", err)
		return
	}
	res, err := lattice.AnalyzePeaks(ps, a.Config)
	if err != nil {
		a.Logger.Warnw("indexing failed", "sample", sampleID, "error", err)
		return
	}
	a.Tracker.Update(res)
	a.publishResult(res)
}

// publishResult sends res to the broker when MQTT is enabled
func (a *App) publishResult(res lattice.SampleResult) {
	if a.Publisher == nil {
		return
	}
	if err := a.Publisher.PublishResult(res); err != nil {
		a.Logger.Errorw("publishing result", "sample", res.SampleID, "error", err)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	return nil
}

func printResult(w io.Writer, res lattice.SampleResult) {
	idx := res.Index
	fmt.Fprintf(w, "=== %s ===\n", res.SampleID)
	fmt.Fprintf(w, "Peaks: %d, indexed: %d, fit error: %.6f\n", res.NumPeaks, idx.NumIndexed, idx.FitError)
	fmt.Fprintln(w, "UB:")
	for _, row := range idx.UB {
		fmt.Fprintf(w, "  %10.6f %10.6f %10.6f\n", row[0], row[1], row[2])
	}
	fmt.Fprintf(w, "Reduced cell: %s (volume %.3f)\n", idx.Lattice, idx.Lattice.Volume())
	printCells(w, res.Cells)
	fmt.Fprintln(w)
}

func printCells(w io.Writer, cells []lattice.ConventionalCell) {
	if len(cells) == 0 {
		fmt.Fprintln(w, "No conventional cells within the error limit")
		return
	}
	fmt.Fprintln(w, "Conventional cells:")
	for _, c := range cells {
		params, err := c.LatticeParams()
		if err != nil {
			fmt.Fprintf(w, "  %s\n", c)
			continue
		}
		fmt.Fprintf(w, "  %s  %s\n", c, params)
	}
}
