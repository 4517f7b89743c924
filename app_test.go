package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/ubindex/lattice"
)

var cubicCell = lattice.LatticeParams{A: 5, B: 5, C: 5, Alpha: 90, Beta: 90, Gamma: 90}

// cubicUB returns the UB of cubicCell in a rotated frame
func cubicUB() lattice.Mat3 {
	rad := math.Pi / 180
	ca, sa := math.Cos(17*rad), math.Sin(17*rad)
	cb, sb := math.Cos(-31*rad), math.Sin(-31*rad)
	cg, sg := math.Cos(52*rad), math.Sin(52*rad)
	rx := lattice.Mat3{{1, 0, 0}, {0, ca, -sa}, {0, sa, ca}}
	ry := lattice.Mat3{{cb, 0, sb}, {0, 1, 0}, {-sb, 0, cb}}
	rz := lattice.Mat3{{cg, -sg, 0}, {sg, cg, 0}, {0, 0, 1}}
	return rz.Mul(ry).Mul(rx).Mul(lattice.BMatrix(cubicCell))
}

// cubicPeaks returns noisy peaks of every non-zero hkl in [-3, 3]
func cubicPeaks(id string) *lattice.PeakSet {
	ub := cubicUB()
	rng := rand.New(rand.NewSource(21))
	const noise = 0.005
	ps := &lattice.PeakSet{SampleID: id}
	for h := -3; h <= 3; h++ {
		for k := -3; k <= 3; k++ {
			for l := -3; l <= 3; l++ {
				if h == 0 && k == 0 && l == 0 {
					continue
				}
				hkl := r3.Vector{
					X: float64(h) + noise*(2*rng.Float64()-1),
					Y: float64(k) + noise*(2*rng.Float64()-1),
					Z: float64(l) + noise*(2*rng.Float64()-1),
				}
				ps.Q = append(ps.Q, ub.MulVec(hkl))
			}
		}
	}
	return ps
}

// testApp returns an App whose indexing settings keep tests fast
func testApp() *App {
	app := NewApp()
	app.Config.Indexing = lattice.DefaultIndexConfig(3, 8)
	app.Config.Indexing.Tolerance = 0.1
	app.Config.Indexing.DirStepSize = 0.05
	return app
}

func writePeakFile(t *testing.T, dir, name string, ps *lattice.PeakSet) string {
	t.Helper()
	data, err := json.Marshal(ps)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestNewApp(t *testing.T) {
	app := NewApp()
	require.NotNil(t, app)
	assert.NotNil(t, app.Config)
	assert.NotNil(t, app.Tracker)
	assert.NotNil(t, app.Logger)
	assert.False(t, app.Tracker.HasResults())
}

func TestApp_LoadConfig(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.yaml")

	app := NewApp()
	require.NoError(t, app.LoadConfig(missing, false))
	assert.Equal(t, lattice.DefaultConfig(), app.Config)

	err := app.LoadConfig(missing, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	path := filepath.Join(dir, "config.yaml")
	body := "indexing:\n  minD: 4\n  maxD: 9\nsamples:\n  - id: quartz\n    topic: lab/quartz\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	require.NoError(t, app.LoadConfig(path, true))
	assert.Equal(t, 4.0, app.Config.Indexing.MinD)
	assert.Equal(t, 9.0, app.Config.Indexing.MaxD)
	require.NotNil(t, app.Config.GetSampleByID("quartz"))

	require.NoError(t, os.WriteFile(path, []byte("indexing:\n  minD: 10\n  maxD: 2\n"), 0644))
	assert.ErrorIs(t, app.LoadConfig(path, false), lattice.ErrInvalidConfiguration)
}

func TestApp_InitLogger(t *testing.T) {
	app := NewApp()
	app.Config.Logging = lattice.LoggingConfig{Level: "debug", Format: "json", Output: filepath.Join(t.TempDir(), "app.log")}
	require.NoError(t, app.InitLogger())
	app.Logger.Infow("hello", "k", 1)
	app.Sync()

	data, err := os.ReadFile(app.Config.Logging.Output)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)

	app.Config.Logging.Level = "shout"
	assert.Error(t, app.InitLogger())
	lattice.SetLogger(nil)
}

func TestApp_ApplyIndexFlags(t *testing.T) {
	app := NewApp()
	cmd := newIndexCmd(app)
	require.NoError(t, cmd.ParseFlags([]string{"--max-d", "20", "--tolerance", "0.2", "--workers", "4", "--all-cells"}))

	opts := IndexOptions{MinD: lattice.DefaultMinD, MaxD: 20, Tolerance: 0.2, Workers: 4, AllCells: true}
	app.applyIndexFlags(cmd, opts)

	idx := app.Config.Indexing
	assert.Equal(t, lattice.DefaultMinD, idx.MinD)
	assert.Equal(t, 20.0, idx.MaxD)
	assert.Equal(t, 0.2, idx.Tolerance)
	assert.Equal(t, lattice.DefaultIndexConfig(3, 15).DirStepSize, idx.DirStepSize)
	assert.Equal(t, 4, idx.Workers)
	assert.Equal(t, 4, app.Config.Cells.Workers)
	assert.False(t, app.Config.Cells.BestOnly)
}

func TestApp_ApplyIndexFlagsKeepsConfig(t *testing.T) {
	app := NewApp()
	app.Config.Indexing.MinD = 4
	app.Config.Indexing.MaxD = 11
	cmd := newIndexCmd(app)
	require.NoError(t, cmd.ParseFlags(nil))

	app.applyIndexFlags(cmd, IndexOptions{MinD: lattice.DefaultMinD, MaxD: lattice.DefaultMaxD})
	assert.Equal(t, 4.0, app.Config.Indexing.MinD)
	assert.Equal(t, 11.0, app.Config.Indexing.MaxD)
	assert.True(t, app.Config.Cells.BestOnly)
}

func TestApp_RunIndexText(t *testing.T) {
	dir := t.TempDir()
	path := writePeakFile(t, dir, "nacl.json", cubicPeaks("nacl"))

	app := testApp()
	var out bytes.Buffer
	require.NoError(t, app.RunIndex([]string{path}, IndexOptions{}, &out))

	text := out.String()
	assert.Contains(t, text, "=== nacl ===")
	assert.Contains(t, text, "Reduced cell: a=")
	assert.Contains(t, text, "CUBIC P_CENTERED")

	res, ok := app.Tracker.Get("nacl")
	require.True(t, ok)
	assert.Equal(t, 342, res.NumPeaks)
}

func TestApp_RunIndexJSONAndCache(t *testing.T) {
	dir := t.TempDir()
	peaks := writePeakFile(t, dir, "a.json", cubicPeaks(""))
	cache := filepath.Join(dir, "results.json")

	app := testApp()
	var out bytes.Buffer
	require.NoError(t, app.RunIndex([]string{peaks}, IndexOptions{JSON: true, ResultsCache: cache}, &out))

	var results []lattice.SampleResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].SampleID)

	stored, err := lattice.LoadResults(cache)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Contains(t, stored.Samples, "a")
}

func TestApp_RunIndexCountsFailures(t *testing.T) {
	dir := t.TempDir()
	good := writePeakFile(t, dir, "good.json", cubicPeaks("good"))
	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing here\n"), 0644))
	few := filepath.Join(dir, "few.txt")
	require.NoError(t, os.WriteFile(few, []byte("0.2 0 0\n0 0.2 0\n"), 0644))

	app := testApp()
	var out bytes.Buffer
	err := app.RunIndex([]string{good, empty, few, filepath.Join(dir, "missing.txt")}, IndexOptions{}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 of 4")
	assert.Contains(t, out.String(), "=== good ===")
}

func TestApp_RunCells(t *testing.T) {
	ub := cubicUB()
	data, err := json.Marshal(ub)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "ub.json")
	require.NoError(t, os.WriteFile(path, data, 0644))

	app := NewApp()
	var out bytes.Buffer
	require.NoError(t, app.RunCells(CellsOptions{UBFile: path}, &out))
	assert.Contains(t, out.String(), "Input cell: a=5.0000")
	assert.Contains(t, out.String(), "form  3")

	out.Reset()
	require.NoError(t, app.RunCells(CellsOptions{UBFile: path, JSON: true}, &out))
	var cells []lattice.ConventionalCell
	require.NoError(t, json.Unmarshal(out.Bytes(), &cells))
	require.NotEmpty(t, cells)
	assert.Equal(t, lattice.CellTypeCubic, cells[0].CellType)

	assert.Error(t, app.RunCells(CellsOptions{UBFile: filepath.Join(t.TempDir(), "none")}, &out))
}

func TestApp_RunCellsDegenerate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ub.txt")
	require.NoError(t, os.WriteFile(path, []byte("1 0 0\n2 0 0\n0 0 1\n"), 0644))

	app := NewApp()
	var out bytes.Buffer
	assert.Error(t, app.RunCells(CellsOptions{UBFile: path}, &out))
}

func TestApp_RunServiceHTTPOnly(t *testing.T) {
	cache := filepath.Join(t.TempDir(), "results.json")
	app := testApp()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- app.RunService(ctx, ServeOptions{HTTP: true, HTTPPort: 0, ResultsCache: cache})
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("RunService did not return after context cancellation")
	}
	assert.Nil(t, app.Publisher)
}

func TestApp_RunServiceMQTTWithoutBroker(t *testing.T) {
	for _, k := range []string{"MQTT_BROKER", "MQTT_CLIENT_ID", "MQTT_USERNAME", "MQTT_PASSWORD", "MQTT_PUBLISH_PREFIX"} {
		t.Setenv(k, "")
	}
	app := testApp()
	err := app.RunService(context.Background(), ServeOptions{MQTT: true, ResultsCache: filepath.Join(t.TempDir(), "r.json")})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "broker not configured"))
}
