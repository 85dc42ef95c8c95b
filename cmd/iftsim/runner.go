package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	persistlog "iftsim.dev/internal/persistence/log"
	"iftsim.dev/internal/persistence/s3mirror"
	"iftsim.dev/internal/persistence/snapshot"
	"iftsim.dev/internal/report"
	"iftsim.dev/internal/sim/cell"
	"iftsim.dev/internal/sim/sweep"
)

const snapshotFile = "result.snap.zst"

type runner struct {
	dataDir string
	idx     runIndex
	mirror  *s3mirror.Mirror
	plot    bool
	csv     bool
	logger  *slog.Logger
}

func (r *runner) runDir(id string) string { return filepath.Join(r.dataDir, "runs", id) }

// run simulates one sweep entry and writes its step log, event log, snapshot
// and optional charts and tables under <data>/runs/<id>.
func (r *runner) run(ctx context.Context, run sweep.Run) (snapshot.SnapshotV1, error) {
	dir := r.runDir(run.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return snapshot.SnapshotV1{}, err
	}
	logger := r.logger.With("run", run.ID)

	events := persistlog.NewEventLogger(dir)
	defer func() {
		if err := events.Close(); err != nil {
			logger.Warn("close event log", "error", err)
		}
	}()
	steps := persistlog.NewStepLogger(dir)

	c, err := cell.New(run.Tuning.Config(), nil)
	if err != nil {
		_ = steps.Close()
		return snapshot.SnapshotV1{}, err
	}
	c.SetLogger(logger)
	c.AddSink(steps)
	if r.idx != nil {
		if err := r.idx.UpsertTuning(run.Tuning); err != nil {
			logger.Warn("index tuning", "error", err)
		}
		c.AddSink(r.idx.StepSink(run.ID))
	}

	digest := run.Tuning.Digest()
	_ = events.WriteEvent(persistlog.Event{Run: run.ID, Kind: persistlog.EventStarted, Attrs: map[string]any{
		"name":          run.Name,
		"seed":          run.Seed,
		"tuning_digest": digest,
	}})
	logger.Info("run started", "seed", run.Seed, "steps", run.Tuning.TotalSteps, "motors", run.Tuning.MotorCount)

	res, runErr := c.Run(ctx)
	if err := errors.Join(runErr, steps.Close()); err != nil {
		_ = events.WriteEvent(persistlog.Event{Run: run.ID, Kind: persistlog.EventFailed, Step: c.CurrentStep(), Attrs: map[string]any{"error": err.Error()}})
		return snapshot.SnapshotV1{}, err
	}

	snap := snapshot.FromCell(run.ID, run.Tuning, c, res)
	snapPath := filepath.Join(dir, snapshotFile)
	if err := snapshot.WriteSnapshot(snapPath, snap); err != nil {
		return snap, fmt.Errorf("write snapshot: %w", err)
	}
	if r.idx != nil {
		abs, err := filepath.Abs(snapPath)
		if err != nil {
			abs = snapPath
		}
		r.idx.RecordRun(run.ID, run.Name, abs, snap)
	}
	if err := r.writeReports(dir, snap); err != nil {
		logger.Warn("report", "error", err)
	}

	_ = events.WriteEvent(persistlog.Event{Run: run.ID, Kind: persistlog.EventFinished, Step: c.CurrentStep(), Attrs: res})
	if r.mirror != nil {
		if err := events.Close(); err != nil {
			logger.Warn("close event log", "error", err)
		}
		if err := mirrorRunDir(r.mirror, dir); err != nil {
			logger.Warn("mirror run", "error", err)
		}
	}

	attrs := []any{
		"steps", res.Steps,
		"extensions", res.Extensions,
		"steady_length", res.SteadyLength,
		"time_to_steady_state", res.TimeToSteadyState,
		"predicted_length", res.PredictedLength,
		"avalanches", res.Avalanches.Events,
	}
	if run.Tuning.RunToSteadyState && !res.Converged {
		logger.Warn("run finished without reaching steady state", attrs...)
	} else {
		logger.Info("run finished", attrs...)
	}
	return snap, nil
}

func (r *runner) writeReports(dir string, snap snapshot.SnapshotV1) error {
	var errs []error
	if r.plot {
		errs = append(errs, writeFile(filepath.Join(dir, "length.png"), func(w io.Writer) error {
			return report.LengthChart(w, snap)
		}))
		if len(snap.Result.Density) > 1 {
			errs = append(errs, writeFile(filepath.Join(dir, "density.png"), func(w io.Writer) error {
				return report.DensityChart(w, snap.Result.DensityGrid, snap.Result.Density)
			}))
		}
	}
	if r.csv {
		errs = append(errs, writeFile(filepath.Join(dir, "traces.csv"), func(w io.Writer) error {
			return report.TracesCSV(w, snap)
		}))
		if len(snap.Result.Density) > 0 {
			errs = append(errs, writeFile(filepath.Join(dir, "density.csv"), func(w io.Writer) error {
				return report.DensityCSV(w, snap.Result.DensityGrid, snap.Result.Density)
			}))
		}
	}
	return errors.Join(errs...)
}

func writeFile(path string, fn func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(f)
}
