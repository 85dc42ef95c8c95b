package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"iftsim.dev/internal/logs"
	"iftsim.dev/internal/report"
	"iftsim.dev/internal/sim/sweep"
	"iftsim.dev/internal/sim/transmat"
	"iftsim.dev/internal/sim/tuning"
)

func main() {
	os.Exit(realMain())
}

// realMain returns the exit code so deferred closes run before exit.
func realMain() int {
	var (
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: built-in defaults)")
		sweepPath  = flag.String("sweep", "", "path to sweep.yaml; runs every entry (overrides -tuning)")
		seed       = flag.Int64("seed", 0, "seed override for a single run (0 keeps the tuning seed)")
		dataDir    = flag.String("data", "./data", "output directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite run index")

		plot     = flag.Bool("plot", false, "render length and density charts per run")
		writeCSV = flag.Bool("csv", false, "write trace and density tables per run")

		logLevel = flag.String("log_level", "info", "debug, info, warn or error")
		logJSON  = flag.String("log_json", "", "also append JSON logs to this file")
		journal  = flag.Bool("journal", false, "also log to the systemd journal")

		transmatLengths = flag.String("transmat", "", "print the Markov-chain equilibrium for lengths (e.g. 1-20 or 1,5,10) and exit")
	)
	flag.Parse()

	level := new(slog.LevelVar)
	lv, err := logs.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "log level:", err)
		return 2
	}
	level.Set(lv)
	logger, closer, err := logs.New(logs.Options{JSONPath: *logJSON, Level: level, Journal: *journal})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		return 1
	}
	defer closer.Close()

	if strings.TrimSpace(*transmatLengths) != "" {
		lengths, err := parseLengths(*transmatLengths)
		if err != nil {
			logger.Error("parse -transmat", "error", err)
			return 2
		}
		if err := report.EquilibriumCSV(os.Stdout, lengths, transmat.DefaultParams()); err != nil {
			logger.Error("transmat", "error", err)
			return 1
		}
		return 0
	}

	runs, err := resolveRuns(*sweepPath, *tuningPath, *seed)
	if err != nil {
		logger.Error("load runs", "error", err)
		return 2
	}

	idx, err := openIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Error("open index", "error", err)
		return 1
	}
	if idx != nil {
		defer func() {
			if err := idx.Close(); err != nil {
				logger.Warn("close index", "error", err)
			}
		}()
	}

	mirror, err := buildMirror(*dataDir, logger)
	if err != nil {
		logger.Error("mirror", "error", err)
		return 2
	}
	defer mirror.Close()

	ctx, cancel := signalContext()
	defer cancel()

	r := &runner{
		dataDir: *dataDir,
		idx:     idx,
		mirror:  mirror,
		plot:    *plot,
		csv:     *writeCSV,
		logger:  logger,
	}
	failed := runAll(ctx, r, runs)
	if failed > 0 {
		logger.Error("runs failed", "failed", failed, "total", len(runs))
		return 1
	}
	logger.Info("done", "runs", len(runs), "data", filepath.Clean(*dataDir))
	return 0
}

// resolveRuns builds the run list from a sweep file, a tuning file or the
// defaults, in that order of precedence.
func resolveRuns(sweepPath, tuningPath string, seed int64) ([]sweep.Run, error) {
	if p := strings.TrimSpace(sweepPath); p != "" {
		cfg, err := sweep.Load(p)
		if err != nil {
			return nil, err
		}
		return cfg.Resolve()
	}

	t := tuning.Defaults()
	if p := strings.TrimSpace(tuningPath); p != "" {
		var err error
		if t, err = tuning.Load(p); err != nil {
			return nil, err
		}
	}
	if seed != 0 {
		t.Seed = seed
	}
	name := "default"
	if p := strings.TrimSpace(tuningPath); p != "" {
		name = strings.ToLower(strings.TrimSuffix(filepath.Base(p), filepath.Ext(p)))
	}
	return []sweep.Run{{
		ID:     fmt.Sprintf("%s-s%d", name, t.Seed),
		Name:   name,
		Seed:   t.Seed,
		Tuning: t,
	}}, nil
}

// runAll runs every entry in order and returns the number of runs that
// failed. A cancelled context marks the remaining runs as failed.
func runAll(ctx context.Context, r *runner, runs []sweep.Run) int {
	failed := 0
	for i, run := range runs {
		if ctx.Err() != nil {
			r.logger.Warn("interrupted", "skipped", len(runs)-i)
			return failed + len(runs) - i
		}
		if _, err := r.run(ctx, run); err != nil {
			r.logger.Error("run failed", "run", run.ID, "error", err)
			failed++
		}
	}
	return failed
}

// parseLengths accepts "a-b" or a comma-separated list.
func parseLengths(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if lo, hi, ok := strings.Cut(s, "-"); ok {
		a, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, err
		}
		b, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, err
		}
		if a < 1 || b < a {
			return nil, fmt.Errorf("bad range %q", s)
		}
		out := make([]int, 0, b-a+1)
		for l := a; l <= b; l++ {
			out = append(out, l)
		}
		return out, nil
	}
	var out []int
	for _, f := range strings.Split(s, ",") {
		l, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
