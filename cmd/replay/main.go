package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "iftsim.dev/internal/persistence/log"
	"iftsim.dev/internal/persistence/snapshot"
	"iftsim.dev/internal/sim/cell"
)

func main() {
	var (
		runDir   = flag.String("run", "", "run directory containing result.snap.zst and steps.jsonl.zst")
		snapPath = flag.String("snapshot", "", "path to .snap.zst (default: <run>/result.snap.zst)")
		stepsLog = flag.String("steps", "", "path to steps.jsonl.zst (default: <run>/steps.jsonl.zst)")
		resim    = flag.Bool("resimulate", true, "re-run the recorded tuning and compare every step")
	)
	flag.Parse()

	if *snapPath == "" && *runDir != "" {
		*snapPath = filepath.Join(*runDir, "result.snap.zst")
	}
	if *stepsLog == "" && *runDir != "" {
		*stepsLog = filepath.Join(*runDir, persistlog.StepsFile)
	}
	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -run or -snapshot")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("snapshot v%d run=%s steps=%d converged=%v digest=%s steady_length=%.4f avalanches=%d\n",
		snap.Header.Version, snap.Header.RunID, snap.Header.Steps, snap.Header.Converged,
		snap.Header.Digest, snap.Result.SteadyLength, snap.Result.Avalanches.Events)

	if err := checkSnapshot(snap); err != nil {
		fmt.Fprintln(os.Stderr, "snapshot:", err)
		os.Exit(1)
	}

	if *stepsLog != "" {
		n, err := compareLog(*stepsLog, snap)
		if err != nil {
			fmt.Fprintln(os.Stderr, "step log:", err)
			os.Exit(1)
		}
		fmt.Printf("step log ok: %d steps\n", n)
	}

	if *resim {
		if err := resimulate(snap); err != nil {
			fmt.Fprintln(os.Stderr, "resimulate:", err)
			os.Exit(1)
		}
		fmt.Printf("replay ok: %d steps reproduced from seed %d\n", snap.Header.Steps, snap.Tuning.Seed)
	}
}

// checkSnapshot verifies the invariants that hold for every recorded step.
func checkSnapshot(snap snapshot.SnapshotV1) error {
	if snap.Tuning.Digest() != snap.Header.Digest {
		return fmt.Errorf("tuning digest mismatch: header=%s computed=%s", snap.Header.Digest, snap.Tuning.Digest())
	}
	n := len(snap.Length)
	if n != snap.Header.Steps {
		return fmt.Errorf("trace has %d steps, header says %d", n, snap.Header.Steps)
	}
	for _, l := range [][]int{snap.Flux, snap.Base, snap.Diffusing, snap.Active, snap.Avalanche} {
		if len(l) != n {
			return fmt.Errorf("trace lengths differ (%d vs %d)", len(l), n)
		}
	}
	motors := snap.Tuning.MotorCount
	for i := 0; i < n; i++ {
		r := snap.Record(i)
		if r.Length < 0 {
			return fmt.Errorf("step %d: negative length %v", i, r.Length)
		}
		if r.Base+r.Diffusing+r.Active != motors {
			return fmt.Errorf("step %d: base+diffusing+active=%d, want %d", i, r.Base+r.Diffusing+r.Active, motors)
		}
		if r.Avalanche > 0 {
			pool := motors
			if i > 0 {
				pool = snap.Base[i-1]
			}
			if r.Avalanche > pool || pool <= snap.Tuning.AvalancheThreshold {
				return fmt.Errorf("step %d: avalanche of %d from base pool %d (threshold %d)", i, r.Avalanche, pool, snap.Tuning.AvalancheThreshold)
			}
		}
	}
	return nil
}

func compareLog(path string, snap snapshot.SnapshotV1) (int, error) {
	n := 0
	err := persistlog.ReadSteps(path, func(r cell.StepRecord) error {
		if n >= len(snap.Length) {
			return fmt.Errorf("log has more steps than the snapshot (%d)", len(snap.Length))
		}
		if want := snap.Record(n); r != want {
			return fmt.Errorf("step %d: log=%+v snapshot=%+v", n, r, want)
		}
		n++
		return nil
	})
	if err != nil {
		return n, err
	}
	if n != len(snap.Length) {
		return n, fmt.Errorf("log has %d steps, snapshot %d", n, len(snap.Length))
	}
	return n, nil
}

// resimulate reruns the recorded tuning for the recorded number of steps
// and requires every aggregate to match. Extension chunking does not change
// the trajectory, so the tail is simulated in one extension.
func resimulate(snap snapshot.SnapshotV1) error {
	c, err := cell.New(snap.Tuning.Config(), nil)
	if err != nil {
		return err
	}
	total := snap.Header.Steps
	c.Simulate(min(total, snap.Tuning.TotalSteps))
	if rest := total - c.CurrentStep() - 1; rest > 0 {
		c.Extend(rest + 1)
	}
	if got := c.CurrentStep() + 1; got != total {
		return fmt.Errorf("resimulated %d steps, recorded %d", got, total)
	}
	for i := 0; i < total; i++ {
		if got, want := c.Record(i), snap.Record(i); got != want {
			return fmt.Errorf("step %d: resimulated=%+v recorded=%+v", i, got, want)
		}
	}
	return nil
}
