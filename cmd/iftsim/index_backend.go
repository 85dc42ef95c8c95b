package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"iftsim.dev/internal/persistence/indexdb"
	"iftsim.dev/internal/persistence/snapshot"
	"iftsim.dev/internal/sim/cell"
	"iftsim.dev/internal/sim/tuning"
)

type runIndex interface {
	StepSink(runID string) cell.StepSink
	RecordRun(runID, name, snapshotPath string, snap snapshot.SnapshotV1)
	UpsertTuning(t tuning.Tuning) error
	Close() error
}

// openIndex returns nil when indexing is disabled by flag or by
// IFTSIM_INDEX_BACKEND=none.
func openIndex(dataDir string, disableDB bool) (runIndex, error) {
	if disableDB {
		return nil, nil
	}
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("IFTSIM_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}
	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "runs.sqlite"))
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown IFTSIM_INDEX_BACKEND=%q", backend)
	}
}
