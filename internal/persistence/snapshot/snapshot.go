package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"iftsim.dev/internal/sim/cell"
	"iftsim.dev/internal/sim/tuning"
)

const Version = 1

type Header struct {
	Version    int       `json:"version"`
	RunID      string    `json:"run_id"`
	Steps      int       `json:"steps"`
	Converged  bool      `json:"converged"`
	Digest     string    `json:"tuning_digest"`
	RecordedAt time.Time `json:"recorded_at"`
}

// SnapshotV1 is the exported outcome of one run: tuning, summary and every
// aggregate trace. Per-motor traces are not kept.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Tuning tuning.Tuning `json:"tuning"`
	Result cell.Result   `json:"result"`

	Length    []float64 `json:"length"`
	Flux      []int     `json:"flux"`
	Base      []int     `json:"base"`
	Diffusing []int     `json:"diffusing"`
	Active    []int     `json:"active"`
	Avalanche []int     `json:"avalanche"`
}

// FromCell captures a finished cell.
func FromCell(runID string, t tuning.Tuning, c *cell.Cell, res cell.Result) SnapshotV1 {
	n := c.CurrentStep() + 1
	return SnapshotV1{
		Header: Header{
			Version:    Version,
			RunID:      runID,
			Steps:      n,
			Converged:  res.Converged,
			Digest:     t.Digest(),
			RecordedAt: time.Now().UTC(),
		},
		Tuning:    t,
		Result:    res,
		Length:    append([]float64(nil), c.LengthTrace()[:n]...),
		Flux:      append([]int(nil), c.FluxTrace()[:n]...),
		Base:      append([]int(nil), c.BaseTrace()[:n]...),
		Diffusing: append([]int(nil), c.DiffusingTrace()[:n]...),
		Active:    append([]int(nil), c.ActiveTrace()[:n]...),
		Avalanche: append([]int(nil), c.AvalancheTrace()[:n]...),
	}
}

// Record rebuilds the aggregate record of one step.
func (s SnapshotV1) Record(step int) cell.StepRecord {
	return cell.StepRecord{
		Step:      step,
		Length:    s.Length[step],
		Flux:      s.Flux[step],
		Base:      s.Base[step],
		Diffusing: s.Diffusing[step],
		Active:    s.Active[step],
		Avalanche: s.Avalanche[step],
	}
}

func WriteSnapshot(path string, snap SnapshotV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, f.Close()) }()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	err := read(path, func(br *bufio.Reader) error {
		// The header is repeated inside the gob payload.
		if _, err := br.ReadBytes('\n'); err != nil {
			return fmt.Errorf("read header: %w", err)
		}
		if err := gob.NewDecoder(br).Decode(&snap); err != nil {
			return fmt.Errorf("gob decode: %w", err)
		}
		return nil
	})
	if err == nil && snap.Header.Version != Version {
		err = fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, err
}

// ReadHeader decodes only the leading JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	err := read(path, func(br *bufio.Reader) error {
		line, err := br.ReadBytes('\n')
		if err != nil {
			return fmt.Errorf("read header: %w", err)
		}
		return json.Unmarshal(line, &h)
	})
	return h, err
}

func read(path string, fn func(*bufio.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()
	return fn(bufio.NewReaderSize(dec, 256*1024))
}
