package logs

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_FansOutToTerminalAndFile(t *testing.T) {
	if isSystemdService() {
		t.Skip("terminal handler is disabled under systemd")
	}
	var term bytes.Buffer
	jsonPath := filepath.Join(t.TempDir(), "logs", "run.jsonl")
	level := new(slog.LevelVar)
	logger, closer, err := New(Options{Terminal: &term, JSONPath: jsonPath, Level: level})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("run summary", "steps", 42)
	level.Set(slog.LevelWarn)
	logger.Info("hidden")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if !strings.Contains(term.String(), "run summary") || !strings.Contains(term.String(), "steps=42") {
		t.Fatalf("terminal output=%q", term.String())
	}
	if strings.Contains(term.String(), "hidden") {
		t.Fatalf("level filter ignored")
	}
	raw, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatalf("read json log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 1 {
		t.Fatalf("json lines=%d want 1: %q", len(lines), raw)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["msg"] != "run summary" || rec["steps"] != float64(42) {
		t.Fatalf("record=%v", rec)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		" warn": slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q)=%v,%v want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestToJournalKey(t *testing.T) {
	if got := toJournalKey("steady.length-x"); got != "STEADY_LENGTH_X" {
		t.Fatalf("toJournalKey=%q", got)
	}
}
