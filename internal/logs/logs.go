// Package logs builds the process logger: a text handler for the terminal,
// an optional JSON file and the systemd journal when running as a service,
// all fanned out from one slog.Logger.
package logs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

type Options struct {
	// Terminal receives human-readable output. Nil means stderr.
	Terminal io.Writer
	// JSONPath, when set, appends JSON records to that file.
	JSONPath string
	Level    *slog.LevelVar
	// Journal forces the journal handler even outside a systemd service.
	Journal bool
}

// ParseLevel accepts debug, info, warn or error (any case).
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(strings.TrimSpace(s)))
	return l, err
}

// New returns the fanned-out logger and a closer for any file it opened.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level := opts.Level
	if level == nil {
		level = new(slog.LevelVar)
	}
	hopts := &slog.HandlerOptions{Level: level}

	var handlers []slog.Handler
	closer := multiCloser{}

	service := isSystemdService()
	var terminal slog.Handler
	if !service {
		w := opts.Terminal
		if w == nil {
			w = os.Stderr
		}
		terminal = slog.NewTextHandler(w, hopts)
		handlers = append(handlers, terminal)
	}

	if opts.JSONPath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.JSONPath), 0o755); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(opts.JSONPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		closer = append(closer, f)
		handlers = append(handlers, slog.NewJSONHandler(f, hopts))
	}

	if service || opts.Journal {
		jh, err := slogjournal.NewHandler(&slogjournal.Options{
			ReplaceGroup: toJournalKey,
			ReplaceAttr:  journalAttr,
		})
		if err != nil {
			if terminal != nil {
				rec := slog.NewRecord(time.Now(), slog.LevelWarn, "systemd journal unavailable", 0)
				rec.Add("error", err)
				_ = terminal.Handle(context.Background(), rec)
			}
		} else {
			handlers = append(handlers, jh)
		}
	}

	if len(handlers) == 0 {
		handlers = append(handlers, slog.NewTextHandler(os.Stderr, hopts))
	}
	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}

// Discard is a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func toJournalKey(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, strings.ToUpper(s))
}

func journalAttr(_ []string, a slog.Attr) slog.Attr {
	a.Key = toJournalKey(a.Key)
	return a
}

func isSystemdService() bool {
	content, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return false
	}
	parts := strings.Split(strings.TrimSpace(string(content)), ":")
	if len(parts) < 3 {
		return false
	}
	return strings.HasSuffix(path.Dir(parts[2]), ".service")
}
