package s3mirror

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	Enqueued      uint64
	Dropped       uint64
	Uploaded      uint64
	Failed        uint64
}

type uploader interface {
	PutFile(ctx context.Context, key, localPath string) error
}

// Mirror uploads files below a data directory on a small worker pool. Keys
// are the path relative to the data directory under an optional prefix.
type Mirror struct {
	client  uploader
	dataDir string
	prefix  string
	logger  *slog.Logger

	jobs        chan string
	enqueueWait time.Duration
	backoff     time.Duration
	wg          sync.WaitGroup

	enqueued atomic.Uint64
	dropped  atomic.Uint64
	uploaded atomic.Uint64
	failed   atomic.Uint64
}

type Options struct {
	Prefix      string
	Workers     int
	Queue       int
	EnqueueWait time.Duration
	Logger      *slog.Logger
}

func NewMirror(client *Client, dataDir string, opts Options) *Mirror {
	return newMirror(client, dataDir, opts)
}

func newMirror(client uploader, dataDir string, opts Options) *Mirror {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Queue <= 0 {
		opts.Queue = 256
	}
	if opts.EnqueueWait <= 0 {
		opts.EnqueueWait = 25 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Mirror{
		client:      client,
		dataDir:     dataDir,
		prefix:      strings.Trim(strings.ReplaceAll(opts.Prefix, "\\", "/"), "/"),
		logger:      opts.Logger,
		jobs:        make(chan string, opts.Queue),
		enqueueWait: opts.EnqueueWait,
		backoff:     200 * time.Millisecond,
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.upload(p)
			}
		}()
	}
	return m
}

// Enqueue schedules an upload, waiting briefly when the queue is full and
// dropping the file after that.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil {
		return
	}
	m.enqueued.Add(1)
	select {
	case m.jobs <- localPath:
		return
	default:
	}
	timer := time.NewTimer(m.enqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- localPath:
	case <-timer.C:
		m.dropped.Add(1)
		m.logger.Warn("mirror queue full, dropping", "path", localPath)
	}
}

// Close waits for queued uploads to finish.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	close(m.jobs)
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(m.jobs),
		QueueCapacity: cap(m.jobs),
		Enqueued:      m.enqueued.Load(),
		Dropped:       m.dropped.Load(),
		Uploaded:      m.uploaded.Load(),
		Failed:        m.failed.Load(),
	}
}

func (m *Mirror) upload(localPath string) {
	key, err := m.objectKey(localPath)
	if err != nil {
		m.failed.Add(1)
		m.logger.Warn("mirror skip", "path", localPath, "error", err)
		return
	}
	const attempts = 4
	for i := 1; i <= attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = m.client.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			m.uploaded.Add(1)
			m.logger.Debug("mirror uploaded", "key", key)
			return
		}
		if i < attempts {
			time.Sleep(time.Duration(i*i) * m.backoff)
		}
	}
	m.failed.Add(1)
	m.logger.Warn("mirror upload failed", "key", key, "error", err)
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	base, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s", abs, base)
	}
	if m.prefix != "" {
		rel = path.Join(m.prefix, rel)
	}
	return rel, nil
}
