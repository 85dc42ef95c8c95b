package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"iftsim.dev/internal/persistence/s3mirror"
)

// buildMirror returns nil unless IFTSIM_MIRROR is true.
func buildMirror(dataDir string, logger *slog.Logger) (*s3mirror.Mirror, error) {
	if !envBool("IFTSIM_MIRROR", false) {
		return nil, nil
	}
	client, err := s3mirror.New(s3mirror.Credentials{
		Endpoint:        os.Getenv("IFTSIM_S3_ENDPOINT"),
		Bucket:          os.Getenv("IFTSIM_S3_BUCKET"),
		Region:          os.Getenv("IFTSIM_S3_REGION"),
		AccessKeyID:     os.Getenv("IFTSIM_S3_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("IFTSIM_S3_SECRET_ACCESS_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("IFTSIM_MIRROR=true: %w", err)
	}
	return s3mirror.NewMirror(client, dataDir, s3mirror.Options{
		Prefix:  os.Getenv("IFTSIM_S3_PREFIX"),
		Workers: envInt("IFTSIM_S3_UPLOAD_WORKERS", 2),
		Logger:  logger.With("component", "mirror"),
	}), nil
}

// mirrorRunDir queues every regular file of a finished run.
func mirrorRunDir(m *s3mirror.Mirror, dir string) error {
	if m == nil {
		return nil
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range ents {
		if e.Type().IsRegular() {
			m.Enqueue(filepath.Join(dir, e.Name()))
		}
	}
	return nil
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
