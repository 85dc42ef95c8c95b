package s3mirror

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"iftsim.dev/internal/logs"
)

type put struct {
	path, auth, hash, ctype string
	body                    []byte
}

func TestMirror_UploadsRelativeKeys(t *testing.T) {
	var (
		mu   sync.Mutex
		puts []put
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		puts = append(puts, put{r.URL.Path, r.Header.Get("Authorization"), r.Header.Get("x-amz-content-sha256"), r.Header.Get("Content-Type"), body})
		mu.Unlock()
	}))
	defer srv.Close()

	client, err := New(Credentials{Endpoint: srv.URL, Bucket: "sims", AccessKeyID: "AK", SecretAccessKey: "SK"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data := t.TempDir()
	file := filepath.Join(data, "runs", "base-s1", "length.png")
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(file, []byte("png bytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	m := NewMirror(client, data, Options{Prefix: "/nightly/", Logger: logs.Discard()})
	m.Enqueue(file)
	m.Close()

	if st := m.Stats(); st.Uploaded != 1 || st.Failed != 0 || st.Enqueued != 1 {
		t.Fatalf("stats=%+v", st)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(puts) != 1 {
		t.Fatalf("puts=%d", len(puts))
	}
	p := puts[0]
	if p.path != "/sims/nightly/runs/base-s1/length.png" || string(p.body) != "png bytes" || p.ctype != "image/png" {
		t.Fatalf("put=%+v", p)
	}
	sum := sha256.Sum256([]byte("png bytes"))
	if p.hash != hex.EncodeToString(sum[:]) {
		t.Fatalf("payload hash=%s", p.hash)
	}
	if !strings.HasPrefix(p.auth, "AWS4-HMAC-SHA256 Credential=AK/") || !strings.Contains(p.auth, "/auto/s3/aws4_request") {
		t.Fatalf("auth=%s", p.auth)
	}
}

type flaky struct {
	mu    sync.Mutex
	calls int
	fail  int
}

func (f *flaky) PutFile(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fail {
		return errors.New("unavailable")
	}
	return nil
}

func TestMirror_RetriesThenGivesUp(t *testing.T) {
	data := t.TempDir()
	file := filepath.Join(data, "a.csv")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ok := &flaky{fail: 2}
	m := newMirror(ok, data, Options{Logger: logs.Discard()})
	m.backoff = time.Millisecond
	m.Enqueue(file)
	m.Close()
	if st := m.Stats(); st.Uploaded != 1 || ok.calls != 3 {
		t.Fatalf("stats=%+v calls=%d", st, ok.calls)
	}

	down := &flaky{fail: 100}
	m = newMirror(down, data, Options{Logger: logs.Discard()})
	m.backoff = time.Millisecond
	m.Enqueue(file)
	m.Enqueue(filepath.Join(t.TempDir(), "outside.csv"))
	m.Close()
	if st := m.Stats(); st.Failed != 2 || st.Uploaded != 0 || down.calls != 4 {
		t.Fatalf("stats=%+v calls=%d", st, down.calls)
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	if _, err := New(Credentials{Endpoint: "r2.example.com", Bucket: "b"}); err == nil {
		t.Fatalf("expected error for missing keys")
	}
	c, err := New(Credentials{Endpoint: "r2.example.com/", Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s", Region: "eu-west-1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.cred.Endpoint != "https://r2.example.com" || c.cred.Region != "eu-west-1" {
		t.Fatalf("cred=%+v", c.cred)
	}
}

func TestCleanKey(t *testing.T) {
	for in, want := range map[string]string{
		`runs\a\b.png`: "runs/a/b.png",
		"/x/../y":      "y",
		"../../etc":    "etc",
		"  ":           "",
		"/":            "",
	} {
		if got := cleanKey(in); got != want {
			t.Fatalf("cleanKey(%q)=%q want %q", in, got, want)
		}
	}
}
