// Package s3mirror uploads finished run artifacts to an S3-compatible
// bucket (R2, MinIO, AWS) using path-style SigV4 PUTs.
package s3mirror

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

const (
	sigV4Algorithm = "AWS4-HMAC-SHA256"
	sigV4Service   = "s3"
	signedHeaders  = "host;x-amz-content-sha256;x-amz-date"
)

type Credentials struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

type Client struct {
	cred       Credentials
	httpClient *http.Client
	now        func() time.Time
}

// New checks the credentials. An endpoint without a scheme gets https, and
// an empty region becomes "auto".
func New(cred Credentials) (*Client, error) {
	cred.Endpoint = strings.TrimSpace(cred.Endpoint)
	cred.Bucket = strings.TrimSpace(cred.Bucket)
	cred.Region = strings.TrimSpace(cred.Region)
	cred.AccessKeyID = strings.TrimSpace(cred.AccessKeyID)
	cred.SecretAccessKey = strings.TrimSpace(cred.SecretAccessKey)
	if cred.Endpoint == "" || cred.Bucket == "" || cred.AccessKeyID == "" || cred.SecretAccessKey == "" {
		return nil, fmt.Errorf("endpoint, bucket, access key and secret key are required")
	}
	if cred.Region == "" {
		cred.Region = "auto"
	}
	if !strings.Contains(cred.Endpoint, "://") {
		cred.Endpoint = "https://" + cred.Endpoint
	}
	u, err := url.Parse(cred.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint: %s", cred.Endpoint)
	}
	cred.Endpoint = strings.TrimRight(u.String(), "/")
	return &Client{
		cred:       cred,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		now:        time.Now,
	}, nil
}

// PutFile uploads localPath to key.
func (c *Client) PutFile(ctx context.Context, key, localPath string) error {
	key = cleanKey(key)
	if key == "" {
		return fmt.Errorf("empty object key")
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("%s is a directory", localPath)
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	uri := "/" + c.cred.Bucket + "/" + escapeKey(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.cred.Endpoint+uri, f)
	if err != nil {
		return err
	}
	req.ContentLength = st.Size()
	req.Header.Set("Content-Type", contentType(key))
	c.sign(req, uri, hex.EncodeToString(h.Sum(nil)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	return fmt.Errorf("put %s: status %d: %s", key, resp.StatusCode, strings.TrimSpace(string(body)))
}

func (c *Client) sign(req *http.Request, uri, payloadHash string) {
	now := c.now().UTC()
	amzDate := now.Format("20060102T150405Z")
	day := now.Format("20060102")
	host := req.URL.Host

	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("x-amz-date", amzDate)

	canonical := strings.Join([]string{
		req.Method,
		uri,
		"",
		"host:" + host + "\nx-amz-content-sha256:" + payloadHash + "\nx-amz-date:" + amzDate + "\n",
		signedHeaders,
		payloadHash,
	}, "\n")
	scope := day + "/" + c.cred.Region + "/" + sigV4Service + "/aws4_request"
	sum := sha256.Sum256([]byte(canonical))
	toSign := sigV4Algorithm + "\n" + amzDate + "\n" + scope + "\n" + hex.EncodeToString(sum[:])

	key := []byte("AWS4" + c.cred.SecretAccessKey)
	for _, part := range []string{day, c.cred.Region, sigV4Service, "aws4_request"} {
		key = hmacSHA256(key, part)
	}
	req.Header.Set("Authorization", fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		sigV4Algorithm, c.cred.AccessKeyID, scope, signedHeaders, hex.EncodeToString(hmacSHA256(key, toSign))))
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	_, _ = h.Write([]byte(data))
	return h.Sum(nil)
}

func contentType(key string) string {
	switch path.Ext(key) {
	case ".png":
		return "image/png"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}

// cleanKey normalizes separators and rejects keys escaping the bucket root.
func cleanKey(key string) string {
	key = strings.TrimPrefix(strings.TrimSpace(strings.ReplaceAll(key, "\\", "/")), "/")
	if key == "" {
		return ""
	}
	clean := strings.TrimPrefix(path.Clean("/"+key), "/")
	if clean == "." || clean == "" {
		return ""
	}
	return clean
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	return strings.Join(parts, "/")
}
