// Package blob moves bytes between the runtime and the locations the
// launcher hands it: local files, presigned HTTP(S) URLs and s3:// object
// keys. Every input and output location goes through the same Client so the
// rest of the runtime never branches on scheme.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/chudamax/asm4-adapter-runtime/internal/model"
)

// ErrUnsupportedScheme reports a URL whose scheme no transport handles.
type ErrUnsupportedScheme struct {
	URL string
}

func (e *ErrUnsupportedScheme) Error() string {
	return fmt.Sprintf("unsupported URL scheme: %s", e.URL)
}

// Client dispatches reads and writes by URL scheme. A bare path (no scheme)
// is treated as a local file, matching how operators point the CLI at
// fixtures on disk.
type Client struct {
	http *http.Client
	s3   *minio.Client
}

// Option mutates a Client under construction.
type Option func(*Client)

// WithHTTPClient replaces the retrying HTTP client, used by tests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// New builds a Client. HTTP requests retry up to retries times with the
// retryablehttp default backoff. The s3 transport is only initialized when
// the settings carry an endpoint; s3:// URLs fail with
// ErrUnsupportedScheme otherwise.
func New(retries int, s3cfg model.S3Settings, opts ...Option) (*Client, error) {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retries
	rc.Logger = nil

	c := &Client{http: rc.StandardClient()}

	if s3cfg.Endpoint != "" {
		mc, err := minio.New(s3cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(s3cfg.AccessKey, s3cfg.SecretKey, ""),
			Secure: s3cfg.UseSSL,
			Region: s3cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing object store client: %w", err)
		}
		c.s3 = mc
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the full content at rawURL.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	rd, err := c.Open(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rd.Close()
	}()
	return io.ReadAll(rd)
}

// GetJSON decodes the JSON document at rawURL into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, v any) error {
	b, err := c.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Open returns a streaming reader for rawURL.
func (c *Client) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	switch scheme(rawURL) {
	case "file", "":
		return os.Open(localPath(rawURL))
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode/100 != 2 {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("GET %s: unexpected status %s", rawURL, resp.Status)
		}
		return resp.Body, nil
	case "s3":
		if c.s3 == nil {
			return nil, &ErrUnsupportedScheme{URL: rawURL}
		}
		bucket, key, err := splitS3(rawURL)
		if err != nil {
			return nil, err
		}
		obj, err := c.s3.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return nil, err
		}
		return obj, nil
	default:
		return nil, &ErrUnsupportedScheme{URL: rawURL}
	}
}

// Put writes the file at src to rawURL with the given content type.
func (c *Client) Put(ctx context.Context, rawURL, src, contentType string) error {
	switch scheme(rawURL) {
	case "file", "":
		dst := localPath(rawURL)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		in, err := os.Open(src)
		if err != nil {
			return err
		}
		defer func() {
			_ = in.Close()
		}()
		out, err := os.Create(dst)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			_ = out.Close()
			return err
		}
		return out.Close()
	case "http", "https":
		f, err := os.Open(src)
		if err != nil {
			return err
		}
		defer func() {
			_ = f.Close()
		}()
		info, err := f.Stat()
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, rawURL, f)
		if err != nil {
			return err
		}
		req.ContentLength = info.Size()
		req.Header.Set("Content-Type", contentType)
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode/100 != 2 {
			return fmt.Errorf("PUT %s: unexpected status %s", rawURL, resp.Status)
		}
		return nil
	case "s3":
		if c.s3 == nil {
			return &ErrUnsupportedScheme{URL: rawURL}
		}
		bucket, key, err := splitS3(rawURL)
		if err != nil {
			return err
		}
		_, err = c.s3.FPutObject(ctx, bucket, key, src, minio.PutObjectOptions{
			ContentType: contentType,
		})
		return err
	default:
		return &ErrUnsupportedScheme{URL: rawURL}
	}
}

// PostJSON posts payload as JSON to rawURL, draining the response. Only
// http(s) targets are meaningful; the signal sink is always an endpoint.
func (c *Client) PostJSON(ctx context.Context, rawURL string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("POST %s: unexpected status %s", rawURL, resp.Status)
	}
	return nil
}

func scheme(rawURL string) string {
	i := strings.Index(rawURL, "://")
	if i < 0 {
		return ""
	}
	return strings.ToLower(rawURL[:i])
}

// localPath converts file:// URLs (and bare paths) to filesystem paths.
// A host component folds into the path, so file://localhost/tmp/x resolves
// to /localhost/tmp/x as the launcher contract expects.
func localPath(rawURL string) string {
	if scheme(rawURL) == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.TrimPrefix(rawURL, "file://")
	}
	p := u.Path
	if u.Host != "" {
		p = "/" + u.Host + p
	}
	return p
}

func splitS3(rawURL string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(rawURL, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed s3 URL: %s", rawURL)
	}
	return bucket, key, nil
}
