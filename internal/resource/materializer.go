// Package resource stages the external files a tool depends on before the
// driver starts: download, sha256 verification, optional archive extraction.
package resource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archiver/v3"
	"golang.org/x/sync/errgroup"

	"github.com/chudamax/asm4-adapter-runtime/internal/blob"
	"github.com/chudamax/asm4-adapter-runtime/internal/model"
)

// fetchLimit bounds concurrent downloads so a long resource list does not
// open an unbounded number of connections.
const fetchLimit = 4

// Staged is the outcome for a single resource. Err is a *model.ResourceError
// when materialization failed; Path is set only on success.
type Staged struct {
	Ref  model.ResourceRef
	Path string
	Err  error
}

// Materializer resolves ResourceRefs into a staging directory.
type Materializer struct {
	blob *blob.Client
}

func NewMaterializer(bc *blob.Client) *Materializer {
	return &Materializer{blob: bc}
}

// Materialize fetches all refs into dir concurrently. One failing resource
// never aborts the others; the caller inspects the per-resource outcomes
// and decides which failures are fatal. The returned slice preserves
// manifest order.
func (m *Materializer) Materialize(ctx context.Context, refs []model.ResourceRef, dir string) ([]Staged, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}

	staged := make([]Staged, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchLimit)
	for i, ref := range refs {
		g.Go(func() error {
			path, err := m.stage(gctx, ref, dir)
			if err != nil {
				slog.WarnContext(gctx, "resource not staged", "resource", ref.Name, "error", err)
				staged[i] = Staged{Ref: ref, Err: &model.ResourceError{Name: ref.Name, Err: err}}
				return nil
			}
			staged[i] = Staged{Ref: ref, Path: path}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return staged, err
	}
	return staged, nil
}

func (m *Materializer) stage(ctx context.Context, ref model.ResourceRef, dir string) (string, error) {
	if ref.URL == "" {
		return "", fmt.Errorf("empty URL")
	}
	dest := filepath.Join(dir, ref.DestName())

	rd, err := m.blob.Open(ctx, ref.URL)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", ref.URL, err)
	}
	defer func() {
		_ = rd.Close()
	}()

	// Download into a temp file first so a hash mismatch never leaves a
	// half-staged resource behind.
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", err
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), rd); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("downloading %s: %w", ref.URL, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if ref.SHA256 != "" {
		sum := hex.EncodeToString(h.Sum(nil))
		if !strings.EqualFold(sum, ref.SHA256) {
			return "", fmt.Errorf("sha256 mismatch: got %s, want %s", sum, ref.SHA256)
		}
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", err
	}

	if ref.Extract {
		if err := extract(dest, filepath.Join(dir, ref.Name)); err != nil {
			return "", fmt.Errorf("extracting: %w", err)
		}
	}

	slog.DebugContext(ctx, "resource staged", "resource", ref.Name, "path", dest)
	return dest, nil
}

// extract unpacks recognized archive formats into dir. A resource flagged
// extract with an unrecognized extension is an error: the adapter declared
// it needs the unpacked content.
func extract(archive, dir string) error {
	switch {
	case hasSuffix(archive, ".zip", ".tar", ".tgz", ".tar.gz", ".tar.bz2"):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		return archiver.Unarchive(archive, dir)
	default:
		return fmt.Errorf("unrecognized archive format: %s", filepath.Base(archive))
	}
}

func hasSuffix(name string, suffixes ...string) bool {
	low := strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(low, s) {
			return true
		}
	}
	return false
}
