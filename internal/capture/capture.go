// Package capture stages photographs for upload.
package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"gradescan/internal/exam"
)

// Provider produces one JPEG image per request.
type Provider interface {
	Capture(ctx context.Context, stage exam.Stage) (string, error)
}

// Run stages captures for one grading attempt under its own directory so
// concurrent or retried attempts never clobber each other's files.
type Run struct {
	dir      string
	provider Provider
	keep     bool
}

// NewRun creates the per-attempt directory under baseDir.
func NewRun(baseDir string, provider Provider, keep bool) (*Run, error) {
	dir := filepath.Join(baseDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}
	return &Run{dir: dir, provider: provider, keep: keep}, nil
}

// Dir returns the attempt directory.
func (r *Run) Dir() string { return r.dir }

// Capture obtains an image from the provider and copies it into the attempt
// directory as <stage>_<millis>.jpg. The copy is verified to exist before the
// path is handed out; the provider may reuse or remove its source afterwards.
func (r *Run) Capture(ctx context.Context, stage exam.Stage) (string, error) {
	src, err := r.provider.Capture(ctx, stage)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(r.dir, fmt.Sprintf("%s_%d.jpg", stage, time.Now().UnixMilli()))
	if err := copyFile(src, dst); err != nil {
		return "", err
	}
	if _, err := os.Stat(dst); err != nil {
		return "", fmt.Errorf("staged capture missing after copy: %w", err)
	}
	return dst, nil
}

// Cleanup removes the attempt directory unless captures are kept.
func (r *Run) Cleanup() {
	if r.keep {
		return
	}
	// Best-effort removal of staged captures.
	_ = os.RemoveAll(r.dir)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open capture %s: %w", src, err)
	}
	defer func() {
		_ = in.Close()
	}()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy capture to %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", dst, err)
	}
	return nil
}
