// Package workspace provides the request-scoped directory that owns every
// intermediate artifact of one request. Cleanup is best-effort and runs on
// every exit path; a failed cleanup is logged but never fails the request.
package workspace

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/you/tg-grabber/internal/logx"
)

type Workspace struct {
	ID  string
	Dir string
}

func newULID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// New creates <root>/work/<ulid> and returns the workspace handle.
func New(root string) (*Workspace, error) {
	id := newULID()
	dir := filepath.Join(root, "work", id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Workspace{ID: id, Dir: dir}, nil
}

// Path returns the absolute path for a named artifact inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// Cleanup removes the workspace directory and everything it still owns.
func (w *Workspace) Cleanup(ctx context.Context) {
	if err := os.RemoveAll(w.Dir); err != nil {
		logger := logx.FromCtx(ctx)
		logger.Warn().Err(err).Str("dir", w.Dir).Msg("workspace cleanup failed")
	}
}
