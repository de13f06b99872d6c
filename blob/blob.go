// Package blob archives capture images. Storage failures are reported to
// the caller, which logs and counts them without affecting attendance.
package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/warp/attendance-engine/core"
)

// Store writes and removes opaque objects by key.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}

// Kind distinguishes check-in from check-out captures.
type Kind string

const (
	KindCheckIn  Kind = "in"
	KindCheckOut Kind = "out"
)

// Key builds "checkin_images/<employee>/<date>/in_<date>_<HHMMSS>.jpg" (or
// the checkout equivalent) with date and time in loc.
func Key(employeeID core.EntityID, kind Kind, at time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	lt := at.In(loc)
	day := lt.Format("2006-01-02")
	dir := "checkin_images"
	if kind == KindCheckOut {
		dir = "checkout_images"
	}
	name := fmt.Sprintf("%s_%s_%s.jpg", kind, day, lt.Format("150405"))
	return strings.Join([]string{dir, sanitize(string(employeeID)), day, name}, "/")
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '.' {
			return '_'
		}
		return r
	}, s)
}

// =============================================================================
// LOCAL - Filesystem store
// =============================================================================

type Local struct {
	Root string
}

func NewLocal(root string) *Local {
	return &Local{Root: root}
}

func (l *Local) Put(_ context.Context, key string, data []byte, _ string) error {
	path := filepath.Join(l.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	err := os.Remove(filepath.Join(l.Root, filepath.FromSlash(key)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Discard drops every write. Used when archiving is disabled.
type Discard struct{}

func (Discard) Put(context.Context, string, []byte, string) error { return nil }
func (Discard) Delete(context.Context, string) error              { return nil }
