// Package fsblob is a filesystem-backed media blob store. References carry
// an explicit validity window, mirroring stores that hand out signed URLs:
// a reference is "<name>#<unix-expiry>", and fetching past the expiry fails
// with [media.ErrExpiredReference] until the reference is reissued.
package fsblob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/echoreplay/internal/media"
)

// DefaultTTL is the validity window stamped on new and reissued references.
const DefaultTTL = 24 * time.Hour

// Store reads and writes media payloads under a root directory. The zero
// value is not usable; construct with [New].
type Store struct {
	root string
	ttl  time.Duration
}

// Option configures a [Store].
type Option func(*Store)

// WithTTL overrides the reference validity window.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fsblob: create root %s: %w", dir, err)
	}
	s := &Store{root: dir, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Put stores data under name and returns a reference valid for the store's
// TTL. name must be a bare filename, not a path.
func (s *Store) Put(name string, data []byte) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("fsblob: invalid blob name %q", name)
	}
	if err := os.WriteFile(filepath.Join(s.root, name), data, 0o644); err != nil {
		return "", fmt.Errorf("fsblob: write %s: %w", name, err)
	}
	return s.stamp(name), nil
}

// Fetch reads the payload behind ref. A reference past its validity window
// returns an error wrapping [media.ErrExpiredReference] without touching
// the filesystem.
func (s *Store) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, expiry, err := parseRef(ref)
	if err != nil {
		return nil, fmt.Errorf("fsblob: %v: %w", err, media.ErrFetchFailed)
	}
	if !expiry.IsZero() && time.Now().After(expiry) {
		return nil, fmt.Errorf("fsblob: ref %s lapsed at %s: %w", name, expiry.Format(time.RFC3339), media.ErrExpiredReference)
	}
	data, err := os.ReadFile(filepath.Join(s.root, name))
	if err != nil {
		return nil, fmt.Errorf("fsblob: read %s: %v: %w", name, err, media.ErrFetchFailed)
	}
	return data, nil
}

// Regenerate reissues ref with a fresh validity window. The underlying blob
// must still exist; regeneration cannot resurrect deleted payloads.
func (s *Store) Regenerate(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name, _, err := parseRef(ref)
	if err != nil {
		return "", fmt.Errorf("fsblob: regenerate: %w", err)
	}
	if _, err := os.Stat(filepath.Join(s.root, name)); err != nil {
		return "", fmt.Errorf("fsblob: regenerate %s: blob missing: %w", name, err)
	}
	return s.stamp(name), nil
}

func (s *Store) stamp(name string) string {
	return name + "#" + strconv.FormatInt(time.Now().Add(s.ttl).Unix(), 10)
}

// parseRef splits "<name>#<unix-expiry>". A ref without an expiry suffix is
// treated as never expiring (zero expiry), so externally produced plain-path
// refs work.
func parseRef(ref string) (name string, expiry time.Time, err error) {
	name, suffix, found := strings.Cut(ref, "#")
	if name == "" || name != filepath.Base(name) {
		return "", time.Time{}, fmt.Errorf("invalid ref %q", ref)
	}
	if !found {
		return name, time.Time{}, nil
	}
	unix, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid expiry in ref %q", ref)
	}
	return name, time.Unix(unix, 0), nil
}

var _ media.BlobStore = (*Store)(nil)
