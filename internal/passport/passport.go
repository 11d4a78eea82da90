// Package passport stores the cropped portrait derived at registration.
package passport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store persists passport images and returns a reference to them.
type Store interface {
	Save(ctx context.Context, key string, png []byte) (string, error)
	Delete(ctx context.Context, ref string) error
}

var unsafeKeyChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// NewKey builds a unique object key for a student's passport.
func NewKey(studentID string, now time.Time) string {
	slug := unsafeKeyChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(studentID)), "_")
	if slug == "" {
		slug = "unknown"
	}
	return fmt.Sprintf("passports/%d/%02d/%02d/%s-%s.png", now.Year(), now.Month(), now.Day(), slug, uuid.NewString())
}

// LocalStore writes passports below a directory on disk. References are file paths.
type LocalStore struct {
	dir string
}

// NewLocalStore creates the directory if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("passport: create dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

// Save writes png under key.
func (s *LocalStore) Save(ctx context.Context, key string, png []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, filepath.FromSlash(key))
	if !strings.HasPrefix(path, filepath.Clean(s.dir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("passport: key %q escapes store", key)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("passport: create dir: %w", err)
	}
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("passport: write: %w", err)
	}
	return path, nil
}

// Delete removes a previously saved passport. Missing files are ignored.
func (s *LocalStore) Delete(ctx context.Context, ref string) error {
	if err := os.Remove(ref); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("passport: delete: %w", err)
	}
	return nil
}
