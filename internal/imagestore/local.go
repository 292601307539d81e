package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var _ Store = (*LocalStore)(nil)

// LocalStore writes images to a directory served by the API itself under
// /uploads/. Meant for development and single-node deployments.
type LocalStore struct {
	dir     string
	baseURL string
}

// NewLocalStore creates dir if needed. baseURL is the public origin of the
// API, e.g. "http://localhost:5000"; it may be empty for relative URLs.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("imagestore: creating %s: %w", dir, err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return "", fmt.Errorf("imagestore: invalid key %q", key)
	}
	return filepath.Join(s.dir, key+".jpg"), nil
}

func (s *LocalStore) Upload(_ context.Context, key string, jpeg []byte) (string, error) {
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(p, jpeg, 0o644); err != nil {
		return "", fmt.Errorf("imagestore: writing %s: %w", p, err)
	}
	return s.baseURL + "/uploads/" + key + ".jpg", nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("imagestore: removing %s: %w", p, err)
	}
	return nil
}

// Handler serves the stored files. Mount it with the "/uploads/" prefix
// stripped.
func (s *LocalStore) Handler() http.Handler {
	return http.FileServer(http.Dir(s.dir))
}
