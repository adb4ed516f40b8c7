package sink

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Local is a sink which writes to a directory on the local filesystem
type Local struct {
	root string
}

// NewLocal creates a new local sink rooted at the passed in directory
func NewLocal(root string) *Local {
	return &Local{root: root}
}

// PutIfAbsent writes body to a temporary file which is then hard linked to its final path. Linking
// fails if the path exists so the first writer always wins.
func (l *Local) PutIfAbsent(ctx context.Context, key string, contentType string, body []byte) (bool, error) {
	if !filepath.IsLocal(filepath.FromSlash(key)) {
		return false, fmt.Errorf("invalid key '%s'", key)
	}

	path := filepath.Join(l.root, filepath.FromSlash(key))
	dir := filepath.Dir(path)

	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	if err := os.MkdirAll(dir, 0770); err != nil {
		return false, fmt.Errorf("error creating directory for '%s': %w", key, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return false, fmt.Errorf("error creating temp file for '%s': %w", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return false, fmt.Errorf("error writing '%s': %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("error writing '%s': %w", key, err)
	}

	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("error writing '%s': %w", key, err)
	}
	return true, nil
}

// Check makes sure our root directory exists
func (l *Local) Check(ctx context.Context) error {
	if err := os.MkdirAll(l.root, 0770); err != nil {
		return fmt.Errorf("sink directory '%s' not usable: %w", l.root, err)
	}
	return nil
}
