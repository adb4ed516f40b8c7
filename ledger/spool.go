package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nyaruka/eventsink/core/models"
	"github.com/nyaruka/gocommon/jsonx"
	"github.com/nyaruka/gocommon/uuids"
)

// Spool is a local directory where we write UUIDs that couldn't be marked so that they can be marked
// by a later invocation of the same process
type Spool struct {
	dir string
}

// NewSpool creates a new spool in the passed in directory
func NewSpool(dir string) *Spool {
	return &Spool{dir: dir}
}

// EnsureDir checks that our spool directory is present and writable
func (s *Spool) EnsureDir() error {
	if err := os.MkdirAll(s.dir, 0770); err != nil {
		return fmt.Errorf("unable to create spool directory '%s': %w", s.dir, err)
	}

	probe := filepath.Join(s.dir, ".probe")
	if err := os.WriteFile(probe, nil, 0640); err != nil {
		return fmt.Errorf("spool directory '%s' not writable: %w", s.dir, err)
	}
	return os.Remove(probe)
}

// Write writes the passed in UUIDs to a new spool file
func (s *Spool) Write(marks []models.EventUUID) error {
	if len(marks) == 0 {
		return nil
	}

	contents, err := jsonx.Marshal(marks)
	if err != nil {
		return err
	}

	filename := filepath.Join(s.dir, fmt.Sprintf("%d_%s.json", time.Now().UnixNano(), uuids.NewV4()))
	return os.WriteFile(filename, contents, 0640)
}

// Flush tries to mark the UUIDs in every spool file, removing those files which are marked. It stops
// at the first marking error and returns the number of UUIDs which were marked.
func (s *Spool) Flush(ctx context.Context, l Ledger) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("error reading spool directory: %w", err)
	}

	filenames := make([]string, 0, len(entries))
	for _, e := range entries {
		// we don't care about subdirectories or non-json files
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			filenames = append(filenames, filepath.Join(s.dir, e.Name()))
		}
	}
	sort.Strings(filenames)

	flushed := 0

	for _, filename := range filenames {
		contents, err := os.ReadFile(filename)
		if err != nil {
			slog.Error("error reading spool file", "comp", "spool", "filename", filename, "error", err)
			continue
		}

		var marks []models.EventUUID
		if err := jsonx.Unmarshal(contents, &marks); err != nil {
			slog.Error("removing invalid spool file", "comp", "spool", "filename", filename, "error", err)
			os.Remove(filename)
			continue
		}

		if err := l.Mark(ctx, marks); err != nil {
			return flushed, fmt.Errorf("error flushing spool file '%s': %w", filename, err)
		}

		flushed += len(marks)

		if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
			return flushed, fmt.Errorf("error removing spool file '%s': %w", filename, err)
		}
	}

	return flushed, nil
}
