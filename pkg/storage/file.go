package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/levenlabs/go-lflag"
	"github.com/solarproa/powersim/pkg/log"
	"github.com/solarproa/powersim/pkg/types"
)

// FileProvider keeps one JSON document per run in a directory.
type FileProvider struct {
	dir string
	mu  sync.RWMutex
}

func configuredFile() *FileProvider {
	dir := lflag.String("storage-file-dir", "", "Directory holding archived runs for the file storage provider")

	f := &FileProvider{}
	lflag.Do(func() {
		f.dir = *dir
	})
	return f
}

// NewFileProvider returns a provider rooted at dir, creating it if needed.
func NewFileProvider(dir string) (*FileProvider, error) {
	f := &FileProvider{dir: dir}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate ensures the directory is set and exists.
func (f *FileProvider) Validate() error {
	if f.dir == "" {
		return errors.New("storage-file-dir is required")
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", f.dir, err)
	}
	return nil
}

func (f *FileProvider) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id != filepath.Base(id) {
		return "", fmt.Errorf("invalid run id %q", id)
	}
	return filepath.Join(f.dir, id+".json"), nil
}

// SaveRun writes run, replacing any earlier run with the same id.
func (f *FileProvider) SaveRun(ctx context.Context, run types.Run) error {
	path, err := f.path(run.ID)
	if err != nil {
		return err
	}
	b, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("failed to write run: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write run: %w", err)
	}
	return nil
}

// GetRun reads the run with the given id.
func (f *FileProvider) GetRun(ctx context.Context, id string) (types.Run, error) {
	path, err := f.path(id)
	if err != nil {
		return types.Run{}, ErrRunNotFound
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return types.Run{}, ErrRunNotFound
	}
	if err != nil {
		return types.Run{}, fmt.Errorf("failed to read run: %w", err)
	}
	var run types.Run
	if err := json.Unmarshal(b, &run); err != nil {
		return types.Run{}, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return run, nil
}

// ListRuns scans the directory. Malformed files are skipped.
func (f *FileProvider) ListRuns(ctx context.Context, kind string, limit int) ([]types.Run, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	var runs []types.Run
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		b, err := os.ReadFile(filepath.Join(f.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read run: %w", err)
		}
		var run types.Run
		if err := json.Unmarshal(b, &run); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal run", slog.String("file", e.Name()), slog.Any("err", err))
			continue
		}
		if kind != "" && run.Kind != kind {
			continue
		}
		run.Payload = nil
		runs = append(runs, run)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if limit = normalizeLimit(limit); len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Close is a no-op.
func (f *FileProvider) Close() error {
	return nil
}
