package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"
	"github.com/solarproa/powersim/pkg/types"
)

var (
	// ErrRunNotFound is returned by GetRun for an unknown id.
	ErrRunNotFound = errors.New("run not found")
)

// DefaultListLimit caps ListRuns when no limit is given.
const DefaultListLimit = 50

// Database archives simulation runs.
type Database interface {
	SaveRun(ctx context.Context, run types.Run) error
	GetRun(ctx context.Context, id string) (types.Run, error)
	// ListRuns returns the newest runs first, optionally filtered by kind.
	// Payloads are omitted.
	ListRuns(ctx context.Context, kind string, limit int) ([]types.Run, error)

	// Lifecycle
	Close() error
}

// NewRun builds a run with a fresh id, encoding payload as its artifact.
func NewRun(kind, name string, errs, warnings []string, payload any) (types.Run, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return types.Run{}, fmt.Errorf("failed to marshal run payload: %w", err)
	}
	return types.Run{
		ID:        uuid.NewString(),
		Kind:      kind,
		Name:      name,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		Errors:    errs,
		Warnings:  warnings,
		Payload:   b,
	}, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "none", "Storage provider to use (available: none, file, firestore)")

	var p struct{ Database }

	fs := configuredFirestore()
	file := configuredFile()

	lflag.Do(func() {
		switch *provider {
		case "none", "":
			p.Database = None{}
		case "file":
			if err := file.Validate(); err != nil {
				panic(fmt.Sprintf("file storage validation failed: %v", err))
			}
			p.Database = file
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}

// None discards every run.
type None struct{}

func (None) SaveRun(context.Context, types.Run) error {
	return nil
}

func (None) GetRun(context.Context, string) (types.Run, error) {
	return types.Run{}, ErrRunNotFound
}

func (None) ListRuns(context.Context, string, int) ([]types.Run, error) {
	return nil, nil
}

func (None) Close() error {
	return nil
}
