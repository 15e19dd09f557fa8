package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/solarproa/powersim/pkg/log"
	"github.com/solarproa/powersim/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const runsCollection = "runs"

// FirestoreProvider implements the Database interface using Google Cloud Firestore.
// Each run is one document in the "runs" collection keyed by run id.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// an empty project id is detected from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

// SaveRun stores the run as a JSON blob alongside the fields it is queried by.
func (f *FirestoreProvider) SaveRun(ctx context.Context, run types.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id cannot be empty")
	}
	jsonBytes, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	_, err = f.client.Collection(runsCollection).Doc(run.ID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"kind":      run.Kind,
		"createdAt": run.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by id.
func (f *FirestoreProvider) GetRun(ctx context.Context, id string) (types.Run, error) {
	if id == "" {
		return types.Run{}, ErrRunNotFound
	}
	doc, err := f.client.Collection(runsCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Run{}, ErrRunNotFound
		}
		return types.Run{}, fmt.Errorf("failed to fetch run doc: %w", err)
	}
	run, err := decodeRun(doc)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode run", slog.String("runID", id), slog.Any("err", err))
		return types.Run{}, err
	}
	return run, nil
}

// ListRuns queries the newest runs, filtered by kind when it is set.
func (f *FirestoreProvider) ListRuns(ctx context.Context, kind string, limit int) ([]types.Run, error) {
	q := f.client.Collection(runsCollection).Query
	if kind != "" {
		q = q.Where("kind", "==", kind)
	}
	iter := q.OrderBy("createdAt", firestore.Desc).Limit(normalizeLimit(limit)).Documents(ctx)
	defer iter.Stop()

	var runs []types.Run
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating runs: %w", err)
		}
		run, err := decodeRun(doc)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to decode run", slog.String("runID", doc.Ref.ID), slog.Any("err", err))
			// Skip malformed documents
			continue
		}
		run.Payload = nil
		runs = append(runs, run)
	}
	return runs, nil
}

func decodeRun(doc *firestore.DocumentSnapshot) (types.Run, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		return types.Run{}, fmt.Errorf("run document missing 'json' field: %w", err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return types.Run{}, fmt.Errorf("run 'json' field is not a string")
	}
	var run types.Run
	if err := json.Unmarshal([]byte(jsonStr), &run); err != nil {
		return types.Run{}, fmt.Errorf("failed to unmarshal run json: %w", err)
	}
	return run, nil
}
