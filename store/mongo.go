package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/BaSui01/flowkit/hub"
	"github.com/BaSui01/flowkit/types"
)

// MongoConfig configures the MongoDB-backed run store.
type MongoConfig struct {
	URI        string `yaml:"uri" json:"uri"`
	Database   string `yaml:"database" json:"database"`
	Collection string `yaml:"collection" json:"collection"`
}

// MongoStore is a RunStore over MongoDB: one collection for the event log,
// one for snapshots.
type MongoStore struct {
	client    *mongo.Client
	events    *mongo.Collection
	snapshots *mongo.Collection
}

type mongoEventDoc struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	RunID     string        `bson:"run_id"`
	EventID   string        `bson:"event_id"`
	EventType string        `bson:"event_type"`
	Payload   []byte        `bson:"payload"`
}

type mongoSnapshotDoc struct {
	RunID   string `bson:"_id"`
	Payload []byte `bson:"payload"`
}

// NewMongoStore connects to MongoDB and verifies the connection.
func NewMongoStore(ctx context.Context, config MongoConfig) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to reach MongoDB: %w", err)
	}
	return NewMongoStoreWithClient(client, config.Database, config.Collection), nil
}

// NewMongoStoreWithClient wraps an existing client. Database defaults to
// "flowkit", collection prefix to "run".
func NewMongoStoreWithClient(client *mongo.Client, dbName, collPrefix string) *MongoStore {
	if dbName == "" {
		dbName = "flowkit"
	}
	if collPrefix == "" {
		collPrefix = "run"
	}
	db := client.Database(dbName)
	return &MongoStore{
		client:    client,
		events:    db.Collection(collPrefix + "_events"),
		snapshots: db.Collection(collPrefix + "_snapshots"),
	}
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) AppendEvent(ctx context.Context, runID string, event hub.EnrichedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = s.events.InsertOne(ctx, mongoEventDoc{
		RunID:     runID,
		EventID:   event.ID,
		EventType: event.Type(),
		Payload:   payload,
	})
	return err
}

func (s *MongoStore) LoadEvents(ctx context.Context, runID string, afterSeq int) ([]hub.EnrichedEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if afterSeq >= 0 {
		opts = opts.SetSkip(int64(afterSeq) + 1)
	}
	cursor, err := s.events.Find(ctx, bson.M{"run_id": runID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []hub.EnrichedEvent
	for cursor.Next(ctx) {
		var doc mongoEventDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		var ev hub.EnrichedEvent
		if err := json.Unmarshal(doc.Payload, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, cursor.Err()
}

func (s *MongoStore) SaveSnapshot(ctx context.Context, runID string, snapshot *types.SessionState) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	_, err = s.snapshots.ReplaceOne(ctx,
		bson.M{"_id": runID},
		mongoSnapshotDoc{RunID: runID, Payload: payload},
		options.Replace().SetUpsert(true),
	)
	return err
}

func (s *MongoStore) LoadSnapshot(ctx context.Context, runID string) (*types.SessionState, error) {
	var doc mongoSnapshotDoc
	err := s.snapshots.FindOne(ctx, bson.M{"_id": runID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state types.SessionState
	if err := json.Unmarshal(doc.Payload, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *MongoStore) DeleteSnapshot(ctx context.Context, runID string) error {
	_, err := s.snapshots.DeleteOne(ctx, bson.M{"_id": runID})
	return err
}

var _ RunStore = (*MongoStore)(nil)
