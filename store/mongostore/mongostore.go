// Package mongostore is a MongoDB-backed implementation of
// store/contract.ConversationStore, for durability across restarts in
// production deployments.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/fleetserve/servingplane/store/contract"
)

// Store persists sessions and messages to MongoDB.
type Store struct {
	sessions *mongo.Collection
	messages *mongo.Collection
}

var _ contract.ConversationStore = (*Store)(nil)

// sessionDocument is the MongoDB document representation of a session.
type sessionDocument struct {
	ID            string  `bson:"_id"`
	UserID        *string `bson:"user_id,omitempty"`
	Title         string  `bson:"title"`
	AnonSessionID string  `bson:"anon_session_id,omitempty"`
	CreatedAt     int64   `bson:"created_at"`
}

// messageDocument is the MongoDB document representation of one turn.
type messageDocument struct {
	SessionID string         `bson:"session_id"`
	Role      string         `bson:"role"`
	Content   string         `bson:"content"`
	Meta      map[string]any `bson:"meta,omitempty"`
	CreatedAt int64          `bson:"created_at"`
}

// New builds a Store from the sessions and messages collections of a
// connected MongoDB client's database.
func New(db *mongo.Database) *Store {
	return &Store{
		sessions: db.Collection("sessions"),
		messages: db.Collection("messages"),
	}
}

// EnsureIndexes creates the indexes this store relies on. Call once at
// startup; safe to call repeatedly.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("mongostore ensure indexes: %w", err)
	}
	return nil
}

// CreateSession implements contract.ConversationStore.
func (s *Store) CreateSession(ctx context.Context, userID *string, title string, anonSessionID string) (contract.Session, error) {
	id := bson.NewObjectID().Hex()
	doc := sessionDocument{
		ID:            id,
		UserID:        userID,
		Title:         title,
		AnonSessionID: anonSessionID,
		CreatedAt:     time.Now().Unix(),
	}
	if _, err := s.sessions.InsertOne(ctx, doc); err != nil {
		return contract.Session{}, fmt.Errorf("mongostore create session: %w", err)
	}
	return contract.Session{ID: id}, nil
}

// AddMessage implements contract.ConversationStore.
func (s *Store) AddMessage(ctx context.Context, sessionID string, role contract.Role, content string, meta map[string]any) error {
	doc := messageDocument{
		SessionID: sessionID,
		Role:      string(role),
		Content:   content,
		Meta:      meta,
		CreatedAt: time.Now().Unix(),
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("mongostore add message %q: %w", sessionID, err)
	}
	return nil
}

// Messages returns the persisted roles for sessionID in insertion order, for
// diagnostics and tests.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]contract.Role, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.messages.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore list messages %q: %w", sessionID, err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []messageDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongostore decode messages %q: %w", sessionID, err)
	}
	out := make([]contract.Role, len(docs))
	for i, d := range docs {
		out[i] = contract.Role(d.Role)
	}
	return out, nil
}
