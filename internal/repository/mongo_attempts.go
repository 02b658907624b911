package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jhologic12/eshop-mvp/domain"
	"github.com/jhologic12/eshop-mvp/internal/store"
)

// attemptDocument stores the amount as a string; decimal.Decimal has no bson codec.
type attemptDocument struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	Amount    string    `bson:"amount"`
	Success   bool      `bson:"success"`
	Reason    string    `bson:"reason,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
}

// MongoAttemptLog is an AttemptLog backed by a MongoDB collection.
type MongoAttemptLog struct {
	collection *mongo.Collection
}

var _ store.AttemptLog = (*MongoAttemptLog)(nil)

// ConnectMongoAttemptLog connects to uri, checks the server answers and
// prepares the indexes. The returned client must be disconnected by the caller.
func ConnectMongoAttemptLog(ctx context.Context, uri, database string) (*MongoAttemptLog, *mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetAppName("eshop-checkout").
		SetConnectTimeout(10*time.Second).
		SetServerSelectionTimeout(5*time.Second))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	attempts := NewMongoAttemptLog(client.Database(database))
	if err := attempts.CreateIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}
	return attempts, client, nil
}

func NewMongoAttemptLog(db *mongo.Database) *MongoAttemptLog {
	return &MongoAttemptLog{
		collection: db.Collection("payment_attempts"),
	}
}

func (m *MongoAttemptLog) RecordAttempt(ctx context.Context, a domain.PaymentAttempt) error {
	doc := attemptDocument{
		ID:        a.ID,
		UserID:    a.UserID,
		Amount:    a.Amount.String(),
		Success:   a.Success,
		Reason:    a.Reason,
		CreatedAt: a.CreatedAt,
	}
	if _, err := m.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert payment attempt: %w", err)
	}
	return nil
}

func (m *MongoAttemptLog) ListAttempts(ctx context.Context, f domain.AttemptFilter) ([]domain.PaymentAttempt, error) {
	filter := bson.M{}
	if f.UserID != "" {
		filter["user_id"] = f.UserID
	}
	if f.Success != nil {
		filter["success"] = *f.Success
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find payment attempts: %w", err)
	}
	defer cursor.Close(ctx)

	var attempts []domain.PaymentAttempt
	for cursor.Next(ctx) {
		var doc attemptDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode payment attempt: %w", err)
		}
		amount, err := decimal.NewFromString(doc.Amount)
		if err != nil {
			return nil, fmt.Errorf("attempt %s: bad amount %q: %w", doc.ID, doc.Amount, err)
		}
		attempts = append(attempts, domain.PaymentAttempt{
			ID:        doc.ID,
			UserID:    doc.UserID,
			Amount:    amount,
			Success:   doc.Success,
			Reason:    doc.Reason,
			CreatedAt: doc.CreatedAt,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return attempts, nil
}

func (m *MongoAttemptLog) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "success", Value: 1}}},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
