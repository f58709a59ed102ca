package message

import (
	"context"
	"time"

	"secure_chat/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	MessageRepo struct {
		collection *mongo.Collection
	}

	messageDoc struct {
		ID               primitive.ObjectID `bson:"_id,omitempty"`
		Sender           string             `bson:"sender"`
		Recipient        string             `bson:"recipient"`
		EncryptedContent string             `bson:"encryptedContent"`
		IV               string             `bson:"iv"`
		Timestamp        time.Time          `bson:"timestamp"`
	}
)

func NewMessageRepo(db *mongo.Database) *MessageRepo {
	return &MessageRepo{
		collection: db.Collection("messages"),
	}
}

func (r *MessageRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "sender", Value: 1},
			{Key: "recipient", Value: 1},
			{Key: "timestamp", Value: -1},
		},
	})
	return err
}

func (r *MessageRepo) Create(ctx context.Context, m *model.Message) (string, error) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	doc := messageDoc{
		Sender:           m.Sender,
		Recipient:        m.Recipient,
		EncryptedContent: m.EncryptedContent,
		IV:               m.IV,
		Timestamp:        m.Timestamp,
	}

	res, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		return "", err
	}

	id := res.InsertedID.(primitive.ObjectID).Hex()
	m.ID = id
	return id, nil
}

func (r *MessageRepo) Between(ctx context.Context, a, b string, limit int) ([]*model.Message, error) {
	filter := bson.M{
		"$or": bson.A{
			bson.M{"sender": a, "recipient": b},
			bson.M{"sender": b, "recipient": a},
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	// newest-first from the query, ascending for the caller
	out := make([]*model.Message, len(docs))
	for i := range docs {
		d := docs[i]
		out[len(docs)-1-i] = &model.Message{
			ID:               d.ID.Hex(),
			Sender:           d.Sender,
			Recipient:        d.Recipient,
			EncryptedContent: d.EncryptedContent,
			IV:               d.IV,
			Timestamp:        d.Timestamp,
		}
	}
	return out, nil
}
