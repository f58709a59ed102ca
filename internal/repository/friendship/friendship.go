package friendship

import (
	"context"
	"time"

	"secure_chat/internal/model"
	"secure_chat/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	FriendshipRepo struct {
		collection *mongo.Collection
	}

	friendshipDoc struct {
		ID        primitive.ObjectID     `bson:"_id,omitempty"`
		Pair      string                 `bson:"pair"`
		Requester string                 `bson:"requester"`
		Recipient string                 `bson:"recipient"`
		Status    model.FriendshipStatus `bson:"status"`
		CreatedAt time.Time              `bson:"createdAt"`
	}
)

func NewFriendshipRepo(db *mongo.Database) *FriendshipRepo {
	return &FriendshipRepo{
		collection: db.Collection("friendships"),
	}
}

// EnsureIndexes installs the unique pair key that backs the one-record-per-pair rule.
func (r *FriendshipRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "pair", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "recipient", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "requester", Value: 1}, {Key: "status", Value: 1}}},
	})
	return err
}

func (r *FriendshipRepo) Create(ctx context.Context, f *model.Friendship) (string, error) {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	doc := friendshipDoc{
		Pair:      model.PairKey(f.RequesterID, f.RecipientID),
		Requester: f.RequesterID,
		Recipient: f.RecipientID,
		Status:    f.Status,
		CreatedAt: f.CreatedAt,
	}

	res, err := r.collection.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return "", repository.ErrDuplicate
	}
	if err != nil {
		return "", err
	}

	id := res.InsertedID.(primitive.ObjectID).Hex()
	f.ID = id
	return id, nil
}

func (r *FriendshipRepo) FindBetween(ctx context.Context, a, b string) (*model.Friendship, error) {
	var doc friendshipDoc
	err := r.collection.FindOne(ctx, bson.M{"pair": model.PairKey(a, b)}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.toModel(), nil
}

func (r *FriendshipRepo) Transition(ctx context.Context, requesterID, recipientID string, from, to model.FriendshipStatus) (*model.Friendship, error) {
	filter := bson.M{
		"requester": requesterID,
		"recipient": recipientID,
		"status":    from,
	}
	update := bson.M{"$set": bson.M{"status": to}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc friendshipDoc
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.toModel(), nil
}

func (r *FriendshipRepo) ListAccepted(ctx context.Context, userID string) ([]*model.Friendship, error) {
	return r.find(ctx, bson.M{
		"status": model.FriendshipAccepted,
		"$or": bson.A{
			bson.M{"requester": userID},
			bson.M{"recipient": userID},
		},
	})
}

func (r *FriendshipRepo) ListPendingFor(ctx context.Context, recipientID string) ([]*model.Friendship, error) {
	return r.find(ctx, bson.M{
		"status":    model.FriendshipPending,
		"recipient": recipientID,
	})
}

func (r *FriendshipRepo) find(ctx context.Context, filter bson.M) ([]*model.Friendship, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cur, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []friendshipDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*model.Friendship, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].toModel())
	}
	return out, nil
}

func (d *friendshipDoc) toModel() *model.Friendship {
	return &model.Friendship{
		ID:          d.ID.Hex(),
		RequesterID: d.Requester,
		RecipientID: d.Recipient,
		Status:      d.Status,
		CreatedAt:   d.CreatedAt,
	}
}
