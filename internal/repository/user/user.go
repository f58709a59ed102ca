package user

import (
	"context"
	"errors"
	"time"

	"secure_chat/internal/model"
	"secure_chat/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	UserRepo struct {
		collection *mongo.Collection
	}

	userDoc struct {
		ID                  primitive.ObjectID `bson:"_id,omitempty"`
		Username            string             `bson:"username"`
		Salt                string             `bson:"salt"`
		AuthKeyHash         string             `bson:"authKeyHash"`
		PublicKey           string             `bson:"publicKey"`
		EncryptedPrivateKey string             `bson:"encryptedPrivateKey"`
		IV                  string             `bson:"iv"`
		Notifications       []notificationDoc  `bson:"notifications"`
		CreatedAt           time.Time          `bson:"createdAt"`
	}

	notificationDoc struct {
		ID        primitive.ObjectID `bson:"_id"`
		Content   string             `bson:"content"`
		Type      string             `bson:"type"`
		CreatedAt time.Time          `bson:"createdAt"`
	}
)

func NewUserRepo(db *mongo.Database) *UserRepo {
	return &UserRepo{
		collection: db.Collection("users"),
	}
}

func (r *UserRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *UserRepo) GetByName(ctx context.Context, name string) (*model.User, error) {
	filter := bson.M{
		"username": name,
	}
	return r.findOne(ctx, filter)
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

func (r *UserRepo) findOne(ctx context.Context, filter bson.M) (*model.User, error) {
	var doc userDoc
	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return doc.toModel(), nil
}

func (r *UserRepo) ListByIDs(ctx context.Context, ids []string) (map[string]*model.User, error) {
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			oids = append(oids, oid)
		}
	}
	out := make(map[string]*model.User, len(oids))
	if len(oids) == 0 {
		return out, nil
	}

	opts := options.Find().SetProjection(bson.M{"notifications": 0})
	cur, err := r.collection.Find(ctx, bson.M{"_id": bson.M{"$in": oids}}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc userDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		u := doc.toModel()
		out[u.ID] = u
	}
	return out, cur.Err()
}

func (r *UserRepo) Create(ctx context.Context, user *model.User) (string, error) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	doc := userDoc{
		Username:            user.Username,
		Salt:                user.Salt,
		AuthKeyHash:         user.AuthKeyHash,
		PublicKey:           user.PublicKey,
		EncryptedPrivateKey: user.WrappedPrivateKey,
		IV:                  user.WrapIV,
		Notifications:       []notificationDoc{},
		CreatedAt:           user.CreatedAt,
	}

	res, err := r.collection.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return "", repository.ErrDuplicate
	}
	if err != nil {
		return "", err
	}

	id := res.InsertedID.(primitive.ObjectID).Hex()
	user.ID = id
	return id, nil
}

// Add appends to the user's embedded notification list.
func (r *UserRepo) Add(ctx context.Context, userID string, n *model.Notification) error {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return errors.New("invalid user id")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	doc := notificationDoc{
		ID:        primitive.NewObjectID(),
		Content:   n.Content,
		Type:      n.Type,
		CreatedAt: n.CreatedAt,
	}

	_, err = r.collection.UpdateByID(ctx, oid, bson.M{"$push": bson.M{"notifications": doc}})
	if err != nil {
		return err
	}
	n.ID = doc.ID.Hex()
	return nil
}

func (r *UserRepo) List(ctx context.Context, userID string) ([]*model.Notification, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return []*model.Notification{}, nil
	}

	var doc userDoc
	opts := options.FindOne().SetProjection(bson.M{"notifications": 1})
	err = r.collection.FindOne(ctx, bson.M{"_id": oid}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return []*model.Notification{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]*model.Notification, 0, len(doc.Notifications))
	for i := len(doc.Notifications) - 1; i >= 0; i-- {
		n := doc.Notifications[i]
		out = append(out, &model.Notification{
			ID:        n.ID.Hex(),
			Content:   n.Content,
			Type:      n.Type,
			CreatedAt: n.CreatedAt,
		})
	}
	return out, nil
}

func (r *UserRepo) Delete(ctx context.Context, userID, notifID string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return false, nil
	}
	nid, err := primitive.ObjectIDFromHex(notifID)
	if err != nil {
		return false, nil
	}

	res, err := r.collection.UpdateByID(ctx, oid, bson.M{"$pull": bson.M{"notifications": bson.M{"_id": nid}}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

func (d *userDoc) toModel() *model.User {
	return &model.User{
		ID:                d.ID.Hex(),
		Username:          d.Username,
		Salt:              d.Salt,
		AuthKeyHash:       d.AuthKeyHash,
		PublicKey:         d.PublicKey,
		WrappedPrivateKey: d.EncryptedPrivateKey,
		WrapIV:            d.IV,
		CreatedAt:         d.CreatedAt,
	}
}
