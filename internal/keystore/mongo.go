package keystore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gdg-garage/number-info-api/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoRepository stores keys as documents in a single collection.
type MongoRepository struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// ConnectMongo dials uri, verifies the connection and returns a repository for
// database/collection.
func ConnectMongo(ctx context.Context, uri, database, collection string) (*MongoRepository, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping: %w", err)
	}
	return NewMongoRepository(client, client.Database(database).Collection(collection)), nil
}

func NewMongoRepository(client *mongo.Client, coll *mongo.Collection) *MongoRepository {
	return &MongoRepository{client: client, coll: coll}
}

// EnsureIndexes creates the unique index on key and the lookup index on name.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "name", Value: 1}},
		},
	})
	return err
}

func (r *MongoRepository) Insert(ctx context.Context, key *models.AccessKey) error {
	_, err := r.coll.InsertOne(ctx, key)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateKey
	}
	return err
}

func (r *MongoRepository) FindByKey(ctx context.Context, key string) (*models.AccessKey, error) {
	var k models.AccessKey
	err := r.coll.FindOne(ctx, bson.M{"key": key}).Decode(&k)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (r *MongoRepository) ExpireIfActive(ctx context.Context, key string, now time.Time) (bool, error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"key": key, "active": true, "expires_at": bson.M{"$lte": now}},
		bson.M{"$set": bson.M{"active": false}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

func (r *MongoRepository) DeactivateByName(ctx context.Context, name string) (int64, error) {
	res, err := r.coll.UpdateMany(ctx,
		bson.M{"name": name, "active": true},
		bson.M{"$set": bson.M{"active": false}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MongoRepository) DeleteByKey(ctx context.Context, key string) (int64, error) {
	res, err := r.coll.DeleteOne(ctx, bson.M{"key": key})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (r *MongoRepository) DeleteByName(ctx context.Context, name string) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"name": name})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (r *MongoRepository) List(ctx context.Context) ([]models.AccessKey, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "key", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var keys []models.AccessKey
	if err := cur.All(ctx, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, readpref.Primary())
}

func (r *MongoRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
