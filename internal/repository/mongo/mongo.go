// Package mongo implements the repository interfaces on MongoDB.
//
// Users and posts are stored as whole documents (model.User / model.Post
// with their bson tags), which is the shape the domain was designed around:
// follow sets live on the user document, likes and replies on the post.
//
// Membership changes never read-modify-write a document. They use
// $addToSet / $pull guarded by a filter on the current membership, so two
// concurrent requests cannot overwrite each other's change.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection = "users"
	postsCollection = "posts"
)

// DB owns the client and the two collections.
type DB struct {
	client *mongo.Client
	users  *mongo.Collection
	posts  *mongo.Collection
}

// New connects to uri, verifies the connection and makes sure the indexes
// the stores rely on exist.
func New(ctx context.Context, uri, database string) (*DB, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo: connecting: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: pinging: %w", err)
	}

	db := &DB{
		client: client,
		users:  client.Database(database).Collection(usersCollection),
		posts:  client.Database(database).Collection(postsCollection),
	}

	if err := db.ensureIndexes(connectCtx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return db, nil
}

// Close disconnects the client.
func (db *DB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return db.client.Disconnect(ctx)
}

// Users returns the UserRepository view of the database.
func (db *DB) Users() *UserStore {
	return &UserStore{db: db}
}

// Posts returns the PostRepository view of the database.
func (db *DB) Posts() *PostStore {
	return &PostStore{db: db}
}

// ensureIndexes creates the unique indexes on email, username and githubId,
// and the (postedBy, createdAt) index the post listings sort on.
// CreateMany is a no-op for indexes that already exist.
func (db *DB) ensureIndexes(ctx context.Context) error {
	_, err := db.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{
			Keys: bson.D{{Key: "githubId", Value: 1}},
			// githubId is omitted for password accounts; a partial index keeps
			// those documents out of the uniqueness check.
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"githubId": bson.M{"$exists": true}}),
		},
	})
	if err != nil {
		return fmt.Errorf("mongo: creating user indexes: %w", err)
	}

	_, err = db.posts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "postedBy", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("mongo: creating post indexes: %w", err)
	}
	return nil
}

// supportsTransactions reports whether the deployment is a replica set or a
// sharded cluster. Standalone servers reject multi-document transactions.
func (db *DB) supportsTransactions(ctx context.Context) bool {
	var hello bson.M
	err := db.client.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello)
	if err != nil {
		return false
	}
	if _, ok := hello["setName"]; ok {
		return true
	}
	return hello["msg"] == "isdbgrid"
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
