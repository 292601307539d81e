package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/sakif/threadline/internal/apperror"
	"github.com/sakif/threadline/internal/model"
	"github.com/sakif/threadline/internal/repository"
)

var _ repository.UserRepository = (*UserStore)(nil)

// UserStore serves repository.UserRepository from the users collection.
type UserStore struct {
	db *DB
}

// Create inserts the user document. A duplicate key error from the unique
// indexes becomes apperror.Conflict.
func (s *UserStore) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.Followers = []string{}
	user.Following = []string{}

	if _, err := s.db.users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.Conflict("username", "User already exists")
		}
		return fmt.Errorf("mongo: inserting user %q: %w", user.Username, err)
	}
	return nil
}

func (s *UserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	return s.findOne(ctx, bson.M{"_id": id}, id)
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.findOne(ctx, bson.M{"username": username}, username)
}

func (s *UserStore) GetByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	return s.findOne(ctx, bson.M{"githubId": githubID}, fmt.Sprint(githubID))
}

func (s *UserStore) ExistsByEmailOrUsername(ctx context.Context, email, username string) (bool, error) {
	n, err := s.db.users.CountDocuments(ctx, bson.M{"$or": bson.A{
		bson.M{"email": email},
		bson.M{"username": username},
	}})
	if err != nil {
		return false, fmt.Errorf("mongo: checking for existing user: %w", err)
	}
	return n > 0, nil
}

// Follow adds the relationship on both documents.
func (s *UserStore) Follow(ctx context.Context, followerID, followeeID string) error {
	return s.applyFollow(ctx, followerID, followeeID, "$addToSet")
}

// Unfollow removes the relationship from both documents.
func (s *UserStore) Unfollow(ctx context.Context, followerID, followeeID string) error {
	return s.applyFollow(ctx, followerID, followeeID, "$pull")
}

// applyFollow writes both sides of a follow change.
//
// On a replica set the two updates run in one transaction. A standalone
// server has no transactions, so the follower side is written first and, if
// the followee side fails, the follower side is reverted with the opposite
// operator.
func (s *UserStore) applyFollow(ctx context.Context, followerID, followeeID, op string) error {
	if s.db.supportsTransactions(ctx) {
		session, err := s.db.client.StartSession()
		if err != nil {
			return fmt.Errorf("mongo: starting session: %w", err)
		}
		defer session.EndSession(ctx)

		_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
			return nil, s.writeFollowSides(sc, followerID, followeeID, op)
		})
		return err
	}

	// Check the followee up front so the common not-found case never needs
	// compensating.
	n, err := s.db.users.CountDocuments(ctx, bson.M{"_id": followeeID})
	if err != nil {
		return fmt.Errorf("mongo: checking user %s: %w", followeeID, err)
	}
	if n == 0 {
		return apperror.NotFound("User", followeeID)
	}

	if err := s.updateSet(ctx, followerID, "following", followeeID, op); err != nil {
		return err
	}
	if err := s.updateSet(ctx, followeeID, "followers", followerID, op); err != nil {
		if undoErr := s.updateSet(ctx, followerID, "following", followeeID, inverse(op)); undoErr != nil {
			return fmt.Errorf("mongo: %v (compensation failed: %v)", err, undoErr)
		}
		return err
	}
	return nil
}

func (s *UserStore) writeFollowSides(ctx context.Context, followerID, followeeID, op string) error {
	if err := s.updateSet(ctx, followerID, "following", followeeID, op); err != nil {
		return err
	}
	return s.updateSet(ctx, followeeID, "followers", followerID, op)
}

// updateSet applies op ($addToSet or $pull) for value on the user's field.
// A missing user document is reported as NotFound.
func (s *UserStore) updateSet(ctx context.Context, userID, field, value, op string) error {
	res, err := s.db.users.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{
			op:     bson.M{field: value},
			"$set": bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("mongo: updating %s of %s: %w", field, userID, err)
	}
	if res.MatchedCount == 0 {
		return apperror.NotFound("User", userID)
	}
	return nil
}

func inverse(op string) string {
	if op == "$addToSet" {
		return "$pull"
	}
	return "$addToSet"
}

func (s *UserStore) findOne(ctx context.Context, filter bson.M, key string) (*model.User, error) {
	var u model.User
	if err := s.db.users.FindOne(ctx, filter).Decode(&u); err != nil {
		if isNoDocuments(err) {
			return nil, apperror.NotFound("User", key)
		}
		return nil, fmt.Errorf("mongo: finding user %s: %w", key, err)
	}
	if u.Followers == nil {
		u.Followers = []string{}
	}
	if u.Following == nil {
		u.Following = []string{}
	}
	return &u, nil
}
