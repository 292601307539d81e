package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sakif/threadline/internal/apperror"
	"github.com/sakif/threadline/internal/model"
	"github.com/sakif/threadline/internal/repository"
)

var _ repository.PostRepository = (*PostStore)(nil)

// PostStore serves repository.PostRepository from the posts collection.
type PostStore struct {
	db *DB
}

func (s *PostStore) Create(ctx context.Context, post *model.Post) error {
	now := time.Now().UTC()
	post.ID = xid.New().String()
	post.CreatedAt = now
	post.UpdatedAt = now
	post.Normalize()

	if _, err := s.db.posts.InsertOne(ctx, post); err != nil {
		return fmt.Errorf("mongo: inserting post: %w", err)
	}
	return nil
}

func (s *PostStore) GetByID(ctx context.Context, id string) (*model.Post, error) {
	var p model.Post
	if err := s.db.posts.FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		if isNoDocuments(err) {
			return nil, apperror.NotFound("Post", id)
		}
		return nil, fmt.Errorf("mongo: finding post %s: %w", id, err)
	}
	p.Normalize()
	return &p, nil
}

func (s *PostStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.posts.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongo: deleting post %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return apperror.NotFound("Post", id)
	}
	return nil
}

// ToggleLike first tries a $pull that only matches when the user is in likes.
// If nothing matched, it tries an $addToSet that only matches when the user
// is absent. Each step is a single atomic document update; if both match
// nothing the post is gone.
func (s *PostStore) ToggleLike(ctx context.Context, postID, userID string) (bool, error) {
	now := time.Now().UTC()

	res, err := s.db.posts.UpdateOne(ctx,
		bson.M{"_id": postID, "likes": userID},
		bson.M{"$pull": bson.M{"likes": userID}, "$set": bson.M{"updatedAt": now}},
	)
	if err != nil {
		return false, fmt.Errorf("mongo: unliking post %s: %w", postID, err)
	}
	if res.ModifiedCount == 1 {
		return false, nil
	}

	res, err = s.db.posts.UpdateOne(ctx,
		bson.M{"_id": postID, "likes": bson.M{"$ne": userID}},
		bson.M{"$addToSet": bson.M{"likes": userID}, "$set": bson.M{"updatedAt": now}},
	)
	if err != nil {
		return false, fmt.Errorf("mongo: liking post %s: %w", postID, err)
	}
	if res.MatchedCount == 0 {
		// Either the post is gone or a concurrent request liked it for the
		// same user between the two updates; in the latter case it is liked.
		n, err := s.db.posts.CountDocuments(ctx, bson.M{"_id": postID})
		if err != nil {
			return false, fmt.Errorf("mongo: checking post %s: %w", postID, err)
		}
		if n == 0 {
			return false, apperror.NotFound("Post", postID)
		}
	}
	return true, nil
}

func (s *PostStore) AppendReply(ctx context.Context, postID string, reply model.Reply) error {
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.posts.UpdateOne(ctx,
		bson.M{"_id": postID},
		bson.M{"$push": bson.M{"replies": reply}, "$set": bson.M{"updatedAt": reply.CreatedAt}},
	)
	if err != nil {
		return fmt.Errorf("mongo: appending reply to %s: %w", postID, err)
	}
	if res.MatchedCount == 0 {
		return apperror.NotFound("Post", postID)
	}
	return nil
}

// ListByAuthors sorts on createdAt then _id, both descending; xids sort by
// creation time, so _id is a stable tiebreaker.
func (s *PostStore) ListByAuthors(ctx context.Context, authorIDs []string, opts repository.ListOptions) ([]model.Post, error) {
	posts := []model.Post{}
	if len(authorIDs) == 0 {
		return posts, nil
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.posts.Find(ctx, bson.M{"postedBy": bson.M{"$in": authorIDs}}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo: listing posts: %w", err)
	}
	defer cursor.Close(ctx)

	if err := cursor.All(ctx, &posts); err != nil {
		return nil, fmt.Errorf("mongo: decoding posts: %w", err)
	}
	for i := range posts {
		posts[i].Normalize()
	}
	return posts, nil
}
