// Package repository declares the storage contracts the service layer depends on.
//
// Two implementations live in sub-packages: mongo (the document store used in
// production) and sqlite (embedded, for single-binary deployments and tests).
// Services only ever see these interfaces.
//
// Every implementation returns apperror.NotFound for missing entities and
// apperror.Conflict for uniqueness violations, so the service layer can
// classify errors without knowing which store it talks to.
package repository

import (
	"context"

	"github.com/sakif/threadline/internal/model"
)

// ListOptions bounds a list query. Zero Limit means "no limit".
type ListOptions struct {
	Limit  int
	Offset int
}

type UserRepository interface {
	// Create assigns ID and timestamps and inserts the user.
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByGitHubID(ctx context.Context, githubID int64) (*model.User, error)
	// ExistsByEmailOrUsername reports whether any user already holds the email
	// or the username.
	ExistsByEmailOrUsername(ctx context.Context, email, username string) (bool, error)

	// Follow adds followeeID to follower's Following and followerID to the
	// followee's Followers. Unfollow removes both. Either both sides change
	// or neither does.
	Follow(ctx context.Context, followerID, followeeID string) error
	Unfollow(ctx context.Context, followerID, followeeID string) error
}

type PostRepository interface {
	// Create assigns ID and timestamps and inserts the post.
	Create(ctx context.Context, post *model.Post) error
	GetByID(ctx context.Context, id string) (*model.Post, error)
	Delete(ctx context.Context, id string) error

	// ToggleLike removes userID from the post's likes if present, otherwise
	// adds it. It reports whether the user likes the post afterwards.
	ToggleLike(ctx context.Context, postID, userID string) (liked bool, err error)
	AppendReply(ctx context.Context, postID string, reply model.Reply) error

	// ListByAuthors returns posts written by any of the given users, newest
	// first. An empty authorIDs slice yields an empty result.
	ListByAuthors(ctx context.Context, authorIDs []string, opts ListOptions) ([]model.Post, error)
}
