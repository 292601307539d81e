package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/sakif/threadline/internal/apperror"
	"github.com/sakif/threadline/internal/imagestore"
	"github.com/sakif/threadline/internal/model"
	"github.com/sakif/threadline/internal/repository"
)

// PostService handles posts, likes, replies and the two list views.
type PostService struct {
	posts  repository.PostRepository
	users  repository.UserRepository
	images imagestore.Store
	logger *slog.Logger
}

func NewPostService(
	posts repository.PostRepository,
	users repository.UserRepository,
	images imagestore.Store,
	logger *slog.Logger,
) *PostService {
	return &PostService{
		posts:  posts,
		users:  users,
		images: images,
		logger: logger,
	}
}

// CreatePostInput is the client's post body. Img is an optional data URL.
type CreatePostInput struct {
	PostedBy string
	Text     string
	Img      string
}

// CreatePost checks ownership and length, hosts the image if there is one,
// then stores the post.
//
// Checks run in this order and the first failure decides the response:
// missing fields (400), unknown author (404), author is not the caller
// (401), text too long (400).
func (s *PostService) CreatePost(ctx context.Context, callerID string, in CreatePostInput) (*model.Post, error) {
	if in.PostedBy == "" || in.Text == "" {
		return nil, apperror.ValidationFailed("", "Postedby and text fields are required")
	}

	author, err := s.users.GetByID(ctx, in.PostedBy)
	if err != nil {
		return nil, err
	}
	if author.ID != callerID {
		return nil, apperror.Unauthorized("Unauthorized to create post")
	}

	if utf8.RuneCountInString(in.Text) > model.MaxPostTextLength {
		return nil, apperror.ValidationFailed("text",
			fmt.Sprintf("Text must be less than %d characters", model.MaxPostTextLength))
	}

	post := &model.Post{PostedBy: author.ID, Text: in.Text}

	if in.Img != "" {
		url, err := s.uploadImage(ctx, in.Img)
		if err != nil {
			return nil, err
		}
		post.Img = url
	}

	if err := s.posts.Create(ctx, post); err != nil {
		if post.Img != "" {
			s.deleteImage(ctx, post.Img)
		}
		return nil, fmt.Errorf("service/post: creating post: %w", err)
	}

	s.logger.Info("post created",
		slog.String("postID", post.ID),
		slog.String("postedBy", post.PostedBy),
		slog.Bool("hasImage", post.Img != ""),
	)
	return post, nil
}

func (s *PostService) uploadImage(ctx context.Context, dataURL string) (string, error) {
	jpeg, err := imagestore.Normalize(dataURL)
	if err != nil {
		if errors.Is(err, imagestore.ErrInvalidImage) {
			return "", apperror.ValidationFailed("img", "Invalid image")
		}
		return "", fmt.Errorf("service/post: %w", err)
	}

	url, err := s.images.Upload(ctx, imagestore.NewKey(), jpeg)
	if err != nil {
		return "", fmt.Errorf("service/post: %w", err)
	}
	return url, nil
}

// deleteImage never fails the caller; errors are logged at warn level.
func (s *PostService) deleteImage(ctx context.Context, url string) {
	key := imagestore.KeyFromURL(url)
	if key == "" {
		return
	}
	if err := s.images.Delete(ctx, key); err != nil {
		s.logger.Warn("image cleanup failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PostService) GetPost(ctx context.Context, id string) (*model.Post, error) {
	return s.posts.GetByID(ctx, id)
}

// DeletePost removes the caller's own post and, best effort, its image.
func (s *PostService) DeletePost(ctx context.Context, callerID, id string) error {
	post, err := s.posts.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if post.PostedBy != callerID {
		return apperror.Unauthorized("Unauthorized to delete post")
	}

	if post.Img != "" {
		s.deleteImage(ctx, post.Img)
	}

	if err := s.posts.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("post deleted", slog.String("postID", id), slog.String("userID", callerID))
	return nil
}

// LikeUnlike toggles userID in the post's likes and reports the new state.
func (s *PostService) LikeUnlike(ctx context.Context, postID, userID string) (liked bool, err error) {
	return s.posts.ToggleLike(ctx, postID, userID)
}

// Reply appends a reply carrying a snapshot of the replier's username and
// picture as they are right now.
func (s *PostService) Reply(ctx context.Context, postID, userID, text string) (*model.Reply, error) {
	if text == "" {
		return nil, apperror.ValidationFailed("text", "Text field is required")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	reply := model.Reply{
		UserID:         user.ID,
		Text:           text,
		UserProfilePic: user.ProfilePic,
		Username:       user.Username,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.posts.AppendReply(ctx, postID, reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// GetUserPosts lists a user's posts, newest first.
func (s *PostService) GetUserPosts(ctx context.Context, username string, opts repository.ListOptions) ([]model.Post, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.posts.ListByAuthors(ctx, []string{user.ID}, opts)
}

// GetFeedPosts lists posts by everyone userID follows, newest first.
func (s *PostService) GetFeedPosts(ctx context.Context, userID string, opts repository.ListOptions) ([]model.Post, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(user.Following) == 0 {
		return []model.Post{}, nil
	}
	return s.posts.ListByAuthors(ctx, user.Following, opts)
}
