package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/threadline/internal/apperror"
	"github.com/sakif/threadline/internal/model"
	"github.com/sakif/threadline/internal/repository"
)

// These tests need a real server. Point MONGO_TEST_URI at one, e.g.
//
//	MONGO_TEST_URI=mongodb://localhost:27017 go test ./internal/repository/mongo/
//
// Each test gets its own throwaway database, dropped on cleanup.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	name := "threadline_test_" + xid.New().String()
	db, err := New(ctx, uri, name)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.client.Database(name).Drop(context.Background())
		db.Close()
	})
	return db
}

func createUser(t *testing.T, s *UserStore, username string) *model.User {
	t.Helper()
	u := &model.User{Name: username, Email: username + "@example.com", Username: username, PasswordHash: "h"}
	require.NoError(t, s.Create(context.Background(), u))
	return u
}

func TestUserStore_CreateConflict(t *testing.T) {
	s := newTestDB(t).Users()
	createUser(t, s, "dup")

	err := s.Create(context.Background(), &model.User{Name: "x", Email: "other@example.com", Username: "dup"})
	assert.ErrorIs(t, err, apperror.ErrConflict)
}

func TestUserStore_FollowUnfollow(t *testing.T) {
	s := newTestDB(t).Users()
	ctx := context.Background()
	a := createUser(t, s, "alice")
	b := createUser(t, s, "bob")

	require.NoError(t, s.Follow(ctx, a.ID, b.ID))
	a, _ = s.GetByID(ctx, a.ID)
	b, _ = s.GetByID(ctx, b.ID)
	assert.Equal(t, []string{b.ID}, a.Following)
	assert.Equal(t, []string{a.ID}, b.Followers)

	require.NoError(t, s.Unfollow(ctx, a.ID, b.ID))
	a, _ = s.GetByID(ctx, a.ID)
	b, _ = s.GetByID(ctx, b.ID)
	assert.Empty(t, a.Following)
	assert.Empty(t, b.Followers)
}

func TestUserStore_FollowMissingUser(t *testing.T) {
	s := newTestDB(t).Users()
	ctx := context.Background()
	a := createUser(t, s, "alice")

	assert.ErrorIs(t, s.Follow(ctx, a.ID, "ghost"), apperror.ErrNotFound)
	a, _ = s.GetByID(ctx, a.ID)
	assert.Empty(t, a.Following)
}

func TestPostStore_ToggleLikeAndList(t *testing.T) {
	db := newTestDB(t)
	users, posts := db.Users(), db.Posts()
	ctx := context.Background()
	a := createUser(t, users, "alice")

	first := &model.Post{PostedBy: a.ID, Text: "first"}
	require.NoError(t, posts.Create(ctx, first))
	second := &model.Post{PostedBy: a.ID, Text: "second"}
	require.NoError(t, posts.Create(ctx, second))

	liked, err := posts.ToggleLike(ctx, first.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, liked)
	liked, err = posts.ToggleLike(ctx, first.ID, a.ID)
	require.NoError(t, err)
	assert.False(t, liked)

	_, err = posts.ToggleLike(ctx, "missing", a.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	list, err := posts.ListByAuthors(ctx, []string{a.ID}, repository.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Text)
	assert.Equal(t, "first", list[1].Text)
}

func TestPostStore_AppendReplyAndDelete(t *testing.T) {
	db := newTestDB(t)
	users, posts := db.Users(), db.Posts()
	ctx := context.Background()
	a := createUser(t, users, "alice")

	p := &model.Post{PostedBy: a.ID, Text: "hello"}
	require.NoError(t, posts.Create(ctx, p))
	require.NoError(t, posts.AppendReply(ctx, p.ID, model.Reply{UserID: a.ID, Text: "r1", Username: "alice"}))
	require.NoError(t, posts.AppendReply(ctx, p.ID, model.Reply{UserID: a.ID, Text: "r2", Username: "alice"}))

	got, err := posts.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Replies, 2)
	assert.Equal(t, "r1", got.Replies[0].Text)

	require.NoError(t, posts.Delete(ctx, p.ID))
	_, err = posts.GetByID(ctx, p.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}
