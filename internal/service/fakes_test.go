package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/threadline/internal/apperror"
	"github.com/sakif/threadline/internal/imagestore"
	"github.com/sakif/threadline/internal/model"
	"github.com/sakif/threadline/internal/repository"
)

// =========================================================================
// IN-MEMORY FAKES
// =========================================================================
//
// Hand-written fakes for the repository and image store interfaces. They
// keep copies, never the caller's pointers, so a test cannot mutate stored
// state by accident. User IDs are real xids so profile lookups by id work,
// and creation times strictly increase so ordering assertions are stable.

var (
	_ repository.UserRepository = (*fakeUserRepo)(nil)
	_ repository.PostRepository = (*fakePostRepo)(nil)
	_ imagestore.Store          = (*fakeImageStore)(nil)
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) tick() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now.IsZero() {
		c.now = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeUserRepo struct {
	mu    sync.Mutex
	clock *fakeClock
	users map[string]*model.User
	err   error // returned by every call when set

	existsErr error // returned by ExistsByEmailOrUsername only
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{clock: &fakeClock{}, users: map[string]*model.User{}}
}

func cloneUser(u *model.User) *model.User {
	c := *u
	c.Followers = slices.Clone(u.Followers)
	c.Following = slices.Clone(u.Following)
	if c.Followers == nil {
		c.Followers = []string{}
	}
	if c.Following == nil {
		c.Following = []string{}
	}
	return &c
}

func (m *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, u := range m.users {
		if u.Email == user.Email || u.Username == user.Username || (user.GitHubID != 0 && u.GitHubID == user.GitHubID) {
			return apperror.Conflict("username", "User already exists")
		}
	}
	user.ID = xid.New().String()
	user.CreatedAt = m.clock.tick()
	user.UpdatedAt = user.CreatedAt
	user.Followers = []string{}
	user.Following = []string{}
	m.users[user.ID] = cloneUser(user)
	return nil
}

func (m *fakeUserRepo) find(match func(*model.User) bool, key string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, u := range m.users {
		if match(u) {
			return cloneUser(u), nil
		}
	}
	return nil, apperror.NotFound("User", key)
}

func (m *fakeUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.ID == id }, id)
}

func (m *fakeUserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.Username == username }, username)
}

func (m *fakeUserRepo) GetByGitHubID(_ context.Context, githubID int64) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.GitHubID == githubID }, fmt.Sprint(githubID))
}

func (m *fakeUserRepo) ExistsByEmailOrUsername(_ context.Context, email, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.existsErr != nil {
		return false, m.existsErr
	}
	for _, u := range m.users {
		if u.Email == email || u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (m *fakeUserRepo) Follow(_ context.Context, followerID, followeeID string) error {
	return m.edit(followerID, followeeID, true)
}

func (m *fakeUserRepo) Unfollow(_ context.Context, followerID, followeeID string) error {
	return m.edit(followerID, followeeID, false)
}

func (m *fakeUserRepo) edit(followerID, followeeID string, add bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	follower, ok := m.users[followerID]
	if !ok {
		return apperror.NotFound("User", followerID)
	}
	followee, ok := m.users[followeeID]
	if !ok {
		return apperror.NotFound("User", followeeID)
	}
	if add {
		if !slices.Contains(follower.Following, followeeID) {
			follower.Following = append(follower.Following, followeeID)
		}
		if !slices.Contains(followee.Followers, followerID) {
			followee.Followers = append(followee.Followers, followerID)
		}
		return nil
	}
	follower.Following = slices.DeleteFunc(follower.Following, func(id string) bool { return id == followeeID })
	followee.Followers = slices.DeleteFunc(followee.Followers, func(id string) bool { return id == followerID })
	return nil
}

type fakePostRepo struct {
	mu     sync.Mutex
	clock  *fakeClock
	posts  map[string]*model.Post
	nextID int
	err    error
}

func newFakePostRepo() *fakePostRepo {
	return &fakePostRepo{clock: &fakeClock{}, posts: map[string]*model.Post{}}
}

func clonePost(p *model.Post) model.Post {
	c := *p
	c.Likes = slices.Clone(p.Likes)
	c.Replies = slices.Clone(p.Replies)
	c.Normalize()
	return c
}

func (m *fakePostRepo) Create(_ context.Context, post *model.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.nextID++
	post.ID = fmt.Sprintf("post-%d", m.nextID)
	post.CreatedAt = m.clock.tick()
	post.UpdatedAt = post.CreatedAt
	post.Normalize()
	c := clonePost(post)
	m.posts[post.ID] = &c
	return nil
}

func (m *fakePostRepo) GetByID(_ context.Context, id string) (*model.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.posts[id]
	if !ok {
		return nil, apperror.NotFound("Post", id)
	}
	c := clonePost(p)
	return &c, nil
}

func (m *fakePostRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.posts[id]; !ok {
		return apperror.NotFound("Post", id)
	}
	delete(m.posts, id)
	return nil
}

func (m *fakePostRepo) ToggleLike(_ context.Context, postID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	p, ok := m.posts[postID]
	if !ok {
		return false, apperror.NotFound("Post", postID)
	}
	if slices.Contains(p.Likes, userID) {
		p.Likes = slices.DeleteFunc(p.Likes, func(id string) bool { return id == userID })
		return false, nil
	}
	p.Likes = append(p.Likes, userID)
	return true, nil
}

func (m *fakePostRepo) AppendReply(_ context.Context, postID string, reply model.Reply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	p, ok := m.posts[postID]
	if !ok {
		return apperror.NotFound("Post", postID)
	}
	p.Replies = append(p.Replies, reply)
	return nil
}

func (m *fakePostRepo) ListByAuthors(_ context.Context, authorIDs []string, opts repository.ListOptions) ([]model.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := []model.Post{}
	for _, p := range m.posts {
		if slices.Contains(authorIDs, p.PostedBy) {
			out = append(out, clonePost(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if opts.Offset >= len(out) {
		return []model.Post{}, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

type fakeImageStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleted   []string
	uploadErr error
	deleteErr error
}

func newFakeImageStore() *fakeImageStore {
	return &fakeImageStore{objects: map[string][]byte{}}
}

func (f *fakeImageStore) Upload(_ context.Context, key string, jpeg []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.objects[key] = jpeg
	return "https://images.example.com/posts/" + key + ".jpg", nil
}

func (f *fakeImageStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.objects, key)
	return nil
}

var errDatabaseDown = errors.New("database is down")
