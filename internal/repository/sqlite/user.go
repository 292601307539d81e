package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/threadline/internal/apperror"
	"github.com/sakif/threadline/internal/model"
	"github.com/sakif/threadline/internal/repository"
)

// compile-time check that *UserStore implements repository.UserRepository
var _ repository.UserRepository = (*UserStore)(nil)

// UserStore serves repository.UserRepository from the users and follows tables.
type UserStore struct {
	db *DB
}

const userColumns = `id, name, email, username, password, profile_pic, bio, github_id, created_at, updated_at`

// Create inserts a new user.
//
// xid generates the ID: 20 chars, URL-safe, sortable by creation time.
// The caller's struct is modified in place, so after Create the user carries
// its ID and timestamps.
//
// The UNIQUE constraints on email, username and github_id are the last line
// of defence against duplicates; the service checks first, but two signups
// racing for the same username are only caught here.
func (s *UserStore) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.Followers = []string{}
	user.Following = []string{}

	// github_id is NULL for password accounts; UNIQUE ignores NULLs.
	var githubID sql.NullInt64
	if user.GitHubID != 0 {
		githubID = sql.NullInt64{Int64: user.GitHubID, Valid: true}
	}

	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Name,
		user.Email,
		user.Username,
		user.PasswordHash,
		user.ProfilePic,
		user.Bio,
		githubID,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("username", "User already exists")
		}
		return fmt.Errorf("sqlite: inserting user %q: %w", user.Username, err)
	}

	return nil
}

// GetByID retrieves a user by ID, including both follow sets.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (s *UserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	return s.getOne(ctx, s.db.conn, `WHERE id = ?`, id)
}

// GetByUsername retrieves a user by username.
func (s *UserStore) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.getOne(ctx, s.db.conn, `WHERE username = ?`, username)
}

// GetByGitHubID retrieves the user linked to a GitHub account.
func (s *UserStore) GetByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	return s.getOne(ctx, s.db.conn, `WHERE github_id = ?`, githubID)
}

// ExistsByEmailOrUsername reports whether the email or the username is taken.
func (s *UserStore) ExistsByEmailOrUsername(ctx context.Context, email, username string) (bool, error) {
	var n int
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE email = ? OR username = ?`,
		email, username,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking for existing user: %w", err)
	}
	return n > 0, nil
}

// Follow records that followerID follows followeeID.
//
// Both users are checked inside the same transaction as the insert, so the
// relationship is never written against a missing user. INSERT OR IGNORE makes
// a repeated follow a no-op rather than a constraint error.
func (s *UserStore) Follow(ctx context.Context, followerID, followeeID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := requireUsers(ctx, tx, followerID, followeeID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO follows (follower_id, followee_id, created_at) VALUES (?, ?, ?)`,
			followerID, followeeID, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("sqlite: inserting follow %s -> %s: %w", followerID, followeeID, err)
		}
		return touchUsers(ctx, tx, followerID, followeeID)
	})
}

// Unfollow removes the relationship. Removing a relationship that does not
// exist is not an error.
func (s *UserStore) Unfollow(ctx context.Context, followerID, followeeID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := requireUsers(ctx, tx, followerID, followeeID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM follows WHERE follower_id = ? AND followee_id = ?`,
			followerID, followeeID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: deleting follow %s -> %s: %w", followerID, followeeID, err)
		}
		return touchUsers(ctx, tx, followerID, followeeID)
	})
}

// inTx runs fn inside a transaction, committing on success and rolling back
// on any error.
//
// TRANSACTIONS:
// db.BeginTx reserves one connection for the whole transaction. Every statement
// inside fn must go through tx (not db.conn) or it would wait forever for the
// single pooled connection.
func (s *UserStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

func requireUsers(ctx context.Context, tx *sql.Tx, ids ...string) error {
	for _, id := range ids {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, id).Scan(&one)
		if err == sql.ErrNoRows {
			return apperror.NotFound("User", id)
		}
		if err != nil {
			return fmt.Errorf("sqlite: checking user %s: %w", id, err)
		}
	}
	return nil
}

func touchUsers(ctx context.Context, tx *sql.Tx, ids ...string) error {
	now := time.Now().UTC()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET updated_at = ? WHERE id = ?`, now, id); err != nil {
			return fmt.Errorf("sqlite: touching user %s: %w", id, err)
		}
	}
	return nil
}

// getOne loads a single user row matching where, then fills in the follow
// sets. Followers and Following are returned in the order the follows
// happened.
func (s *UserStore) getOne(ctx context.Context, q queryer, where string, args ...any) (*model.User, error) {
	var (
		u        model.User
		githubID sql.NullInt64
	)

	err := q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users `+where,
		args...,
	).Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Username,
		&u.PasswordHash,
		&u.ProfilePic,
		&u.Bio,
		&githubID,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("User", fmt.Sprint(args...))
		}
		return nil, fmt.Errorf("sqlite: getting user: %w", err)
	}
	u.GitHubID = githubID.Int64

	u.Followers, err = queryStrings(ctx, q,
		`SELECT follower_id FROM follows WHERE followee_id = ? ORDER BY created_at, rowid`, u.ID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: loading followers of %s: %w", u.ID, err)
	}
	u.Following, err = queryStrings(ctx, q,
		`SELECT followee_id FROM follows WHERE follower_id = ? ORDER BY created_at, rowid`, u.ID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: loading following of %s: %w", u.ID, err)
	}

	return &u, nil
}
