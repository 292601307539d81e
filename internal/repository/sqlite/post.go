package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/threadline/internal/apperror"
	"github.com/sakif/threadline/internal/model"
	"github.com/sakif/threadline/internal/repository"
)

var _ repository.PostRepository = (*PostStore)(nil)

// PostStore serves repository.PostRepository from the posts, post_likes and
// post_replies tables.
type PostStore struct {
	db *DB
}

// Create inserts a new post. The author must exist (foreign key).
func (s *PostStore) Create(ctx context.Context, post *model.Post) error {
	now := time.Now().UTC()
	post.ID = xid.New().String()
	post.CreatedAt = now
	post.UpdatedAt = now
	post.Normalize()

	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO posts (id, posted_by, text, img, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		post.ID,
		post.PostedBy,
		post.Text,
		post.Img,
		post.CreatedAt,
		post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting post: %w", err)
	}
	return nil
}

// GetByID retrieves a post with its likes and replies.
// Returns apperror.ErrNotFound if no post exists with that ID.
func (s *PostStore) GetByID(ctx context.Context, id string) (*model.Post, error) {
	var p model.Post
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT id, posted_by, text, img, created_at, updated_at FROM posts WHERE id = ?`,
		id,
	).Scan(&p.ID, &p.PostedBy, &p.Text, &p.Img, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("Post", id)
		}
		return nil, fmt.Errorf("sqlite: getting post %s: %w", id, err)
	}

	if err := s.hydrate(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Delete removes a post. Likes and replies go with it (ON DELETE CASCADE).
func (s *PostStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.conn.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting post %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("Post", id)
	}
	return nil
}

// ToggleLike flips userID's membership in the post's likes.
//
// The DELETE doubles as the membership test: if it removed a row the user had
// liked the post, otherwise we insert. Both statements run in one transaction,
// so two concurrent toggles serialise instead of losing an update.
func (s *PostStore) ToggleLike(ctx context.Context, postID, userID string) (bool, error) {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	defer tx.Rollback() // no-op after Commit

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM posts WHERE id = ?`, postID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, apperror.NotFound("Post", postID)
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: checking post %s: %w", postID, err)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM post_likes WHERE post_id = ? AND user_id = ?`, postID, userID)
	if err != nil {
		return false, fmt.Errorf("sqlite: removing like: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}

	liked := removed == 0
	if liked {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO post_likes (post_id, user_id, created_at) VALUES (?, ?, ?)`,
			postID, userID, time.Now().UTC())
		if err != nil {
			return false, fmt.Errorf("sqlite: adding like: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("sqlite: committing like toggle: %w", err)
	}
	return liked, nil
}

// AppendReply adds a reply at the end of the post's reply list.
func (s *PostStore) AppendReply(ctx context.Context, postID string, reply model.Reply) error {
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = time.Now().UTC()
	}

	// INSERT ... SELECT only inserts when the post exists, so a missing post
	// shows up as zero rows affected rather than a foreign key error.
	result, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO post_replies (post_id, user_id, text, user_profile_pic, username, created_at)
		 SELECT id, ?, ?, ?, ?, ? FROM posts WHERE id = ?`,
		reply.UserID,
		reply.Text,
		reply.UserProfilePic,
		reply.Username,
		reply.CreatedAt,
		postID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: appending reply to %s: %w", postID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("Post", postID)
	}
	return nil
}

// ListByAuthors returns the posts of the given authors, newest first.
//
// The ids travel as one JSON array parameter expanded by json_each, so the
// query has a fixed number of bound variables however many authors there
// are (SQLite caps a statement at 32766). rowid breaks ties between posts
// created in the same instant.
func (s *PostStore) ListByAuthors(ctx context.Context, authorIDs []string, opts repository.ListOptions) ([]model.Post, error) {
	posts := []model.Post{}
	if len(authorIDs) == 0 {
		return posts, nil
	}

	ids, err := json.Marshal(authorIDs)
	if err != nil {
		return nil, fmt.Errorf("sqlite: encoding author ids: %w", err)
	}
	args := []any{string(ids)}

	query := `SELECT id, posted_by, text, img, created_at, updated_at FROM posts
		 WHERE posted_by IN (SELECT value FROM json_each(?))
		 ORDER BY created_at DESC, rowid DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	} else if opts.Offset > 0 {
		// SQLite needs a LIMIT before OFFSET; -1 means unbounded.
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing posts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Post
		if err := rows.Scan(&p.ID, &p.PostedBy, &p.Text, &p.Img, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning post row: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating post rows: %w", err)
	}
	// Close before hydrating: the pool has a single connection.
	rows.Close()

	for i := range posts {
		if err := s.hydrate(ctx, &posts[i]); err != nil {
			return nil, err
		}
	}
	return posts, nil
}

// hydrate loads the embedded likes and replies of a post.
func (s *PostStore) hydrate(ctx context.Context, p *model.Post) error {
	likes, err := queryStrings(ctx, s.db.conn,
		`SELECT user_id FROM post_likes WHERE post_id = ? ORDER BY created_at, rowid`, p.ID)
	if err != nil {
		return fmt.Errorf("sqlite: loading likes of %s: %w", p.ID, err)
	}
	p.Likes = likes

	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT user_id, text, user_profile_pic, username, created_at
		 FROM post_replies WHERE post_id = ? ORDER BY seq`, p.ID)
	if err != nil {
		return fmt.Errorf("sqlite: loading replies of %s: %w", p.ID, err)
	}
	defer rows.Close()

	p.Replies = []model.Reply{}
	for rows.Next() {
		var r model.Reply
		if err := rows.Scan(&r.UserID, &r.Text, &r.UserProfilePic, &r.Username, &r.CreatedAt); err != nil {
			return fmt.Errorf("sqlite: scanning reply row: %w", err)
		}
		p.Replies = append(p.Replies, r)
	}
	return rows.Err()
}
