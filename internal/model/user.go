// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data, similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

import "time"

// User represents a registered account and its place in the social graph.
//
// The struct doubles as the public view of a user: PasswordHash carries the
// `json:"-"` tag, so encoding/json never writes it, no matter which handler
// serialises the value.
//
// Followers and Following are sets of user IDs stored as slices. A user never
// appears in its own sets; the repository layer keeps the two sides of every
// relationship in step (A in B.Followers ⇔ B in A.Following).
//
// The `bson:"..."` tags are read by the MongoDB driver; the SQLite store maps
// columns by hand and ignores them.
type User struct {
	ID           string    `json:"_id"        bson:"_id"`
	Name         string    `json:"name"       bson:"name"`
	Email        string    `json:"email"      bson:"email"`
	Username     string    `json:"username"   bson:"username"`
	PasswordHash string    `json:"-"          bson:"password"`
	ProfilePic   string    `json:"profilePic" bson:"profilePic"`
	Bio          string    `json:"bio"        bson:"bio"`
	GitHubID     int64     `json:"-"          bson:"githubId,omitempty"` // set only for accounts created via GitHub sign-in
	Followers    []string  `json:"followers"  bson:"followers"`
	Following    []string  `json:"following"  bson:"following"`
	CreatedAt    time.Time `json:"createdAt"  bson:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"  bson:"updatedAt"`
}

// Public returns a copy of the user that is safe to hand to callers:
// the password hash is cleared and nil sets become empty slices so the JSON
// always carries arrays rather than null.
func (u *User) Public() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.PasswordHash = ""
	out.Followers = nonNil(u.Followers)
	out.Following = nonNil(u.Following)
	return &out
}

// IsFollowing reports whether u follows the user with the given ID.
func (u *User) IsFollowing(id string) bool {
	return contains(u.Following, id)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return append([]string(nil), ids...)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
