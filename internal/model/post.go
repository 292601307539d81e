package model

import "time"

// MaxPostTextLength is the upper bound on Post.Text, counted in characters
// (runes), not bytes.
const MaxPostTextLength = 500

// Post is a short text post, optionally carrying one hosted image.
//
// PostedBy is fixed at creation. Likes is a set of user IDs (no duplicates);
// Replies only ever grows, and its order is the order replies were added.
type Post struct {
	ID        string    `json:"_id"       bson:"_id"`
	PostedBy  string    `json:"postedBy"  bson:"postedBy"`
	Text      string    `json:"text"      bson:"text"`
	Img       string    `json:"img"       bson:"img"`
	Likes     []string  `json:"likes"     bson:"likes"`
	Replies   []Reply   `json:"replies"   bson:"replies"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Reply is embedded in a Post and is not addressable on its own.
//
// UserProfilePic and Username are a snapshot of the author taken when the
// reply was written. They are copies, not references: a later
// profile change does not rewrite old replies.
type Reply struct {
	UserID         string    `json:"userId"         bson:"userId"`
	Text           string    `json:"text"           bson:"text"`
	UserProfilePic string    `json:"userProfilePic" bson:"userProfilePic"`
	Username       string    `json:"username"       bson:"username"`
	CreatedAt      time.Time `json:"createdAt"      bson:"createdAt"`
}

// LikedBy reports whether the user with the given ID likes the post.
func (p *Post) LikedBy(userID string) bool {
	return contains(p.Likes, userID)
}

// Normalize replaces nil collections with empty ones so the post always
// serialises with arrays.
func (p *Post) Normalize() {
	if p.Likes == nil {
		p.Likes = []string{}
	}
	if p.Replies == nil {
		p.Replies = []Reply{}
	}
}
