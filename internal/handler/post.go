package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/threadline/internal/service"
)

// PostHandler serves the /posts routes.
type PostHandler struct {
	posts  *service.PostService
	logger *slog.Logger
}

func NewPostHandler(posts *service.PostService, logger *slog.Logger) *PostHandler {
	return &PostHandler{posts: posts, logger: logger}
}

type createPostRequest struct {
	PostedBy string `json:"postedBy"`
	Text     string `json:"text"`
	Img      string `json:"img"`
}

type replyRequest struct {
	Text string `json:"text"`
}

// HandleCreate creates a post for the caller.
//
// HTTP: POST /posts/create (auth required)
// BODY: {"postedBy": "<caller id>", "text": "...", "img": "data:image/...;base64,..."}
// 201 → the post; img holds the hosted URL
func (h *PostHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req createPostRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	post, err := h.posts.CreatePost(r.Context(), userID, service.CreatePostInput{
		PostedBy: req.PostedBy,
		Text:     req.Text,
		Img:      req.Img,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

// HandleGet returns one post.
//
// HTTP: GET /posts/{id}
func (h *PostHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	post, err := h.posts.GetPost(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// HandleDelete deletes one of the caller's posts.
//
// HTTP: DELETE /posts/{id} (auth required)
func (h *PostHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.posts.DeletePost(r.Context(), userID, r.PathValue("id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeMessage(w, "Post deleted successfully")
}

// HandleLike toggles the caller's like.
//
// HTTP: PUT /posts/like/{id} (auth required)
func (h *PostHandler) HandleLike(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	liked, err := h.posts.LikeUnlike(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if liked {
		writeMessage(w, "Post liked successfully")
		return
	}
	writeMessage(w, "Post unliked successfully")
}

// HandleReply adds a reply from the caller.
//
// HTTP: PUT /posts/reply/{id} (auth required)
// BODY: {"text": "..."}
// 200 → the stored reply
func (h *PostHandler) HandleReply(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req replyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	reply, err := h.posts.Reply(r.Context(), r.PathValue("id"), userID, req.Text)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// HandleUserPosts lists a user's posts, newest first.
//
// HTTP: GET /posts/user/{username}?limit=&offset=
func (h *PostHandler) HandleUserPosts(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	posts, err := h.posts.GetUserPosts(r.Context(), r.PathValue("username"), page)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

// HandleFeed lists posts from everyone the caller follows, newest first.
//
// HTTP: GET /posts/feed?limit=&offset= (auth required)
func (h *PostHandler) HandleFeed(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	page, err := pageFromQuery(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	posts, err := h.posts.GetFeedPosts(r.Context(), userID, page)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}
