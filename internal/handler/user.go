package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/threadline/internal/auth"
	"github.com/sakif/threadline/internal/service"
)

// UserHandler serves the /users routes.
type UserHandler struct {
	users   *service.UserService
	authn   *auth.Authenticator
	cookies CookieConfig
	logger  *slog.Logger
}

func NewUserHandler(users *service.UserService, authn *auth.Authenticator, cookies CookieConfig, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, authn: authn, cookies: cookies, logger: logger}
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleSignup creates an account and logs it in.
//
// HTTP: POST /users/signup
// BODY: {"name": "...", "email": "...", "username": "...", "password": "..."}
// 201 → the public user, plus the session cookie
func (h *UserHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.users.Signup(r.Context(), service.SignupInput{
		Name:     req.Name,
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	setSessionCookie(w, h.cookies, res.Token)
	writeJSON(w, http.StatusCreated, res.User)
}

// HandleLogin checks a username and password.
//
// HTTP: POST /users/login
// BODY: {"username": "...", "password": "..."}
// 200 → the public user, plus the session cookie
func (h *UserHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	setSessionCookie(w, h.cookies, res.Token)
	writeJSON(w, http.StatusOK, res.User)
}

// HandleLogout clears the session cookie and revokes the token if one came
// with the request. It succeeds for anonymous callers too.
//
// HTTP: POST /users/logout
func (h *UserHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if session, err := h.authn.Authenticate(r); err == nil {
		h.users.Logout(r.Context(), session)
	}
	clearSessionCookie(w, h.cookies)
	writeMessage(w, "User logged out successfully")
}

// HandleFollow toggles whether the caller follows {id}.
//
// HTTP: POST /users/follow/{id} (auth required)
func (h *UserHandler) HandleFollow(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	following, err := h.users.FollowUnfollow(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if following {
		writeMessage(w, "User followed successfully")
		return
	}
	writeMessage(w, "User unfollowed successfully")
}

// HandleProfile returns a public profile by user id or username.
//
// HTTP: GET /users/profile/{query}
func (h *UserHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetUserProfile(r.Context(), r.PathValue("query"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
