package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/threadline/internal/apperror"
	"github.com/sakif/threadline/internal/auth"
	"github.com/sakif/threadline/internal/service"
)

// GitHubExchanger is the part of auth.GitHubProvider the OAuth handler uses.
type GitHubExchanger interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GitHubUser, error)
}

var _ GitHubExchanger = (*auth.GitHubProvider)(nil)

// OAuthHandler runs the GitHub sign-in flow.
type OAuthHandler struct {
	github  GitHubExchanger
	users   *service.UserService
	cookies CookieConfig
	logger  *slog.Logger
}

func NewOAuthHandler(github GitHubExchanger, users *service.UserService, cookies CookieConfig, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{github: github, users: users, cookies: cookies, logger: logger}
}

// HandleGitHubLogin redirects the browser to GitHub's authorization page.
//
// HTTP: GET /users/oauth/github/login
//
// CSRF PROTECTION VIA STATE:
// A random state goes both into a short-lived HttpOnly cookie and into the
// authorization URL. The callback only proceeds when the two match, which
// proves this server started the flow.
func (h *OAuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := auth.NewState()

	http.SetCookie(w, &http.Cookie{
		Name:     auth.StateCookieName,
		Value:    state,
		Path:     "/users/oauth/github",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes sign-in.
//
// HTTP: GET /users/oauth/github/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Check the state against the cookie, then drop the cookie
//  2. Exchange the code for the GitHub profile
//  3. Find or create the linked account
//  4. Set the session cookie and redirect to /
func (h *OAuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	stateCookie, err := r.Cookie(auth.StateCookieName)
	if err != nil || stateCookie.Value == "" || q.Get("state") != stateCookie.Value {
		h.logger.Warn("github callback: state mismatch")
		writeError(w, r, h.logger, apperror.ValidationFailed("state", "Invalid OAuth state"))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:   auth.StateCookieName,
		Value:  "",
		Path:   "/users/oauth/github",
		MaxAge: -1,
	})

	// The user pressed "Cancel" on GitHub.
	if errParam := q.Get("error"); errParam != "" {
		h.logger.Info("github callback: authorization denied", slog.String("error", errParam))
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	code := q.Get("code")
	if code == "" {
		writeError(w, r, h.logger, apperror.ValidationFailed("code", "Missing OAuth code"))
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("github callback: exchange failed", slog.String("error", err.Error()))
		writeError(w, r, h.logger, apperror.Unauthorized("GitHub sign-in failed"))
		return
	}

	res, err := h.users.LoginGitHub(r.Context(), ghUser)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	setSessionCookie(w, h.cookies, res.Token)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
