package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/threadline/internal/apperror"
	"github.com/sakif/threadline/internal/auth"
	"github.com/sakif/threadline/internal/model"
	"github.com/sakif/threadline/internal/repository"
)

const (
	MinPasswordLength = 6
	MinUsernameLength = 3
	MaxUsernameLength = 30

	msgInvalidCredentials = "Invalid username or password"
	msgUserExists         = "User already exists"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.]{3,30}$`)

// UserService handles accounts, sessions and the follow graph.
type UserService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	revoker   auth.Revoker
	logger    *slog.Logger
}

func NewUserService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	revoker auth.Revoker,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		revoker:   revoker,
		logger:    logger,
	}
}

// AuthResult bundles the user with a freshly issued session token so the
// handler can set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// SignupInput is the data needed to create a password account.
type SignupInput struct {
	Name     string
	Email    string
	Username string
	Password string
}

// Signup validates the input, creates the account and logs it in.
func (s *UserService) Signup(ctx context.Context, in SignupInput) (*AuthResult, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	username := strings.TrimSpace(in.Username)

	if name == "" || email == "" || username == "" || in.Password == "" {
		return nil, apperror.ValidationFailed("", "Name, email, username and password are required")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, apperror.ValidationFailed("email", "Invalid email address")
	}
	if !usernamePattern.MatchString(username) {
		return nil, apperror.ValidationFailed("username",
			"Username must be 3-30 characters of letters, numbers, underscores or dots")
	}
	if len(in.Password) < MinPasswordLength || len(in.Password) > auth.MaxPasswordBytes {
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("Password must be between %d and %d characters", MinPasswordLength, auth.MaxPasswordBytes))
	}

	exists, err := s.users.ExistsByEmailOrUsername(ctx, email, username)
	if err != nil {
		return nil, fmt.Errorf("service/user: checking existing user: %w", err)
	}
	if exists {
		return nil, apperror.Conflict("username", msgUserExists)
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/user: %w", err)
	}

	user := &model.User{
		Name:         name,
		Email:        email,
		Username:     username,
		PasswordHash: hash,
	}
	// The store's unique indexes catch a concurrent signup that slipped past
	// the existence check; it comes back as the same Conflict.
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user signed up", slog.String("userID", user.ID), slog.String("username", user.Username))
	return s.issue(user)
}

// Login checks the password. Unknown usernames and wrong passwords get the
// same error and take the same time.
func (s *UserService) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperror.Unauthorized(msgInvalidCredentials)
	}

	user, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, apperror.ErrNotFound) {
		s.passwords.VerifyDummy(password)
		return nil, apperror.Unauthorized(msgInvalidCredentials)
	}
	if err != nil {
		return nil, fmt.Errorf("service/user: loading %q: %w", username, err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperror.Unauthorized(msgInvalidCredentials)
		}
		return nil, fmt.Errorf("service/user: %w", err)
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return s.issue(user)
}

// Logout revokes the session's token when there is one. It never fails:
// the cookie is cleared by the handler either way, and a revocation store
// outage is only logged.
func (s *UserService) Logout(ctx context.Context, session *auth.Session) {
	if session == nil {
		return
	}
	if err := s.revoker.Revoke(ctx, session.TokenID, session.ExpiresAt); err != nil {
		s.logger.Warn("token revocation failed",
			slog.String("userID", session.UserID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("user logged out", slog.String("userID", session.UserID))
}

// FollowUnfollow toggles whether actorID follows targetID and reports the
// new state.
func (s *UserService) FollowUnfollow(ctx context.Context, actorID, targetID string) (following bool, err error) {
	if actorID == targetID {
		return false, apperror.ValidationFailed("id", "You cannot follow/unfollow yourself")
	}

	if _, err := s.users.GetByID(ctx, targetID); err != nil {
		return false, err
	}
	actor, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return false, err
	}

	if actor.IsFollowing(targetID) {
		if err := s.users.Unfollow(ctx, actorID, targetID); err != nil {
			return false, err
		}
		return false, nil
	}
	if err := s.users.Follow(ctx, actorID, targetID); err != nil {
		return false, err
	}
	return true, nil
}

// GetUserProfile looks the query up as a user id when it parses as one,
// and as a username otherwise (or when no user has that id).
func (s *UserService) GetUserProfile(ctx context.Context, query string) (*model.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperror.NotFound("User", query)
	}

	if _, err := xid.FromString(query); err == nil {
		user, err := s.users.GetByID(ctx, query)
		if err == nil {
			return user.Public(), nil
		}
		if !errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
	}

	user, err := s.users.GetByUsername(ctx, query)
	if err != nil {
		return nil, err
	}
	return user.Public(), nil
}

// GetByID returns the public view of a user.
func (s *UserService) GetByID(ctx context.Context, id string) (*model.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return user.Public(), nil
}

// LoginGitHub signs in the account linked to a GitHub profile, creating it
// on first use. New accounts get the GitHub login as username, suffixed
// when taken, and no password.
func (s *UserService) LoginGitHub(ctx context.Context, gh *auth.GitHubUser) (*AuthResult, error) {
	if gh == nil || gh.ID == 0 {
		return nil, apperror.Unauthorized("GitHub sign-in failed")
	}

	user, err := s.users.GetByGitHubID(ctx, gh.ID)
	if err == nil {
		s.logger.Info("user logged in via GitHub", slog.String("userID", user.ID))
		return s.issue(user)
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/user: loading GitHub user %d: %w", gh.ID, err)
	}

	email := strings.ToLower(strings.TrimSpace(gh.Email))
	if email == "" {
		email = fmt.Sprintf("%d+%s@users.noreply.github.com", gh.ID, strings.ToLower(gh.Login))
	}
	name := strings.TrimSpace(gh.Name)
	if name == "" {
		name = gh.Login
	}

	base := usernameFromLogin(gh.Login)
	for attempt := 0; attempt < 10; attempt++ {
		candidate := withSuffix(base, attempt)

		taken, err := s.usernameTaken(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if taken {
			continue
		}

		user = &model.User{
			Name:       name,
			Email:      email,
			Username:   candidate,
			ProfilePic: gh.AvatarURL,
			GitHubID:   gh.ID,
		}
		err = s.users.Create(ctx, user)
		if err == nil {
			s.logger.Info("user signed up via GitHub",
				slog.String("userID", user.ID),
				slog.String("username", user.Username),
				slog.Int64("githubID", gh.ID),
			)
			return s.issue(user)
		}
		if !errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		// The email is what collided; a new username will not help.
		exists, err := s.users.ExistsByEmailOrUsername(ctx, email, "")
		if err != nil {
			return nil, fmt.Errorf("service/user: checking email %q: %w", email, err)
		}
		if exists {
			return nil, apperror.Conflict("email", msgUserExists)
		}
	}
	return nil, apperror.Conflict("username", msgUserExists)
}

func (s *UserService) usernameTaken(ctx context.Context, username string) (bool, error) {
	_, err := s.users.GetByUsername(ctx, username)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, apperror.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("service/user: checking username %q: %w", username, err)
	}
}

func (s *UserService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/user: issuing token for %s: %w", user.ID, err)
	}
	return &AuthResult{User: user.Public(), Token: token}, nil
}

// usernameFromLogin maps a GitHub login (letters, digits, hyphens) onto the
// local username alphabet.
func usernameFromLogin(login string) string {
	var b strings.Builder
	for _, r := range login {
		switch {
		case r < 128 && (r == '_' || r == '.' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z'):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	for len(name) < MinUsernameLength {
		name += "_"
	}
	if len(name) > MaxUsernameLength {
		name = name[:MaxUsernameLength]
	}
	return name
}

// withSuffix returns base for attempt 0 and base_N after that, trimmed to
// fit MaxUsernameLength.
func withSuffix(base string, attempt int) string {
	if attempt == 0 {
		return base
	}
	suffix := "_" + strconv.Itoa(attempt+1)
	if len(base)+len(suffix) > MaxUsernameLength {
		base = base[:MaxUsernameLength-len(suffix)]
	}
	return base + suffix
}
