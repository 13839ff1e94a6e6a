// Package auth signs users in against Supabase Auth and keeps the CLI
// session on disk.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

var (
	ErrNotSignedIn        = errors.New("not signed in")
	ErrInvalidCredentials = errors.New("a valid email and a password of at least 6 characters are required")
)

// Session is a signed-in user's tokens.
type Session struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Valid reports whether the session has a token that has not expired.
func (s Session) Valid(now time.Time) bool {
	if s.AccessToken == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Backend is the identity provider.
type Backend interface {
	SignIn(ctx context.Context, email, password string) (Session, error)
	SignUp(ctx context.Context, email, password string) error
	User(ctx context.Context, accessToken string) (User, error)
	SignOut(ctx context.Context, accessToken string) error
}

type credentials struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6"`
}

var validate = validator.New()

func checkCredentials(email, password string) error {
	if err := validate.Struct(credentials{Email: email, Password: password}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	return nil
}

// Client ties a Backend to a persisted session.
type Client struct {
	backend  Backend
	sessions *SessionFile
	log      zerolog.Logger
	now      func() time.Time
}

func NewClient(backend Backend, sessions *SessionFile, log zerolog.Logger) *Client {
	return &Client{backend: backend, sessions: sessions, log: log, now: time.Now}
}

func (c *Client) SignIn(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(email)
	if err := checkCredentials(email, password); err != nil {
		return Session{}, err
	}

	sess, err := c.backend.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, fmt.Errorf("sign in: %w", err)
	}
	if err := c.sessions.Save(sess); err != nil {
		return Session{}, fmt.Errorf("store session: %w", err)
	}
	c.log.Info().Str("email", sess.Email).Msg("signed in")
	return sess, nil
}

// SignUp registers the account and then signs in with it.
func (c *Client) SignUp(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(email)
	if err := checkCredentials(email, password); err != nil {
		return Session{}, err
	}
	if err := c.backend.SignUp(ctx, email, password); err != nil {
		return Session{}, fmt.Errorf("sign up: %w", err)
	}
	return c.SignIn(ctx, email, password)
}

// SignOut revokes the stored session. The local session is cleared even
// if revocation fails.
func (c *Client) SignOut(ctx context.Context) error {
	sess, err := c.sessions.Load()
	if err != nil {
		return err
	}
	if sess.AccessToken != "" {
		if err := c.backend.SignOut(ctx, sess.AccessToken); err != nil {
			c.log.Warn().Err(err).Msg("remote sign out failed")
		}
	}
	return c.sessions.Clear()
}

// User returns the account behind the stored session.
func (c *Client) User(ctx context.Context) (User, error) {
	sess, err := c.sessions.Load()
	if err != nil {
		return User{}, err
	}
	if !sess.Valid(c.now()) {
		return User{}, ErrNotSignedIn
	}
	return c.backend.User(ctx, sess.AccessToken)
}

// Session returns the stored session if it is still valid.
func (c *Client) Session() (Session, bool) {
	sess, err := c.sessions.Load()
	if err != nil || !sess.Valid(c.now()) {
		return Session{}, false
	}
	return sess, true
}

// IsAuthenticated reports whether a valid local session exists.
func (c *Client) IsAuthenticated(context.Context) bool {
	_, ok := c.Session()
	return ok
}
