package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/supabase-community/gotrue-go/types"
	"github.com/supabase-community/supabase-go"
)

// SupabaseBackend talks to Supabase Auth (GoTrue). The client API is not
// context aware, so ctx is unused.
type SupabaseBackend struct {
	client *supabase.Client
}

func NewSupabaseBackend(url, anonKey string) (*SupabaseBackend, error) {
	if url == "" || anonKey == "" {
		return nil, fmt.Errorf("supabase url and anon key are required")
	}
	client, err := supabase.NewClient(url, anonKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &SupabaseBackend{client: client}, nil
}

func (b *SupabaseBackend) SignIn(_ context.Context, email, password string) (Session, error) {
	s, err := b.client.SignInWithEmailPassword(email, password)
	if err != nil {
		return Session{}, err
	}
	return fromGoTrue(s), nil
}

func (b *SupabaseBackend) SignUp(_ context.Context, email, password string) error {
	_, err := b.client.Auth.Signup(types.SignupRequest{Email: email, Password: password})
	return err
}

func (b *SupabaseBackend) User(_ context.Context, accessToken string) (User, error) {
	resp, err := b.client.Auth.WithToken(accessToken).GetUser()
	if err != nil {
		return User{}, err
	}
	return User{ID: resp.ID.String(), Email: resp.Email}, nil
}

func (b *SupabaseBackend) SignOut(_ context.Context, accessToken string) error {
	return b.client.Auth.WithToken(accessToken).Logout()
}

func fromGoTrue(s types.Session) Session {
	out := Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		UserID:       s.User.ID.String(),
		Email:        s.User.Email,
	}
	switch {
	case s.ExpiresAt > 0:
		out.ExpiresAt = time.Unix(s.ExpiresAt, 0)
	case s.ExpiresIn > 0:
		out.ExpiresAt = time.Now().Add(time.Duration(s.ExpiresIn) * time.Second)
	}
	return out
}
