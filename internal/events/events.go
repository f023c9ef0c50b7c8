// Package events carries security-relevant facts about sessions to external sinks.
package events

import (
	"context"
	"errors"
	"time"
)

const (
	TypeUserRegistered  = "user_registered"
	TypeUserLoggedIn    = "user_logged_in"
	TypeLoginFailed     = "login_failed"
	TypeTokenRefreshed  = "token_refreshed"
	TypeRefreshReuse    = "refresh_token_reuse"
	TypeUserLoggedOut   = "user_logged_out"
	TypeTokensRevoked   = "tokens_revoked"
	TypePasswordChanged = "password_changed"
)

type Event struct {
	Type     string    `json:"type"`
	UserID   uint      `json:"user_id,omitempty"`
	Username string    `json:"username,omitempty"`
	IP       string    `json:"ip,omitempty"`
	Revoked  int64     `json:"revoked,omitempty"`
	At       time.Time `json:"at"`
}

// Key partitions events of one user together.
func (e Event) Key() string {
	if e.UserID == 0 {
		return e.Type
	}
	return uintKey(e.UserID)
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
