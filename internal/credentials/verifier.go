package credentials

import (
	"context"
	"errors"

	"github.com/Skotchmaster/shop_auth/internal/hash"
	"github.com/Skotchmaster/shop_auth/internal/models"
	"github.com/Skotchmaster/shop_auth/internal/repo"
)

// ErrInvalidCredentials covers both an unknown identifier and a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

type UserFinder interface {
	FindUserByUsername(ctx context.Context, normalized string) (*models.User, error)
	FindUserByEmail(ctx context.Context, normalized string) (*models.User, error)
}

type Verifier struct {
	users     UserFinder
	hasher    hash.Hasher
	dummyHash string
}

func NewVerifier(users UserFinder, hasher hash.Hasher) *Verifier {
	// Compared against when the user does not exist so both paths pay for a hash check.
	dummy, _ := hasher.Hash("not-a-real-password-0!A")
	return &Verifier{users: users, hasher: hasher, dummyHash: dummy}
}

// Verify resolves identifier as an email when it is syntactically one and as a username
// otherwise, then checks password against the stored hash.
func (v *Verifier) Verify(ctx context.Context, identifier, password string) (*models.User, error) {
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var (
		user *models.User
		err  error
	)
	key := Normalize(identifier)
	if IsEmail(key) {
		user, err = v.users.FindUserByEmail(ctx, key)
	} else {
		user, err = v.users.FindUserByUsername(ctx, key)
	}
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			v.hasher.Verify(password, v.dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !v.hasher.Verify(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
