package tokens

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Skotchmaster/shop_auth/internal/models"
)

const (
	DefaultAccessTTL = 15 * time.Minute
	MinSecretBytes   = 32
)

var (
	ErrSecretTooShort = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretBytes)
	ErrInvalidToken   = errors.New("invalid access token")
)

type AccessClaims struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// UserID returns the numeric subject.
func (c *AccessClaims) UserID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return uint(id), nil
}

type Settings struct {
	Secret    []byte
	Issuer    string
	Audience  string
	AccessTTL time.Duration
}

// Minter signs and verifies HS256 access tokens. It holds no mutable state.
type Minter struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

func NewMinter(s Settings, now func() time.Time) (*Minter, error) {
	if len(s.Secret) < MinSecretBytes {
		return nil, ErrSecretTooShort
	}
	if s.AccessTTL <= 0 {
		s.AccessTTL = DefaultAccessTTL
	}
	if now == nil {
		now = time.Now
	}
	secret := make([]byte, len(s.Secret))
	copy(secret, s.Secret)
	return &Minter{
		secret:   secret,
		issuer:   s.Issuer,
		audience: s.Audience,
		ttl:      s.AccessTTL,
		now:      now,
	}, nil
}

func (m *Minter) TTL() time.Duration { return m.ttl }

func (m *Minter) Mint(u *models.User) (string, time.Time, error) {
	now := m.now().UTC()
	exp := now.Add(m.ttl)

	claims := AccessClaims{
		Username: u.Username,
		Email:    u.Email,
		Role:     u.Role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(u.ID), 10),
			ID:        uuid.NewString(),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	// The exp claim has second precision; report what the token actually says.
	return token, claims.ExpiresAt.Time, nil
}

// Parse verifies signature, algorithm, issuer, audience and expiry with no leeway.
func (m *Minter) Parse(tokenStr string) (*AccessClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	var claims AccessClaims
	tkn, err := jwt.NewParser(opts...).ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected sign method")
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !tkn.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil {
		return nil, err
	}
	return &claims, nil
}
