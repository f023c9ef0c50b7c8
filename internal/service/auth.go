package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/Skotchmaster/shop_auth/internal/credentials"
	"github.com/Skotchmaster/shop_auth/internal/events"
	"github.com/Skotchmaster/shop_auth/internal/hash"
	"github.com/Skotchmaster/shop_auth/internal/logging"
	"github.com/Skotchmaster/shop_auth/internal/metrics"
	"github.com/Skotchmaster/shop_auth/internal/models"
	"github.com/Skotchmaster/shop_auth/internal/repo"
	"github.com/Skotchmaster/shop_auth/internal/tokens"
)

const eventTimeout = 2 * time.Second

type AuthService struct {
	repo     *repo.GormRepo
	minter   *tokens.Minter
	hasher   hash.Hasher
	verifier *credentials.Verifier

	events         events.Publisher
	metrics        *metrics.Metrics
	reuseDetection bool
	now            func() time.Time
}

type Option func(*AuthService) error

func WithClock(fn func() time.Time) Option {
	return func(s *AuthService) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

func WithEvents(p events.Publisher) Option {
	return func(s *AuthService) error {
		if p != nil {
			s.events = p
		}
		return nil
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *AuthService) error {
		s.metrics = m
		return nil
	}
}

// WithReuseDetection toggles revoking the descendant chain when a rotated token comes back.
func WithReuseDetection(on bool) Option {
	return func(s *AuthService) error {
		s.reuseDetection = on
		return nil
	}
}

func New(r *repo.GormRepo, minter *tokens.Minter, hasher hash.Hasher, opts ...Option) (*AuthService, error) {
	if r == nil || minter == nil || hasher == nil {
		return nil, errors.New("service: repo, minter and hasher are required")
	}
	s := &AuthService{
		repo:           r,
		minter:         minter,
		hasher:         hasher,
		verifier:       credentials.NewVerifier(r, hasher),
		events:         events.Nop{},
		reuseDetection: true,
		now:            time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput, ip string) (*AuthResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.register")

	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	if err := credentials.ValidateUsername(username); err != nil {
		s.metrics.Operation(metrics.OpRegister, metrics.ResultInvalid)
		return nil, invalid("username", err)
	}
	if err := credentials.ValidateEmail(email); err != nil {
		s.metrics.Operation(metrics.OpRegister, metrics.ResultInvalid)
		return nil, invalid("email", err)
	}
	if err := credentials.ValidatePassword(in.Password, in.ConfirmPassword); err != nil {
		s.metrics.Operation(metrics.OpRegister, metrics.ResultInvalid)
		return nil, invalid("password", err)
	}

	normUser, normEmail := credentials.Normalize(username), credentials.Normalize(email)
	taken, err := s.repo.UserTaken(ctx, normUser, normEmail)
	if err != nil {
		return nil, s.fail(l, metrics.OpRegister, err)
	}
	if taken {
		l.Warn("register_error", "status", 409, "reason", "user already exist")
		s.metrics.Operation(metrics.OpRegister, metrics.ResultConflict)
		return nil, ErrConflict
	}

	pwHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		l.Error("register_error", "status", 500, "reason", "cannot hash the password", "error", err)
		s.metrics.Operation(metrics.OpRegister, metrics.ResultError)
		return nil, ErrInternal
	}

	user := &models.User{
		Username:           username,
		Email:              email,
		NormalizedUsername: normUser,
		NormalizedEmail:    normEmail,
		PasswordHash:       pwHash,
		Role:               models.RoleUser,
		CreatedAt:          s.now().UTC(),
	}

	var res *AuthResult
	err = s.repo.InTx(ctx, func(tx *repo.GormRepo) error {
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		refresh, err := tx.IssueRefreshToken(ctx, user.ID, ip)
		if err != nil {
			return err
		}
		res, err = s.result(user, refresh)
		return err
	})
	if err != nil {
		if errors.Is(err, repo.ErrUserExists) {
			l.Warn("register_error", "status", 409, "reason", "user already exist")
			s.metrics.Operation(metrics.OpRegister, metrics.ResultConflict)
			return nil, ErrConflict
		}
		return nil, s.fail(l, metrics.OpRegister, err)
	}

	l.Info("register_successful", "user_id", user.ID)
	s.metrics.Operation(metrics.OpRegister, metrics.ResultOK)
	s.publish(ctx, events.Event{Type: events.TypeUserRegistered, UserID: user.ID, Username: user.Username, IP: ip})
	return res, nil
}

func (s *AuthService) Login(ctx context.Context, in LoginInput, ip string) (*AuthResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login")

	user, err := s.verifier.Verify(ctx, strings.TrimSpace(in.UsernameOrEmail), in.Password)
	if err != nil {
		if errors.Is(err, credentials.ErrInvalidCredentials) {
			l.Warn("login_failed", "status", 401, "reason", "invalid username or password")
			s.metrics.Operation(metrics.OpLogin, metrics.ResultUnauthorized)
			s.publish(ctx, events.Event{Type: events.TypeLoginFailed, IP: ip})
			return nil, ErrUnauthorized
		}
		return nil, s.fail(l, metrics.OpLogin, err)
	}

	refresh, err := s.repo.IssueRefreshToken(ctx, user.ID, ip)
	if err != nil {
		return nil, s.fail(l, metrics.OpLogin, err)
	}
	res, err := s.result(user, refresh)
	if err != nil {
		return nil, s.fail(l, metrics.OpLogin, err)
	}

	l.Info("login_successful", "user_id", user.ID)
	s.metrics.Operation(metrics.OpLogin, metrics.ResultOK)
	s.publish(ctx, events.Event{Type: events.TypeUserLoggedIn, UserID: user.ID, Username: user.Username, IP: ip})
	return res, nil
}

// Refresh exchanges a refresh token for a new pair. Every rejection is ErrUnauthorized.
func (s *AuthService) Refresh(ctx context.Context, token, ip string) (*AuthResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.refresh")
	if token == "" {
		s.metrics.Operation(metrics.OpRefresh, metrics.ResultUnauthorized)
		return nil, ErrUnauthorized
	}

	current, next, err := s.repo.RotateRefreshToken(ctx, token, ip)
	switch {
	case err == nil:
	case errors.Is(err, repo.ErrNotFound):
		l.Warn("refresh_failed", "status", 401, "reason", "unknown token")
		s.metrics.Operation(metrics.OpRefresh, metrics.ResultUnauthorized)
		return nil, ErrUnauthorized
	case errors.Is(err, repo.ErrTokenInactive):
		if current != nil && current.Reused() && s.reuseDetection {
			s.handleReuse(ctx, l, current, token, ip)
		} else {
			l.Warn("refresh_failed", "status", 401, "reason", "token expired or revoked")
		}
		s.metrics.Operation(metrics.OpRefresh, metrics.ResultUnauthorized)
		return nil, ErrUnauthorized
	default:
		return nil, s.fail(l, metrics.OpRefresh, err)
	}

	user, err := s.repo.FindUserByID(ctx, next.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Warn("refresh_failed", "status", 401, "reason", "user no longer exists")
			if _, rerr := s.repo.RevokeRefreshToken(ctx, next.Token, ip, nil); rerr != nil {
				l.Error("refresh_failed", "reason", "cannot revoke orphan token", "error", rerr)
			}
			s.metrics.Operation(metrics.OpRefresh, metrics.ResultUnauthorized)
			return nil, ErrUnauthorized
		}
		return nil, s.fail(l, metrics.OpRefresh, err)
	}

	res, err := s.result(user, next)
	if err != nil {
		return nil, s.fail(l, metrics.OpRefresh, err)
	}
	l.Info("refresh_successful", "user_id", user.ID)
	s.metrics.Operation(metrics.OpRefresh, metrics.ResultOK)
	s.publish(ctx, events.Event{Type: events.TypeTokenRefreshed, UserID: user.ID, Username: user.Username, IP: ip})
	return res, nil
}

func (s *AuthService) handleReuse(ctx context.Context, l *slog.Logger, current *models.RefreshToken, token, ip string) {
	n, err := s.repo.RevokeDescendants(ctx, token, ip)
	if err != nil {
		l.Error("refresh_reuse_detected", "user_id", current.UserID, "reason", "cannot revoke descendants", "error", err)
	} else {
		l.Warn("refresh_reuse_detected", "user_id", current.UserID, "revoked", n)
	}
	s.metrics.Reuse()
	s.metrics.Revoked(n)
	s.publish(ctx, events.Event{Type: events.TypeRefreshReuse, UserID: current.UserID, IP: ip, Revoked: n})
}

// RevokeOne reports true only when the token existed and was active.
func (s *AuthService) RevokeOne(ctx context.Context, token, ip string) (bool, error) {
	l := logging.FromContext(ctx).With("svc", "auth.revoke")
	if token == "" {
		return false, nil
	}
	wasActive, err := s.repo.RevokeRefreshToken(ctx, token, ip, nil)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.metrics.Operation(metrics.OpRevoke, metrics.ResultInvalid)
			return false, nil
		}
		return false, s.fail(l, metrics.OpRevoke, err)
	}
	if wasActive {
		s.metrics.Revoked(1)
		s.metrics.Operation(metrics.OpRevoke, metrics.ResultOK)
	} else {
		s.metrics.Operation(metrics.OpRevoke, metrics.ResultInvalid)
	}
	return wasActive, nil
}

// Logout revokes token without revealing whether it was valid.
func (s *AuthService) Logout(ctx context.Context, token, ip string) error {
	l := logging.FromContext(ctx).With("svc", "auth.logout")
	if token == "" {
		return nil
	}
	wasActive, err := s.repo.RevokeRefreshToken(ctx, token, ip, nil)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.metrics.Operation(metrics.OpLogout, metrics.ResultOK)
			return nil
		}
		return s.fail(l, metrics.OpLogout, err)
	}
	if wasActive {
		s.metrics.Revoked(1)
	}
	l.Info("successful_logout")
	s.metrics.Operation(metrics.OpLogout, metrics.ResultOK)
	s.publish(ctx, events.Event{Type: events.TypeUserLoggedOut, IP: ip})
	return nil
}

func (s *AuthService) RevokeAll(ctx context.Context, userID uint, ip string) (int64, error) {
	l := logging.FromContext(ctx).With("svc", "auth.revoke_all", "user_id", userID)
	n, err := s.repo.RevokeAllForUser(ctx, userID, ip)
	if err != nil {
		return 0, s.fail(l, metrics.OpRevokeAll, err)
	}
	l.Info("tokens_revoked", "revoked", n)
	s.metrics.Revoked(n)
	s.metrics.Operation(metrics.OpRevokeAll, metrics.ResultOK)
	s.publish(ctx, events.Event{Type: events.TypeTokensRevoked, UserID: userID, IP: ip, Revoked: n})
	return n, nil
}

func (s *AuthService) ChangePassword(ctx context.Context, userID uint, in ChangePasswordInput) (bool, error) {
	l := logging.FromContext(ctx).With("svc", "auth.change_password", "user_id", userID)

	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.metrics.Operation(metrics.OpChangePassword, metrics.ResultUnauthorized)
			return false, ErrUnauthorized
		}
		return false, s.fail(l, metrics.OpChangePassword, err)
	}
	if in.CurrentPassword == "" || !s.hasher.Verify(in.CurrentPassword, user.PasswordHash) {
		l.Warn("change_password_failed", "status", 401, "reason", "wrong current password")
		s.metrics.Operation(metrics.OpChangePassword, metrics.ResultUnauthorized)
		return false, ErrUnauthorized
	}
	if err := credentials.ValidatePassword(in.NewPassword, in.ConfirmNewPassword); err != nil {
		s.metrics.Operation(metrics.OpChangePassword, metrics.ResultInvalid)
		return false, invalid("newPassword", err)
	}

	pwHash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		l.Error("change_password_failed", "status", 500, "reason", "cannot hash the password", "error", err)
		s.metrics.Operation(metrics.OpChangePassword, metrics.ResultError)
		return false, ErrInternal
	}
	if err := s.repo.UpdatePassword(ctx, userID, pwHash, s.now().UTC()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.metrics.Operation(metrics.OpChangePassword, metrics.ResultUnauthorized)
			return false, ErrUnauthorized
		}
		return false, s.fail(l, metrics.OpChangePassword, err)
	}

	l.Info("password_changed")
	s.metrics.Operation(metrics.OpChangePassword, metrics.ResultOK)
	s.publish(ctx, events.Event{Type: events.TypePasswordChanged, UserID: userID, Username: user.Username})
	return true, nil
}

func (s *AuthService) CurrentUser(ctx context.Context, userID uint) (*UserView, error) {
	l := logging.FromContext(ctx).With("svc", "auth.me", "user_id", userID)
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		l.Error("me_failed", "error", err)
		return nil, storeKind(err)
	}
	v := viewOf(user)
	return &v, nil
}

// VerifyAccess parses an access token for the HTTP layer.
func (s *AuthService) VerifyAccess(token string) (*tokens.AccessClaims, error) {
	claims, err := s.minter.Parse(token)
	if err != nil {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

func (s *AuthService) result(user *models.User, refresh *models.RefreshToken) (*AuthResult, error) {
	access, accessExp, err := s.minter.Mint(user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		AccessToken:        access,
		AccessTokenExpiry:  accessExp,
		RefreshToken:       refresh.Token,
		RefreshTokenExpiry: refresh.ExpiresAt,
		User:               viewOf(user),
	}, nil
}

// fail logs the cause and returns only its kind.
func (s *AuthService) fail(l *slog.Logger, op string, err error) error {
	kind := storeKind(err)
	status := 500
	if errors.Is(kind, ErrStoreUnavailable) {
		status = 503
	}
	l.Error(op+"_failed", "status", status, "error", err)
	s.metrics.Operation(op, metrics.ResultError)
	return kind
}

func storeKind(err error) error {
	switch {
	case errors.Is(err, repo.ErrUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return ErrStoreUnavailable
	default:
		return ErrInternal
	}
}

func (s *AuthService) publish(ctx context.Context, e events.Event) {
	if e.At.IsZero() {
		e.At = s.now().UTC()
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventTimeout)
	defer cancel()
	if err := s.events.Publish(pctx, e); err != nil {
		logging.FromContext(ctx).Warn("event_publish_failed", "type", e.Type, "error", err)
	}
}
