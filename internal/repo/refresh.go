package repo

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Skotchmaster/shop_auth/internal/models"
)

const refreshTokenBytes = 64

// maxChainWalk bounds descendant walks so a corrupted link cycle cannot spin forever.
const maxChainWalk = 10000

func Sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (r *GormRepo) newTokenString() (string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := io.ReadFull(r.random(), b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// IssueRefreshToken persists a fresh token for userID. The returned record carries the
// plaintext in Token; it is not recoverable afterwards.
func (r *GormRepo) IssueRefreshToken(ctx context.Context, userID uint, ip string) (*models.RefreshToken, error) {
	var tok *models.RefreshToken
	err := r.InTx(ctx, func(tx *GormRepo) error {
		var err error
		tok, err = tx.issue(ctx, userID, ip)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// issue must run inside a transaction: each attempt gets its own savepoint so a collision
// does not poison the enclosing transaction.
func (r *GormRepo) issue(ctx context.Context, userID uint, ip string) (*models.RefreshToken, error) {
	now := r.now()
	for attempt := 1; attempt <= r.attempts(); attempt++ {
		raw, err := r.newTokenString()
		if err != nil {
			return nil, err
		}
		tok := &models.RefreshToken{
			TokenHash:   Sha256Hex(raw),
			UserID:      userID,
			ExpiresAt:   now.Add(r.refreshTTL()),
			CreatedAt:   now,
			CreatedByIP: ip,
			Token:       raw,
		}
		err = r.DB.WithContext(ctx).Transaction(func(sp *gorm.DB) error {
			return sp.Create(tok).Error
		})
		if err == nil {
			return tok, nil
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
	}
	return nil, ErrTokenConflict
}

// FindRefreshToken is an exact-match lookup in any state; callers check IsActive.
func (r *GormRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	var tok models.RefreshToken
	err := r.retry(ctx, func() error {
		return r.DB.WithContext(ctx).Where("token_hash = ?", Sha256Hex(token)).First(&tok).Error
	})
	if err != nil {
		return nil, notFound(err)
	}
	return &tok, nil
}

func (r *GormRepo) FindRefreshTokenByID(ctx context.Context, id uint) (*models.RefreshToken, error) {
	var tok models.RefreshToken
	err := r.retry(ctx, func() error {
		return r.DB.WithContext(ctx).First(&tok, id).Error
	})
	if err != nil {
		return nil, notFound(err)
	}
	return &tok, nil
}

func (r *GormRepo) locked(ctx context.Context) *gorm.DB {
	q := r.DB.WithContext(ctx)
	if r.DB.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func (r *GormRepo) lockByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	var tok models.RefreshToken
	if err := r.locked(ctx).Where("token_hash = ?", tokenHash).First(&tok).Error; err != nil {
		return nil, notFound(err)
	}
	return &tok, nil
}

// revoke flips tok to revoked only if nobody beat us to it.
func (r *GormRepo) revoke(ctx context.Context, tok *models.RefreshToken, ip string, replacedBy *uint) error {
	now := r.now()
	updates := map[string]any{
		"revoked":       true,
		"revoked_at":    now,
		"revoked_by_ip": ip,
	}
	if replacedBy != nil {
		updates["replaced_by_id"] = *replacedBy
	}
	res := r.DB.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("id = ? AND revoked = ?", tok.ID, false).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrTokenInactive
	}
	tok.Revoked = true
	tok.RevokedAt = &now
	tok.RevokedByIP = ip
	if replacedBy != nil {
		tok.ReplacedByID = replacedBy
	}
	return nil
}

// RevokeRefreshToken marks token revoked. It reports whether the token was active
// beforehand; revoking an already revoked token changes nothing.
func (r *GormRepo) RevokeRefreshToken(ctx context.Context, token, ip string, replacedBy *uint) (bool, error) {
	var wasActive bool
	err := r.InTx(ctx, func(tx *GormRepo) error {
		tok, err := tx.lockByHash(ctx, Sha256Hex(token))
		if err != nil {
			return err
		}
		wasActive = tok.IsActive(tx.now())
		if tok.Revoked {
			return nil
		}
		if err := tx.revoke(ctx, tok, ip, replacedBy); err != nil {
			if errors.Is(err, ErrTokenInactive) {
				wasActive = false
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return wasActive, nil
}

// RotateRefreshToken revokes token and issues its successor atomically. On
// ErrTokenInactive the current record is still returned so the caller can tell a replay
// from a plain expiry.
func (r *GormRepo) RotateRefreshToken(ctx context.Context, token, ip string) (current, next *models.RefreshToken, err error) {
	err = r.InTx(ctx, func(tx *GormRepo) error {
		cur, err := tx.lockByHash(ctx, Sha256Hex(token))
		if err != nil {
			return err
		}
		current = cur
		if !cur.IsActive(tx.now()) {
			return ErrTokenInactive
		}
		successor, err := tx.issue(ctx, cur.UserID, ip)
		if err != nil {
			return err
		}
		if err := tx.revoke(ctx, cur, ip, &successor.ID); err != nil {
			return err
		}
		next = successor
		return nil
	})
	if err != nil {
		return current, nil, err
	}
	return current, next, nil
}

// RevokeDescendants follows the replaced-by links starting at token and revokes every
// successor that is still unrevoked. It returns how many were revoked.
func (r *GormRepo) RevokeDescendants(ctx context.Context, token, ip string) (int64, error) {
	var revoked int64
	err := r.InTx(ctx, func(tx *GormRepo) error {
		revoked = 0
		start, err := tx.lockByHash(ctx, Sha256Hex(token))
		if err != nil {
			return err
		}
		seen := map[uint]bool{start.ID: true}
		next := start.ReplacedByID
		for next != nil && len(seen) < maxChainWalk {
			if seen[*next] {
				break
			}
			seen[*next] = true

			var tok models.RefreshToken
			if err := tx.locked(ctx).First(&tok, *next).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					break
				}
				return err
			}
			if !tok.Revoked {
				if err := tx.revoke(ctx, &tok, ip, nil); err != nil && !errors.Is(err, ErrTokenInactive) {
					return err
				}
				revoked++
			}
			next = tok.ReplacedByID
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return revoked, nil
}

// RevokeAllForUser revokes every active token of the user.
func (r *GormRepo) RevokeAllForUser(ctx context.Context, userID uint, ip string) (int64, error) {
	var n int64
	err := r.retry(ctx, func() error {
		now := r.now()
		res := r.DB.WithContext(ctx).Model(&models.RefreshToken{}).
			Where("user_id = ? AND revoked = ? AND expires_at >= ?", userID, false, now).
			Updates(map[string]any{
				"revoked":       true,
				"revoked_at":    now,
				"revoked_by_ip": ip,
			})
		if res.Error != nil {
			return res.Error
		}
		n = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *GormRepo) CountActiveForUser(ctx context.Context, userID uint) (int64, error) {
	var n int64
	err := r.retry(ctx, func() error {
		return r.DB.WithContext(ctx).Model(&models.RefreshToken{}).
			Where("user_id = ? AND revoked = ? AND expires_at >= ?", userID, false, r.now()).
			Count(&n).Error
	})
	return n, err
}

// PurgeExpired deletes tokens whose expiry is before cutoff, revoked or not.
func (r *GormRepo) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.retry(ctx, func() error {
		res := r.DB.WithContext(ctx).
			Where("expires_at < ?", cutoff.UTC()).
			Delete(&models.RefreshToken{})
		if res.Error != nil {
			return res.Error
		}
		n = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
