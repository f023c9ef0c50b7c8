package repo

import (
	"context"
	"time"

	"github.com/Skotchmaster/shop_auth/internal/models"
)

// CreateUser inserts u. NormalizedUsername and NormalizedEmail must already be set.
func (r *GormRepo) CreateUser(ctx context.Context, u *models.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = r.now()
	}
	return r.retry(ctx, func() error {
		if err := r.DB.WithContext(ctx).Create(u).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrUserExists
			}
			return err
		}
		return nil
	})
}

func (r *GormRepo) UserTaken(ctx context.Context, normalizedUsername, normalizedEmail string) (bool, error) {
	var count int64
	err := r.retry(ctx, func() error {
		return r.DB.WithContext(ctx).Model(&models.User{}).
			Where("normalized_username = ? OR normalized_email = ?", normalizedUsername, normalizedEmail).
			Count(&count).Error
	})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormRepo) FindUserByID(ctx context.Context, id uint) (*models.User, error) {
	return r.findUser(ctx, "id = ?", id)
}

func (r *GormRepo) FindUserByUsername(ctx context.Context, normalized string) (*models.User, error) {
	return r.findUser(ctx, "normalized_username = ?", normalized)
}

func (r *GormRepo) FindUserByEmail(ctx context.Context, normalized string) (*models.User, error) {
	return r.findUser(ctx, "normalized_email = ?", normalized)
}

func (r *GormRepo) findUser(ctx context.Context, query string, arg any) (*models.User, error) {
	var user models.User
	err := r.retry(ctx, func() error {
		return r.DB.WithContext(ctx).Where(query, arg).First(&user).Error
	})
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (r *GormRepo) UpdatePassword(ctx context.Context, userID uint, passwordHash string, at time.Time) error {
	return r.retry(ctx, func() error {
		res := r.DB.WithContext(ctx).Model(&models.User{}).
			Where("id = ?", userID).
			Updates(map[string]any{"password_hash": passwordHash, "updated_at": at})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
