package repo

import (
	"context"
	"crypto/rand"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrUserExists    = errors.New("user already exist")
	ErrTokenInactive = errors.New("refresh token expired or revoked")
	ErrTokenConflict = errors.New("refresh token collision")
	ErrUnavailable   = errors.New("store unavailable")
)

const (
	DefaultRefreshTTL  = 7 * 24 * time.Hour
	DefaultMaxAttempts = 3

	retryBackoff = 20 * time.Millisecond
)

type GormRepo struct {
	DB *gorm.DB

	RefreshTTL  time.Duration
	MaxAttempts int
	Now         func() time.Time
	Rand        io.Reader

	inTx bool
}

func New(db *gorm.DB, refreshTTL time.Duration) *GormRepo {
	return &GormRepo{
		DB:          db,
		RefreshTTL:  refreshTTL,
		MaxAttempts: DefaultMaxAttempts,
		Now:         func() time.Time { return time.Now().UTC() },
		Rand:        rand.Reader,
	}
}

// InTx runs fn inside one transaction. Nested calls become savepoints. Transient failures
// of the outermost transaction are retried as a whole.
func (r *GormRepo) InTx(ctx context.Context, fn func(tx *GormRepo) error) error {
	return r.retry(ctx, func() error {
		return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(r.bind(tx))
		})
	})
}

func (r *GormRepo) bind(tx *gorm.DB) *GormRepo {
	c := *r
	c.DB = tx
	c.inTx = true
	return &c
}

func (r *GormRepo) retry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; attempt <= r.attempts(); attempt++ {
		err = op()
		if err == nil || r.inTx || !isTransient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (r *GormRepo) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *GormRepo) random() io.Reader {
	if r.Rand != nil {
		return r.Rand
	}
	return rand.Reader
}

func (r *GormRepo) attempts() int {
	if r.MaxAttempts > 0 {
		return r.MaxAttempts
	}
	return DefaultMaxAttempts
}

func (r *GormRepo) refreshTTL() time.Duration {
	if r.RefreshTTL > 0 {
		return r.RefreshTTL
	}
	return DefaultRefreshTTL
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isTransient reports failures worth retrying: serialization failures, deadlocks and
// dropped connections.
func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "40", "08":
			return true
		}
		return pqErr.Code == "57P01" || pqErr.Code == "53300"
	}
	return false
}
