package models

import (
	"time"
)

type User struct {
	ID                 uint       `gorm:"primaryKey;autoIncrement"           json:"id"`
	Username           string     `gorm:"size:100;not null"                  json:"username"`
	Email              string     `gorm:"size:255;not null"                  json:"email"`
	NormalizedUsername string     `gorm:"size:100;not null;uniqueIndex"      json:"-"`
	NormalizedEmail    string     `gorm:"size:255;not null;uniqueIndex"      json:"-"`
	PasswordHash       string     `gorm:"not null"                           json:"-"`
	Role               Role       `gorm:"type:varchar(20);not null"          json:"role"`
	CreatedAt          time.Time  `gorm:"not null"                           json:"created_at"`
	UpdatedAt          *time.Time `gorm:"autoUpdateTime:false"               json:"updated_at,omitempty"`
}

type RefreshToken struct {
	ID           uint       `gorm:"primaryKey;autoIncrement"           json:"id"`
	TokenHash    string     `gorm:"size:64;not null;uniqueIndex"       json:"-"`
	UserID       uint       `gorm:"not null;index:idx_user_revoked"    json:"user_id"`
	ExpiresAt    time.Time  `gorm:"not null;index"                     json:"expires_at"`
	Revoked      bool       `gorm:"not null;index:idx_user_revoked"    json:"revoked"`
	CreatedAt    time.Time  `gorm:"not null"                           json:"created_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	CreatedByIP  string     `gorm:"size:64"                            json:"created_by_ip,omitempty"`
	RevokedByIP  string     `gorm:"size:64"                            json:"revoked_by_ip,omitempty"`
	ReplacedByID *uint      `gorm:"index"                              json:"replaced_by_id,omitempty"`

	// Token is the opaque value handed to the client. Only the hash is persisted.
	Token string `gorm:"-" json:"-"`
}

// IsActive reports whether the token can still be exchanged at now.
// A token whose expiry equals now is still active.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.Revoked && !now.After(t.ExpiresAt)
}

// Reused reports whether the token was rotated away, which makes presenting it again suspicious.
func (t *RefreshToken) Reused() bool {
	return t.Revoked && t.ReplacedByID != nil
}

func All() []any {
	return []any{&User{}, &RefreshToken{}}
}
