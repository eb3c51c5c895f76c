package entity

import (
	"time"

	"github.com/google/uuid"
)

// Session is an auth session issued elsewhere; this service only reads it.
type Session struct {
	BaseSimple
	UserID    uuid.UUID  `db:"user_id"`
	Token     string     `db:"token"`
	Role      UserRole   `db:"role"`
	ExpiresAt time.Time  `db:"expires_at"`
	RevokedAt *time.Time `db:"revoked_at"`
}
