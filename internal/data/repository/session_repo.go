package repository

import (
	"context"
	"errors"
	"fmt"

	"tutoring-booking/internal/data/entity"
	"tutoring-booking/pkg/database"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// SessionRepository reads sessions issued by the auth service.
type SessionRepository interface {
	FindValidSession(ctx context.Context, token string) (*entity.Session, error)
}

type sessionRepository struct {
	db  database.PgxIface
	log *zap.Logger
}

func NewSessionRepository(db database.PgxIface, log *zap.Logger) SessionRepository {
	return &sessionRepository{
		db:  db,
		log: log.With(zap.String("repository", "session")),
	}
}

// FindValidSession returns the unrevoked, unexpired session for token along
// with its owner's role, or ErrNotFound.
func (r *sessionRepository) FindValidSession(ctx context.Context, token string) (*entity.Session, error) {
	query := `
		SELECT s.id, s.user_id, s.token, u.role, s.expires_at, s.revoked_at, s.created_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token = $1
		  AND s.revoked_at IS NULL
		  AND s.expires_at > NOW()
	`

	var session entity.Session
	err := r.db.QueryRow(ctx, query, token).Scan(
		&session.ID,
		&session.UserID,
		&session.Token,
		&session.Role,
		&session.ExpiresAt,
		&session.RevokedAt,
		&session.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session: %w", entity.ErrNotFound)
	}
	if err != nil {
		r.log.Error("Failed to find valid session", zap.Error(err))
		return nil, fmt.Errorf("find session: %w", err)
	}

	return &session, nil
}
