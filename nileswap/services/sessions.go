package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/pharaohsoft/nileswap/nileswap/database/models"
	"github.com/pharaohsoft/nileswap/nileswap/swap"
)

// SessionService resolves session tokens to player ids. Sessions are
// issued by the login flow, which lives outside this service.
type SessionService struct {
	db *bun.DB
}

func NewSessionService(db *bun.DB) *SessionService {
	return &SessionService{db: db}
}

// Validate returns the player behind the token, or ErrUnauthenticated
// for unknown and expired tokens alike.
func (s *SessionService) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", swap.ErrUnauthenticated
	}

	session := new(models.Session)
	err := s.db.NewSelect().
		Model(session).
		Where("token = ? AND expires_at > ?", token, time.Now()).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", swap.ErrUnauthenticated
		}
		return "", fmt.Errorf("failed to validate session: %w", err)
	}
	return session.PlayerID, nil
}
