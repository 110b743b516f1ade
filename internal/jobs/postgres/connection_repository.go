package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/veridocs/mirror-be/internal/domain"
	"github.com/veridocs/mirror-be/shared/postgresql"
)

const connectionColumns = `
	id, client_id, provider, status, access_token, refresh_token,
	expires_at, scope, provider_account_id, root_folder_id,
	created_at, updated_at
`

// ConnectionRepository persists storage connections.
type ConnectionRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewConnectionRepository creates a new ConnectionRepository instance.
func NewConnectionRepository(pg *postgresql.Client, logger *slog.Logger) *ConnectionRepository {
	return &ConnectionRepository{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// Upsert inserts a connection or, when the client already has one for
// the provider, replaces its tokens and reactivates it. Reconnecting
// after an error or a revoke is the same flow as connecting fresh.
func (r *ConnectionRepository) Upsert(ctx context.Context, conn *domain.Connection) error {
	query := `
		INSERT INTO connections (
			id, client_id, provider, status, access_token, refresh_token,
			expires_at, scope, provider_account_id, root_folder_id,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12
		)
		ON CONFLICT (client_id, provider) DO UPDATE SET
			status = EXCLUDED.status,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			scope = EXCLUDED.scope,
			provider_account_id = EXCLUDED.provider_account_id,
			root_folder_id = EXCLUDED.root_folder_id,
			updated_at = NOW()
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		conn.ID,
		conn.ClientID,
		conn.Provider,
		conn.Status,
		conn.AccessToken,
		conn.RefreshToken,
		conn.ExpiresAt,
		conn.Scope,
		conn.ProviderAccountID,
		conn.RootFolderID,
		conn.CreatedAt,
		conn.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}

	r.logger.Info("Connection upserted",
		slog.String("client_id", conn.ClientID),
		slog.String("provider", conn.Provider),
	)

	return nil
}

func (r *ConnectionRepository) GetByClientProvider(ctx context.Context, clientID, provider string) (*domain.Connection, error) {
	var conn domain.Connection
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE client_id = $1 AND provider = $2`

	err := r.db.GetContext(ctx, &conn, query, clientID, provider)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrConnectionNotFound
		}
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	return &conn, nil
}

func (r *ConnectionRepository) ListByClient(ctx context.Context, clientID string) ([]domain.Connection, error) {
	var conns []domain.Connection
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE client_id = $1 ORDER BY provider ASC`

	err := r.db.SelectContext(ctx, &conns, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	return conns, nil
}

// UpdateTokens stores freshly encrypted tokens after a refresh. A nil
// refreshToken keeps the stored one; vendors that do not rotate the
// refresh token return only a new access token.
func (r *ConnectionRepository) UpdateTokens(ctx context.Context, id, accessToken string, refreshToken *string, expiresAt *time.Time) error {
	query := `
		UPDATE connections
		SET access_token = $1,
		    refresh_token = COALESCE($2, refresh_token),
		    expires_at = $3,
		    updated_at = NOW()
		WHERE id = $4
	`

	result, err := r.db.ExecContext(ctx, query, accessToken, refreshToken, expiresAt, id)
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrConnectionNotFound
	}

	return nil
}

// SetStatus transitions the connection state. Revoking clears stored
// token ciphertext so revoked rows hold no secrets.
func (r *ConnectionRepository) SetStatus(ctx context.Context, id, status string) error {
	var query string
	if status == domain.ConnectionStatusRevoked {
		query = `
			UPDATE connections
			SET status = $1,
			    access_token = '',
			    refresh_token = NULL,
			    expires_at = NULL,
			    updated_at = NOW()
			WHERE id = $2
		`
	} else {
		query = `
			UPDATE connections
			SET status = $1,
			    updated_at = NOW()
			WHERE id = $2
		`
	}

	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to set connection status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrConnectionNotFound
	}

	r.logger.Info("Connection status updated",
		slog.String("connection_id", id),
		slog.String("status", status),
	)

	return nil
}
