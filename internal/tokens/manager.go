// Package tokens wraps provider driver calls with expiry-aware token
// refresh. Plaintext tokens exist only in memory for the duration of a
// single operation; everything persisted goes through the cipher.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/veridocs/mirror-be/internal/cryptox"
	"github.com/veridocs/mirror-be/internal/domain"
	"github.com/veridocs/mirror-be/internal/provider"
)

// RefreshBuffer is how close to expiry a token may get before it is
// refreshed proactively.
const RefreshBuffer = 5 * time.Minute

var (
	// ErrNoRefreshToken is returned when a refresh is required but the
	// connection holds no refresh token. The connection needs a fresh
	// OAuth authorization.
	ErrNoRefreshToken = errors.New("connection has no refresh token")

	// ErrConnectionCorrupted is returned when stored ciphertext cannot
	// be decrypted. The connection has been flipped to error status.
	ErrConnectionCorrupted = errors.New("connection tokens are corrupted")
)

// Manager executes driver operations with a valid access token:
// proactive refresh when the token is about to expire, and one reactive
// refresh-and-retry on a vendor 401.
type Manager struct {
	cipher   *cryptox.Cipher
	conns    domain.ConnectionRepository
	registry *provider.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager creates a Manager.
func NewManager(cipher *cryptox.Cipher, conns domain.ConnectionRepository, registry *provider.Registry, logger *slog.Logger) *Manager {
	return &Manager{
		cipher:   cipher,
		conns:    conns,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

// UploadFile uploads through the connection's driver with a valid
// access token.
func (m *Manager) UploadFile(
	ctx context.Context, conn *domain.Connection, data []byte, filename, mimeType string,
) (*provider.RemoteFile, error) {
	driver, err := m.registry.Get(conn.Provider)
	if err != nil {
		return nil, err
	}

	access, refresh, err := m.decryptTokens(ctx, conn)
	if err != nil {
		return nil, err
	}

	if m.isExpiring(conn) {
		m.logger.Info("access token expiring, refreshing proactively",
			slog.String("connection_id", conn.ID),
			slog.String("provider", conn.Provider),
		)

		access, refresh, err = m.refresh(ctx, driver, conn, refresh)
		if err != nil {
			return nil, err
		}
	}

	file, err := driver.Upload(ctx, access, data, filename, mimeType)
	if err == nil {
		return file, nil
	}

	if !errors.Is(err, provider.ErrUnauthorized) {
		return nil, err
	}

	// Vendor rejected the token. Refresh exactly once and retry the
	// operation exactly once; a second failure propagates unmodified.
	m.logger.Warn("vendor rejected access token, refreshing and retrying",
		slog.String("connection_id", conn.ID),
		slog.String("provider", conn.Provider),
	)

	access, _, err = m.refresh(ctx, driver, conn, refresh)
	if err != nil {
		return nil, err
	}

	return driver.Upload(ctx, access, data, filename, mimeType)
}

// isExpiring reports whether the stored token expires within the
// refresh buffer. Connections without an expiry are never proactively
// refreshed.
func (m *Manager) isExpiring(conn *domain.Connection) bool {
	if conn.ExpiresAt == nil {
		return false
	}
	return conn.ExpiresAt.Sub(m.now()) < RefreshBuffer
}

// decryptTokens opens the stored ciphertext. Any malformed or tampered
// value flips the connection to error status and fails closed.
func (m *Manager) decryptTokens(ctx context.Context, conn *domain.Connection) (access, refresh string, err error) {
	access, err = m.cipher.Decrypt(conn.AccessToken)
	if err != nil {
		return "", "", m.markCorrupted(ctx, conn, err)
	}

	if conn.RefreshToken != nil {
		refresh, err = m.cipher.Decrypt(*conn.RefreshToken)
		if err != nil {
			return "", "", m.markCorrupted(ctx, conn, err)
		}
	}

	return access, refresh, nil
}

func (m *Manager) markCorrupted(ctx context.Context, conn *domain.Connection, cause error) error {
	m.logger.Error("stored connection tokens failed to decrypt",
		slog.String("connection_id", conn.ID),
		slog.String("provider", conn.Provider),
		slog.String("error", cause.Error()),
	)

	if updateErr := m.conns.SetStatus(ctx, conn.ID, domain.ConnectionStatusError); updateErr != nil {
		m.logger.Error("failed to mark connection as errored",
			slog.String("connection_id", conn.ID),
			slog.String("error", updateErr.Error()),
		)
	}
	conn.Status = domain.ConnectionStatusError

	return fmt.Errorf("%w: %w", ErrConnectionCorrupted, cause)
}

// refresh exchanges the refresh token for a new token set, persists the
// re-encrypted result, and returns the plaintext for immediate use. On
// failure the connection is flipped to error status and the error is
// raised; the caller must not continue with the stale token.
func (m *Manager) refresh(
	ctx context.Context, driver provider.Driver, conn *domain.Connection, refreshPlain string,
) (access, refresh string, err error) {
	if refreshPlain == "" {
		return "", "", m.markRefreshFailed(ctx, conn, ErrNoRefreshToken)
	}

	tok, err := driver.Refresh(ctx, refreshPlain)
	if err != nil {
		return "", "", m.markRefreshFailed(ctx, conn, err)
	}

	accessCipher, err := m.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return "", "", fmt.Errorf("failed to encrypt refreshed access token: %w", err)
	}

	// Vendors that do not rotate the refresh token leave it empty; keep
	// the stored one in that case.
	newRefreshPlain := refreshPlain
	var refreshCipher *string
	if tok.RefreshToken != "" {
		newRefreshPlain = tok.RefreshToken
		rc, encErr := m.cipher.Encrypt(tok.RefreshToken)
		if encErr != nil {
			return "", "", fmt.Errorf("failed to encrypt refreshed refresh token: %w", encErr)
		}
		refreshCipher = &rc
	} else if conn.RefreshToken != nil {
		refreshCipher = conn.RefreshToken
	}

	expiresAt := tok.ExpiresAt
	if err := m.conns.UpdateTokens(ctx, conn.ID, accessCipher, refreshCipher, &expiresAt); err != nil {
		return "", "", fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	conn.AccessToken = accessCipher
	conn.RefreshToken = refreshCipher
	conn.ExpiresAt = &expiresAt

	m.logger.Info("connection tokens refreshed",
		slog.String("connection_id", conn.ID),
		slog.String("provider", conn.Provider),
		slog.Time("expires_at", expiresAt),
	)

	return tok.AccessToken, newRefreshPlain, nil
}

func (m *Manager) markRefreshFailed(ctx context.Context, conn *domain.Connection, cause error) error {
	m.logger.Error("token refresh failed",
		slog.String("connection_id", conn.ID),
		slog.String("provider", conn.Provider),
		slog.String("error", cause.Error()),
	)

	if updateErr := m.conns.SetStatus(ctx, conn.ID, domain.ConnectionStatusError); updateErr != nil {
		m.logger.Error("failed to mark connection as errored",
			slog.String("connection_id", conn.ID),
			slog.String("error", updateErr.Error()),
		)
	}
	conn.Status = domain.ConnectionStatusError

	return fmt.Errorf("token refresh failed: %w", cause)
}
