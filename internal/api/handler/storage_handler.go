package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/veridocs/mirror-be/internal/api/dto"
	"github.com/veridocs/mirror-be/internal/domain"
)

// GetAuthURL handles GET /api/v1/storage/:provider/auth-url
// Builds the vendor authorization URL carrying a signed state token
func (h *StorageHandler) GetAuthURL(c *gin.Context) {
	providerName := c.Param("provider")
	clientID := c.Query("client_id")
	if clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "client_id is required",
		})
		return
	}

	driver, err := h.registry.Get(providerName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown provider: " + providerName,
		})
		return
	}

	state, err := h.stateSigner.Issue(clientID, providerName)
	if err != nil {
		h.logger.Error("Failed to issue state token", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to build authorization URL",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"provider": providerName,
		"auth_url": driver.AuthCodeURL(state),
	})
}

// Callback handles GET /oauth/callback/:provider
// Completes the connect flow: verifies state, exchanges the code,
// persists the encrypted token set and sends the browser back to the
// frontend. The vendor redirect cannot carry the API key, so every
// failure here is a plain validation response
func (h *StorageHandler) Callback(c *gin.Context) {
	providerName := c.Param("provider")
	state := c.Query("state")
	code := c.Query("code")

	if errParam := c.Query("error"); errParam != "" {
		h.logger.Warn("Vendor returned an authorization error",
			slog.String("provider", providerName),
			slog.String("error", errParam),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "authorization denied: " + errParam,
		})
		return
	}

	if state == "" || code == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "state and code are required",
		})
		return
	}

	driver, err := h.registry.Get(providerName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown provider: " + providerName,
		})
		return
	}

	clientID, err := h.stateSigner.Verify(state, providerName)
	if err != nil {
		h.logger.Warn("State verification failed",
			slog.String("provider", providerName),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid state",
		})
		return
	}

	token, err := driver.Exchange(c.Request.Context(), code)
	if err != nil {
		h.logger.Error("Code exchange failed",
			slog.String("provider", providerName),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "code exchange failed",
		})
		return
	}

	encryptedAccess, err := h.cipher.Encrypt(token.AccessToken)
	if err != nil {
		h.logger.Error("Failed to encrypt access token", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store connection",
		})
		return
	}

	var encryptedRefresh *string
	if token.RefreshToken != "" {
		enc, err := h.cipher.Encrypt(token.RefreshToken)
		if err != nil {
			h.logger.Error("Failed to encrypt refresh token", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to store connection",
			})
			return
		}
		encryptedRefresh = &enc
	}

	// Account lookup is best-effort; a connection without it still works
	accountID, err := driver.AccountID(c.Request.Context(), token.AccessToken)
	if err != nil {
		h.logger.Warn("Failed to resolve provider account",
			slog.String("provider", providerName),
			slog.String("error", err.Error()),
		)
	}

	now := time.Now()
	conn := domain.Connection{
		ID:                uuid.New().String(),
		ClientID:          clientID,
		Provider:          providerName,
		Status:            domain.ConnectionStatusConnected,
		AccessToken:       encryptedAccess,
		RefreshToken:      encryptedRefresh,
		ProviderAccountID: accountID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if !token.ExpiresAt.IsZero() {
		expiresAt := token.ExpiresAt
		conn.ExpiresAt = &expiresAt
	}

	if err := h.connections.Upsert(c.Request.Context(), &conn); err != nil {
		h.logger.Error("Failed to persist connection", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store connection",
		})
		return
	}

	h.logger.Info("Storage connection established",
		slog.String("client_id", clientID),
		slog.String("provider", providerName),
	)

	c.Redirect(http.StatusFound, h.frontendRedirect(providerName))
}

// frontendRedirect builds the post-callback browser destination,
// tagging the connected provider onto the configured frontend URL.
func (h *StorageHandler) frontendRedirect(providerName string) string {
	target, err := url.Parse(h.frontendURL)
	if err != nil {
		return h.frontendURL
	}

	q := target.Query()
	q.Set("connected", providerName)
	target.RawQuery = q.Encode()
	return target.String()
}

// ListConnections handles GET /api/v1/storage/connections
// Lists a client's connections without any token material
func (h *StorageHandler) ListConnections(c *gin.Context) {
	clientID := c.Query("client_id")
	if clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "client_id is required",
		})
		return
	}

	conns, err := h.connections.ListByClient(c.Request.Context(), clientID)
	if err != nil {
		h.logger.Error("Failed to list connections", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list connections",
		})
		return
	}

	response := make([]dto.ConnectionDTO, len(conns))
	for i := range conns {
		response[i] = dto.NewConnectionDTO(&conns[i])
	}

	c.JSON(http.StatusOK, dto.ListConnectionsResponse{Connections: response})
}

// RevokeConnection handles DELETE /api/v1/storage/connections/:provider
// Marks the connection revoked and clears its stored tokens
func (h *StorageHandler) RevokeConnection(c *gin.Context) {
	providerName := c.Param("provider")
	clientID := c.Query("client_id")
	if clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "client_id is required",
		})
		return
	}

	conn, err := h.connections.GetByClientProvider(c.Request.Context(), clientID, providerName)
	if err != nil {
		if errors.Is(err, domain.ErrConnectionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Connection not found",
			})
			return
		}
		h.logger.Error("Failed to get connection", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to revoke connection",
		})
		return
	}

	if err := h.connections.SetStatus(c.Request.Context(), conn.ID, domain.ConnectionStatusRevoked); err != nil {
		h.logger.Error("Failed to revoke connection", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to revoke connection",
		})
		return
	}

	h.logger.Info("Storage connection revoked",
		slog.String("client_id", clientID),
		slog.String("provider", providerName),
	)

	c.Status(http.StatusNoContent)
}
