package dto

import (
	"time"

	"github.com/veridocs/mirror-be/internal/domain"
)

// ConnectionDTO is the external view of a connection. Token fields are
// deliberately absent; ciphertext never leaves the service.
type ConnectionDTO struct {
	ID                string  `json:"id"`
	Provider          string  `json:"provider"`
	Status            string  `json:"status"`
	Scope             string  `json:"scope,omitempty"`
	ProviderAccountID string  `json:"provider_account_id,omitempty"`
	ExpiresAt         *string `json:"expires_at,omitempty"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

type ListConnectionsResponse struct {
	Connections []ConnectionDTO `json:"connections"`
}

func NewConnectionDTO(conn *domain.Connection) ConnectionDTO {
	dto := ConnectionDTO{
		ID:                conn.ID,
		Provider:          conn.Provider,
		Status:            conn.Status,
		Scope:             conn.Scope,
		ProviderAccountID: conn.ProviderAccountID,
		CreatedAt:         conn.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         conn.UpdatedAt.Format(time.RFC3339),
	}
	if conn.ExpiresAt != nil {
		expires := conn.ExpiresAt.Format(time.RFC3339)
		dto.ExpiresAt = &expires
	}
	return dto
}
