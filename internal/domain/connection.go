package domain

import "time"

// Connection status constants
const (
	ConnectionStatusConnected = "connected"
	ConnectionStatusError     = "error"
	ConnectionStatusRevoked   = "revoked"
)

// Connection is a client's authorized link to one external storage
// vendor. AccessToken and RefreshToken hold ciphertext only; plaintext
// tokens never leave the cipher boundary.
type Connection struct {
	ID                string     `db:"id"`
	ClientID          string     `db:"client_id"`
	Provider          string     `db:"provider"`
	Status            string     `db:"status"`
	AccessToken       string     `db:"access_token"`
	RefreshToken      *string    `db:"refresh_token"`
	ExpiresAt         *time.Time `db:"expires_at"`
	Scope             string     `db:"scope"`
	ProviderAccountID string     `db:"provider_account_id"`
	RootFolderID      *string    `db:"root_folder_id"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}
