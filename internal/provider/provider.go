// Package provider abstracts external storage vendors behind a driver
// interface: OAuth code exchange, token refresh, and file upload with
// automatic direct/chunked path selection.
package provider

import (
	"context"
	"time"
)

// Provider names. The registry maps these to driver instances.
const (
	NameDrive = "drive"
	NameGraph = "graph"
)

const (
	// DirectUploadMaxSize is the threshold below which a file is sent
	// with a single direct request. Files at or above it go through a
	// chunked upload session.
	DirectUploadMaxSize = 4 * 1024 * 1024

	// chunkAlignment is the required alignment for chunk sizes (320 KiB).
	chunkAlignment = 320 * 1024

	// UploadChunkSize is the fixed chunk size for session uploads,
	// 10 aligned units (~3.2 MB).
	UploadChunkSize = 10 * chunkAlignment
)

// Token is a plaintext token set returned by exchange or refresh.
// RefreshToken is empty when the vendor did not rotate it.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// RemoteFile describes an uploaded file at the vendor.
// DriveID is only populated by graph-style vendors.
type RemoteFile struct {
	ID      string
	WebURL  string
	DriveID string
}

// Driver is implemented once per storage vendor.
type Driver interface {
	Name() string

	// AuthCodeURL builds the vendor authorization URL carrying the
	// signed state parameter.
	AuthCodeURL(state string) string

	// Exchange swaps an authorization code for a token set.
	Exchange(ctx context.Context, code string) (*Token, error)

	// Refresh obtains a new access token from a refresh token.
	Refresh(ctx context.Context, refreshToken string) (*Token, error)

	// Upload stores a file at the vendor. Files under
	// DirectUploadMaxSize use a single direct call; larger ones go
	// through a chunked upload session.
	Upload(ctx context.Context, accessToken string, data []byte, filename, mimeType string) (*RemoteFile, error)

	// AccountID fetches the vendor-side account identifier. Best-effort:
	// callers tolerate failure.
	AccountID(ctx context.Context, accessToken string) (string, error)
}

// Registry maps provider names to driver instances. Built once at
// startup and passed by reference; an unknown name is a configuration
// error, never a retry target.
type Registry struct {
	drivers map[string]Driver
}

// NewRegistry builds a registry from the given drivers.
func NewRegistry(drivers ...Driver) *Registry {
	m := make(map[string]Driver, len(drivers))
	for _, d := range drivers {
		m[d.Name()] = d
	}
	return &Registry{drivers: m}
}

// Get returns the driver for a provider name.
func (r *Registry) Get(name string) (Driver, error) {
	d, ok := r.drivers[name]
	if !ok {
		return nil, &ConfigError{Provider: name}
	}
	return d, nil
}

// Names lists registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	return names
}
