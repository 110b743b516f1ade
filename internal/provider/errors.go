package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for vendor response classification.
// Use errors.Is(err, provider.ErrUnauthorized) to check.
var (
	// ErrUnauthorized marks a vendor 401. The token lifecycle manager
	// reacts with a single refresh-and-retry.
	ErrUnauthorized = errors.New("provider: unauthorized")

	// ErrUpstream marks any other vendor failure. Surfaced to the job
	// retry counter.
	ErrUpstream = errors.New("provider: upstream error")

	// ErrUnknownProvider marks a provider name with no registered
	// driver.
	ErrUnknownProvider = errors.New("provider: unknown provider")
)

// UpstreamError wraps a sentinel with the vendor HTTP status and the
// response body for debugging.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ConfigError marks a misconfigured provider. Fatal, not retried.
type ConfigError struct {
	Provider string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("no driver registered for provider %q", e.Provider)
}

func (e *ConfigError) Unwrap() error {
	return ErrUnknownProvider
}

// newUpstreamError classifies a vendor status code into the taxonomy.
func newUpstreamError(providerName string, statusCode int, body []byte) error {
	sentinel := ErrUpstream
	if statusCode == http.StatusUnauthorized {
		sentinel = ErrUnauthorized
	}

	return &UpstreamError{
		Provider:   providerName,
		StatusCode: statusCode,
		Message:    string(body),
		Err:        sentinel,
	}
}
