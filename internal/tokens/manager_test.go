package tokens

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridocs/mirror-be/internal/cryptox"
	"github.com/veridocs/mirror-be/internal/domain"
	"github.com/veridocs/mirror-be/internal/provider"
)

const testKey = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

// fakeDriver scripts upload and refresh outcomes.
type fakeDriver struct {
	name          string
	uploadErrs    []error // consumed per call; nil entry means success
	uploadCalls   int
	uploadTokens  []string
	refreshCalls  int
	refreshErr    error
	refreshResult *provider.Token
}

func (f *fakeDriver) Name() string                 { return f.name }
func (f *fakeDriver) AuthCodeURL(state string) string { return "https://vendor.example/auth?state=" + state }

func (f *fakeDriver) Exchange(ctx context.Context, code string) (*provider.Token, error) {
	return nil, errors.New("not used")
}

func (f *fakeDriver) Refresh(ctx context.Context, refreshToken string) (*provider.Token, error) {
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshResult, nil
}

func (f *fakeDriver) Upload(ctx context.Context, accessToken string, data []byte, filename, mimeType string) (*provider.RemoteFile, error) {
	f.uploadTokens = append(f.uploadTokens, accessToken)
	call := f.uploadCalls
	f.uploadCalls++
	if call < len(f.uploadErrs) && f.uploadErrs[call] != nil {
		return nil, f.uploadErrs[call]
	}
	return &provider.RemoteFile{ID: "remote-1", WebURL: "https://vendor.example/remote-1"}, nil
}

func (f *fakeDriver) AccountID(ctx context.Context, accessToken string) (string, error) {
	return "acct", nil
}

// fakeConnRepo records token and status updates.
type fakeConnRepo struct {
	domain.ConnectionRepository

	updatedAccess    string
	updatedRefresh   *string
	updatedExpiresAt *time.Time
	tokenUpdates     int
	statusSet        string
}

func (f *fakeConnRepo) UpdateTokens(ctx context.Context, id, accessToken string, refreshToken *string, expiresAt *time.Time) error {
	f.tokenUpdates++
	f.updatedAccess = accessToken
	f.updatedRefresh = refreshToken
	f.updatedExpiresAt = expiresAt
	return nil
}

func (f *fakeConnRepo) SetStatus(ctx context.Context, id, status string) error {
	f.statusSet = status
	return nil
}

func authErr() error {
	return &provider.UpstreamError{
		Provider:   "drive",
		StatusCode: http.StatusUnauthorized,
		Err:        provider.ErrUnauthorized,
	}
}

func newTestManager(t *testing.T, d *fakeDriver, repo *fakeConnRepo) (*Manager, *cryptox.Cipher) {
	t.Helper()

	cipher, err := cryptox.NewCipher(testKey)
	require.NoError(t, err)

	m := NewManager(cipher, repo, provider.NewRegistry(d), slog.Default())
	return m, cipher
}

func newTestConnection(t *testing.T, cipher *cryptox.Cipher, expiresIn time.Duration) *domain.Connection {
	t.Helper()

	access, err := cipher.Encrypt("plain-access")
	require.NoError(t, err)
	refresh, err := cipher.Encrypt("plain-refresh")
	require.NoError(t, err)

	exp := time.Now().Add(expiresIn)
	return &domain.Connection{
		ID:           "conn-1",
		ClientID:     "client-1",
		Provider:     "drive",
		Status:       domain.ConnectionStatusConnected,
		AccessToken:  access,
		RefreshToken: &refresh,
		ExpiresAt:    &exp,
	}
}

func TestManager_Upload_NoRefreshWhenTokenFresh(t *testing.T) {
	d := &fakeDriver{name: "drive"}
	repo := &fakeConnRepo{}
	m, cipher := newTestManager(t, d, repo)
	conn := newTestConnection(t, cipher, time.Hour)

	file, err := m.UploadFile(context.Background(), conn, []byte("data"), "a.pdf", "application/pdf")
	require.NoError(t, err)

	assert.Equal(t, "remote-1", file.ID)
	assert.Equal(t, 0, d.refreshCalls)
	assert.Equal(t, []string{"plain-access"}, d.uploadTokens)
	assert.Equal(t, 0, repo.tokenUpdates)
}

func TestManager_Upload_ProactiveRefreshWhenExpiring(t *testing.T) {
	d := &fakeDriver{
		name: "drive",
		refreshResult: &provider.Token{
			AccessToken: "fresh-access",
			ExpiresAt:   time.Now().Add(time.Hour),
		},
	}
	repo := &fakeConnRepo{}
	m, cipher := newTestManager(t, d, repo)

	// Expires in 2 minutes, inside the 5 minute buffer
	conn := newTestConnection(t, cipher, 2*time.Minute)
	originalCiphertext := conn.AccessToken
	originalExpiry := *conn.ExpiresAt

	_, err := m.UploadFile(context.Background(), conn, []byte("data"), "a.pdf", "application/pdf")
	require.NoError(t, err)

	assert.Equal(t, 1, d.refreshCalls)
	assert.Equal(t, []string{"fresh-access"}, d.uploadTokens)

	// Stored ciphertext changed and expiry advanced
	require.Equal(t, 1, repo.tokenUpdates)
	assert.NotEqual(t, originalCiphertext, repo.updatedAccess)
	assert.True(t, repo.updatedExpiresAt.After(originalExpiry))

	// The persisted ciphertext must decrypt to the new plaintext
	plain, err := cipher.Decrypt(repo.updatedAccess)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", plain)
}

func TestManager_Upload_RefreshAndRetryOn401(t *testing.T) {
	d := &fakeDriver{
		name:       "drive",
		uploadErrs: []error{authErr(), nil},
		refreshResult: &provider.Token{
			AccessToken: "fresh-access",
			ExpiresAt:   time.Now().Add(time.Hour),
		},
	}
	repo := &fakeConnRepo{}
	m, cipher := newTestManager(t, d, repo)
	conn := newTestConnection(t, cipher, time.Hour)

	file, err := m.UploadFile(context.Background(), conn, []byte("data"), "a.pdf", "application/pdf")
	require.NoError(t, err)

	assert.Equal(t, "remote-1", file.ID)
	assert.Equal(t, 1, d.refreshCalls)
	assert.Equal(t, 2, d.uploadCalls)
	assert.Equal(t, []string{"plain-access", "fresh-access"}, d.uploadTokens)
}

func TestManager_Upload_SecondAuthFailurePropagates(t *testing.T) {
	d := &fakeDriver{
		name:       "drive",
		uploadErrs: []error{authErr(), authErr()},
		refreshResult: &provider.Token{
			AccessToken: "fresh-access",
			ExpiresAt:   time.Now().Add(time.Hour),
		},
	}
	repo := &fakeConnRepo{}
	m, cipher := newTestManager(t, d, repo)
	conn := newTestConnection(t, cipher, time.Hour)

	_, err := m.UploadFile(context.Background(), conn, []byte("data"), "a.pdf", "application/pdf")
	require.ErrorIs(t, err, provider.ErrUnauthorized)

	// Refresh happened exactly once; no endless loop
	assert.Equal(t, 1, d.refreshCalls)
	assert.Equal(t, 2, d.uploadCalls)
}

func TestManager_Upload_NonAuthErrorDoesNotRefresh(t *testing.T) {
	upstream := &provider.UpstreamError{
		Provider:   "drive",
		StatusCode: http.StatusServiceUnavailable,
		Err:        provider.ErrUpstream,
	}
	d := &fakeDriver{name: "drive", uploadErrs: []error{upstream}}
	repo := &fakeConnRepo{}
	m, cipher := newTestManager(t, d, repo)
	conn := newTestConnection(t, cipher, time.Hour)

	_, err := m.UploadFile(context.Background(), conn, []byte("data"), "a.pdf", "application/pdf")
	require.ErrorIs(t, err, provider.ErrUpstream)
	assert.Equal(t, 0, d.refreshCalls)
	assert.Equal(t, 1, d.uploadCalls)
}

func TestManager_Upload_RefreshFailureMarksConnection(t *testing.T) {
	d := &fakeDriver{
		name:       "drive",
		refreshErr: authErr(),
	}
	repo := &fakeConnRepo{}
	m, cipher := newTestManager(t, d, repo)
	conn := newTestConnection(t, cipher, time.Minute)

	_, err := m.UploadFile(context.Background(), conn, []byte("data"), "a.pdf", "application/pdf")
	require.Error(t, err)

	assert.Equal(t, domain.ConnectionStatusError, repo.statusSet)
	assert.Equal(t, domain.ConnectionStatusError, conn.Status)
	assert.Equal(t, 0, d.uploadCalls)
}

func TestManager_Upload_MissingRefreshToken(t *testing.T) {
	d := &fakeDriver{name: "drive"}
	repo := &fakeConnRepo{}
	m, cipher := newTestManager(t, d, repo)

	conn := newTestConnection(t, cipher, time.Minute)
	conn.RefreshToken = nil

	_, err := m.UploadFile(context.Background(), conn, []byte("data"), "a.pdf", "application/pdf")
	require.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Equal(t, domain.ConnectionStatusError, repo.statusSet)
}

func TestManager_Upload_CorruptedCiphertext(t *testing.T) {
	d := &fakeDriver{name: "drive"}
	repo := &fakeConnRepo{}
	m, cipher := newTestManager(t, d, repo)

	conn := newTestConnection(t, cipher, time.Hour)
	conn.AccessToken = "not:a:ciphertext"

	_, err := m.UploadFile(context.Background(), conn, []byte("data"), "a.pdf", "application/pdf")
	require.ErrorIs(t, err, ErrConnectionCorrupted)
	assert.Equal(t, domain.ConnectionStatusError, repo.statusSet)
	assert.Equal(t, 0, d.uploadCalls)
}

func TestManager_Upload_UnknownProvider(t *testing.T) {
	d := &fakeDriver{name: "drive"}
	repo := &fakeConnRepo{}
	m, cipher := newTestManager(t, d, repo)

	conn := newTestConnection(t, cipher, time.Hour)
	conn.Provider = "dropbox"

	_, err := m.UploadFile(context.Background(), conn, []byte("data"), "a.pdf", "application/pdf")
	require.ErrorIs(t, err, provider.ErrUnknownProvider)
}
