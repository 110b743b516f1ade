package oauthstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("a-shared-signing-secret")

func TestSigner_IssueAndVerify(t *testing.T) {
	s := NewSigner(testSecret, DefaultTTL)

	state, err := s.Issue("client-1", "google")
	require.NoError(t, err)
	require.NotEmpty(t, state)

	clientID, err := s.Verify(state, "google")
	require.NoError(t, err)
	assert.Equal(t, "client-1", clientID)
}

func TestSigner_Verify_ProviderMismatch(t *testing.T) {
	s := NewSigner(testSecret, DefaultTTL)

	state, err := s.Issue("client-1", "google")
	require.NoError(t, err)

	_, err = s.Verify(state, "microsoft")
	require.ErrorIs(t, err, ErrProviderMismatch)
}

func TestSigner_Verify_Expired(t *testing.T) {
	s := NewSigner(testSecret, DefaultTTL)

	state, err := s.Issue("client-1", "google")
	require.NoError(t, err)

	// Move the verifier's clock past the expiry window
	s.now = func() time.Time { return time.Now().Add(DefaultTTL + time.Minute) }

	_, err = s.Verify(state, "google")
	require.ErrorIs(t, err, ErrStateInvalid)
}

func TestSigner_Verify_TamperedState(t *testing.T) {
	s := NewSigner(testSecret, DefaultTTL)

	state, err := s.Issue("client-1", "google")
	require.NoError(t, err)

	_, err = s.Verify(state+"x", "google")
	require.ErrorIs(t, err, ErrStateInvalid)
}

func TestSigner_Verify_WrongSecret(t *testing.T) {
	issuer := NewSigner(testSecret, DefaultTTL)
	verifier := NewSigner([]byte("another-secret"), DefaultTTL)

	state, err := issuer.Issue("client-1", "google")
	require.NoError(t, err)

	_, err = verifier.Verify(state, "google")
	require.ErrorIs(t, err, ErrStateInvalid)
}

func TestSigner_Verify_Garbage(t *testing.T) {
	s := NewSigner(testSecret, DefaultTTL)

	_, err := s.Verify("not-a-state", "google")
	require.ErrorIs(t, err, ErrStateInvalid)
}

func TestSigner_StatesAreUnique(t *testing.T) {
	s := NewSigner(testSecret, DefaultTTL)

	first, err := s.Issue("client-1", "google")
	require.NoError(t, err)
	second, err := s.Issue("client-1", "google")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}
