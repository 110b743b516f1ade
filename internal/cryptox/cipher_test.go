package cryptox

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestNewCipher_KeyValidation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{
			name:    "valid 64 hex char key",
			key:     testKey,
			wantErr: false,
		},
		{
			name:    "too short",
			key:     "abcdef",
			wantErr: true,
		},
		{
			name:    "too long",
			key:     testKey + "00",
			wantErr: true,
		},
		{
			name:    "right length but not hex",
			key:     strings.Repeat("g", 64),
			wantErr: true,
		},
		{
			name:    "empty",
			key:     "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCipher(tt.key)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidKey)
				assert.Nil(t, c)
			} else {
				require.NoError(t, err)
				require.NotNil(t, c)
			}
		})
	}
}

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher(testKey)
	require.NoError(t, err)

	tokens := []string{
		"ya29.a0AfB_byD-example-access-token",
		"",
		"short",
		strings.Repeat("x", 4096),
	}

	for _, token := range tokens {
		encrypted, err := c.Encrypt(token)
		require.NoError(t, err)

		decrypted, err := c.Decrypt(encrypted)
		require.NoError(t, err)
		assert.Equal(t, token, decrypted)
	}
}

func TestCipher_WireFormat(t *testing.T) {
	c, err := NewCipher(testKey)
	require.NoError(t, err)

	encrypted, err := c.Encrypt("secret-token")
	require.NoError(t, err)

	parts := strings.Split(encrypted, ":")
	require.Len(t, parts, 3)

	iv, err := hex.DecodeString(parts[0])
	require.NoError(t, err)
	assert.Len(t, iv, 16)

	tag, err := hex.DecodeString(parts[1])
	require.NoError(t, err)
	assert.Len(t, tag, 16)

	_, err = hex.DecodeString(parts[2])
	require.NoError(t, err)
}

func TestCipher_UniqueIVPerCall(t *testing.T) {
	c, err := NewCipher(testKey)
	require.NoError(t, err)

	first, err := c.Encrypt("same-token")
	require.NoError(t, err)
	second, err := c.Encrypt("same-token")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestCipher_Decrypt_TamperedTag(t *testing.T) {
	c, err := NewCipher(testKey)
	require.NoError(t, err)

	encrypted, err := c.Encrypt("secret-token")
	require.NoError(t, err)

	parts := strings.Split(encrypted, ":")
	tag, err := hex.DecodeString(parts[1])
	require.NoError(t, err)

	// Flip one byte in the auth tag segment
	tag[0] ^= 0xff
	tampered := parts[0] + ":" + hex.EncodeToString(tag) + ":" + parts[2]

	_, err = c.Decrypt(tampered)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestCipher_Decrypt_Malformed(t *testing.T) {
	c, err := NewCipher(testKey)
	require.NoError(t, err)

	tests := []struct {
		name  string
		value string
	}{
		{name: "no separators", value: "deadbeef"},
		{name: "two segments", value: "deadbeef:deadbeef"},
		{name: "four segments", value: "aa:bb:cc:dd"},
		{name: "non-hex iv", value: strings.Repeat("zz", 16) + ":" + strings.Repeat("ab", 16) + ":abcd"},
		{name: "short iv", value: "abcd:" + strings.Repeat("ab", 16) + ":abcd"},
		{name: "empty", value: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decrypt(tt.value)
			assert.ErrorIs(t, err, ErrMalformedCiphertext)
		})
	}
}

func TestCipher_Decrypt_WrongKey(t *testing.T) {
	c1, err := NewCipher(testKey)
	require.NoError(t, err)
	c2, err := NewCipher(strings.Repeat("ff", 32))
	require.NoError(t, err)

	encrypted, err := c1.Encrypt("secret-token")
	require.NoError(t, err)

	_, err = c2.Decrypt(encrypted)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}
