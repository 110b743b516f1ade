package domain

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateError(t *testing.T) {
	tests := []struct {
		name string
		msg  string
	}{
		{
			name: "short message unchanged",
			msg:  "document not found",
		},
		{
			name: "long ascii message",
			msg:  strings.Repeat("x", 700),
		},
		{
			name: "long multibyte message cut on a rune boundary",
			msg:  strings.Repeat("日", 300),
		},
		{
			name: "mixed ascii and multibyte",
			msg:  strings.Repeat("a", 499) + strings.Repeat("é", 50),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateError(tt.msg)

			assert.LessOrEqual(t, len(got), MaxErrorLength)
			assert.True(t, utf8.ValidString(got), "truncated message must stay valid UTF-8")
			assert.True(t, strings.HasPrefix(tt.msg, got))

			if len(tt.msg) <= MaxErrorLength {
				assert.Equal(t, tt.msg, got)
			} else {
				// Never cut away more than one rune past the limit.
				assert.Greater(t, len(got), MaxErrorLength-utf8.UTFMax)
			}
		})
	}
}
