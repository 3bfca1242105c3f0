package drive

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"ascii", "report.pdf", "report.pdf"},
		{"nfd to nfc", "cafe\u0301.txt", "caf\u00e9.txt"},
		{"already nfc", "caf\u00e9.txt", "caf\u00e9.txt"},
		{"inner spaces kept", " a b ", " a b "},
		{"max length", strings.Repeat("x", maxNameBytes), strings.Repeat("x", maxNameBytes)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := normalizeName(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeName_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"blank", "   "},
		{"dot", "."},
		{"dotdot", ".."},
		{"slash", "a/b"},
		{"nul", "a\x00b"},
		{"invalid utf8", "\xff\xfe"},
		{"too long", strings.Repeat("x", maxNameBytes+1)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := normalizeName(tc.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, sdkerr.ErrArgument)
		})
	}
}
