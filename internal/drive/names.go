package drive

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
)

// maxNameBytes bounds a node name after normalization.
const maxNameBytes = 255

// normalizeName validates a node name and returns its NFC form. Names from
// macOS arrive NFD-decomposed; the service compares names byte-wise.
func normalizeName(name string) (string, error) {
	if !utf8.ValidString(name) {
		return "", fmt.Errorf("drive: name is not valid UTF-8: %w", sdkerr.ErrArgument)
	}

	name = norm.NFC.String(name)

	switch {
	case name == "", strings.TrimSpace(name) == "":
		return "", fmt.Errorf("drive: name is empty: %w", sdkerr.ErrArgument)
	case name == "." || name == "..":
		return "", fmt.Errorf("drive: name %q is reserved: %w", name, sdkerr.ErrArgument)
	case strings.ContainsAny(name, "/\x00"):
		return "", fmt.Errorf("drive: name %q contains a path separator or NUL: %w", name, sdkerr.ErrArgument)
	case len(name) > maxNameBytes:
		return "", fmt.Errorf("drive: name is %d bytes, limit is %d: %w", len(name), maxNameBytes, sdkerr.ErrArgument)
	}

	return name, nil
}
