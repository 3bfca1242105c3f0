// Package sdkerr defines the error taxonomy shared by every layer of the
// runtime and the structured record that crosses the boundary in place of a
// raw Go error. Errors are plain wrapped Go errors; the taxonomy is recovered
// with errors.Is against the sentinels below.
package sdkerr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
)

// Kind classifies an error. The numeric value is the code carried by Record.
type Kind int

// Error kinds. Values are part of the boundary contract and must not change.
const (
	KindUnknown Kind = iota
	KindArgument
	KindHandleNotFound
	KindHandleTypeMismatch
	KindInvalidState
	KindCancelled
	KindAuth
	KindNotFound
	KindPermission
	KindTransientIO
	KindIntegrity
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindArgument:           "argument",
	KindHandleNotFound:     "handle_not_found",
	KindHandleTypeMismatch: "handle_type_mismatch",
	KindInvalidState:       "invalid_state",
	KindCancelled:          "cancelled",
	KindAuth:               "auth",
	KindNotFound:           "not_found",
	KindPermission:         "permission",
	KindTransientIO:        "transient_io",
	KindIntegrity:          "integrity",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinel errors, one per kind. Use errors.Is(err, sdkerr.ErrCancelled).
var (
	ErrArgument           = errors.New("sdk: invalid argument")
	ErrHandleNotFound     = errors.New("sdk: handle not found")
	ErrHandleTypeMismatch = errors.New("sdk: handle type mismatch")
	ErrInvalidState       = errors.New("sdk: invalid state")
	ErrCancelled          = errors.New("sdk: operation cancelled")
	ErrAuth               = errors.New("sdk: authentication failed")
	ErrNotFound           = errors.New("sdk: resource not found")
	ErrPermission         = errors.New("sdk: permission denied")
	ErrTransientIO        = errors.New("sdk: transient I/O failure")
	ErrIntegrity          = errors.New("sdk: integrity check failed")
)

// sentinels is ordered: the first match wins, so handle and cancellation
// errors take precedence over whatever they wrap.
var sentinels = []struct {
	err  error
	kind Kind
}{
	{ErrHandleNotFound, KindHandleNotFound},
	{ErrHandleTypeMismatch, KindHandleTypeMismatch},
	{ErrInvalidState, KindInvalidState},
	{ErrCancelled, KindCancelled},
	{ErrArgument, KindArgument},
	{ErrAuth, KindAuth},
	{ErrNotFound, KindNotFound},
	{ErrPermission, KindPermission},
	{ErrIntegrity, KindIntegrity},
	{ErrTransientIO, KindTransientIO},
}

// Classify maps any error onto the taxonomy. nil maps to KindUnknown.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}

	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransientIO
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return KindArgument
	}

	var netErr net.Error
	var pathErr *fs.PathError
	if errors.As(err, &netErr) || errors.As(err, &pathErr) {
		return KindTransientIO
	}

	return KindUnknown
}

// Is reports whether err classifies as kind.
func Is(err error, kind Kind) bool {
	return Classify(err) == kind
}

// Errorf wraps a formatted message around the sentinel for kind.
func Errorf(kind Kind, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinelFor(kind))
}

func sentinelFor(kind Kind) error {
	for _, s := range sentinels {
		if s.kind == kind {
			return s.err
		}
	}

	return errors.New("sdk: unknown error")
}
