package handle

import (
	"fmt"

	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
)

// Get resolves h and asserts the stored resource type.
func Get[T any](r *Registry, h Handle, kind Kind) (T, error) {
	var zero T

	res, err := r.Resolve(h, kind)
	if err != nil {
		return zero, err
	}

	v, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("handle: %d holds %T: %w", h, res, sdkerr.ErrHandleTypeMismatch)
	}

	return v, nil
}

// Pin acquires h with a typed result. The release function must be called
// exactly when the caller stops dereferencing the resource.
func Pin[T any](r *Registry, h Handle, kind Kind) (T, func(), error) {
	var zero T

	res, release, err := r.Acquire(h, kind)
	if err != nil {
		return zero, nil, err
	}

	v, ok := res.(T)
	if !ok {
		release()
		return zero, nil, fmt.Errorf("handle: %d holds %T: %w", h, res, sdkerr.ErrHandleTypeMismatch)
	}

	return v, release, nil
}
