// Package cancel implements the cancellation-source table. A source wraps a
// context.CancelFunc; operations attach to a source and receive a context
// that is cancelled when the source is. Sources are never reused: tokens are
// allocated from a monotonic counter, and a freed source stays resolvable to
// the operations already attached to it until the last one detaches.
package cancel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
)

// Token identifies a cancellation source across the boundary. Zero means
// "no cancellation source".
type Token int64

// None is the absent token.
const None Token = 0

type source struct {
	ctx    context.Context
	cancel context.CancelFunc
	refs   int
	freed  bool
}

// Registry owns all cancellation sources. Construct with NewRegistry.
type Registry struct {
	base   context.Context
	logger *slog.Logger

	mu      sync.Mutex
	next    Token
	sources map[Token]*source
}

// NewRegistry creates a registry whose sources all derive from base. Passing a
// context that is cancelled at shutdown cancels every outstanding source.
func NewRegistry(base context.Context, logger *slog.Logger) *Registry {
	if base == nil {
		base = context.Background()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		base:    base,
		logger:  logger,
		sources: make(map[Token]*source),
	}
}

// Create allocates a new, uncancelled source.
func (r *Registry) Create() Token {
	ctx, cancel := context.WithCancel(r.base)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	t := r.next
	r.sources[t] = &source{ctx: ctx, cancel: cancel}

	return t
}

func (r *Registry) lookup(t Token) (*source, error) {
	s, ok := r.sources[t]
	if !ok || s.freed {
		return nil, fmt.Errorf("cancel: token %d: %w", t, sdkerr.ErrHandleNotFound)
	}

	return s, nil
}

// Cancel moves the source to the cancelled state permanently. Cancelling an
// already-cancelled source is a successful no-op.
func (r *Registry) Cancel(t Token) error {
	r.mu.Lock()
	s, err := r.lookup(t)
	r.mu.Unlock()

	if err != nil {
		return err
	}

	// CancelFunc is idempotent and safe outside the lock.
	s.cancel()

	return nil
}

// IsCancelled reports whether the source has been cancelled.
func (r *Registry) IsCancelled(t Token) (bool, error) {
	r.mu.Lock()
	s, err := r.lookup(t)
	r.mu.Unlock()

	if err != nil {
		return false, err
	}

	return s.ctx.Err() != nil, nil
}

// Free releases the caller's reference. Operations already attached keep
// observing the source until they detach; only then is it reclaimed.
func (r *Registry) Free(t Token) error {
	r.mu.Lock()

	s, err := r.lookup(t)
	if err != nil {
		r.mu.Unlock()
		return err
	}

	s.freed = true

	reclaim := s.refs == 0
	if reclaim {
		delete(r.sources, t)
	}
	r.mu.Unlock()

	if reclaim {
		// Release the context's resources. Attached operations are gone, so
		// nobody can observe this as a cancellation.
		s.cancel()
	}

	return nil
}

// Attach binds an operation to t. The returned context is cancelled when the
// source is; detach must be called once the operation has completed. For
// None, the context derives from the registry base and detach is a no-op.
// Attaching to an already-cancelled source succeeds: the operation is then
// expected to fail fast with a cancellation error.
func (r *Registry) Attach(t Token) (context.Context, func(), error) {
	if t == None {
		return r.base, func() {}, nil
	}

	r.mu.Lock()

	s, err := r.lookup(t)
	if err != nil {
		r.mu.Unlock()
		return nil, nil, err
	}

	s.refs++
	r.mu.Unlock()

	var once sync.Once

	return s.ctx, func() {
		once.Do(func() { r.detach(t) })
	}, nil
}

func (r *Registry) detach(t Token) {
	r.mu.Lock()

	s, ok := r.sources[t]
	if !ok {
		r.mu.Unlock()
		return
	}

	s.refs--

	reclaim := s.refs == 0 && s.freed
	if reclaim {
		delete(r.sources, t)
	}
	r.mu.Unlock()

	if reclaim {
		s.cancel()

		r.logger.Debug("cancellation source reclaimed after last operation detached",
			slog.Int64("token", int64(t)),
		)
	}
}

// Len returns the number of sources still held, including freed sources with
// attached operations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sources)
}
