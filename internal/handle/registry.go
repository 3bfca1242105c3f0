// Package handle maps opaque integer handles to native resources.
//
// A Handle packs a slot index and a generation stamp. Freeing a handle bumps
// the slot generation immediately, so every later resolve of the old value
// reports ErrHandleNotFound. The slot itself (and the resource stored in it)
// is only reclaimed once every outstanding reference taken with Acquire has
// been released, so an in-flight operation never observes a recycled slot.
package handle

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
)

// Handle is the opaque value handed across the boundary. Zero is never valid.
type Handle int64

// Invalid is the zero handle.
const Invalid Handle = 0

const (
	indexBits = 32
	maxSlots  = 1<<indexBits - 1
)

func makeHandle(index, gen uint32) Handle {
	return Handle(int64(gen)<<indexBits | int64(index+1))
}

func (h Handle) split() (index, gen uint32, ok bool) {
	if h <= 0 {
		return 0, 0, false
	}

	low := uint32(uint64(h) & (1<<indexBits - 1))
	if low == 0 {
		return 0, 0, false
	}

	return low - 1, uint32(uint64(h) >> indexBits), true
}

// Kind identifies what a handle refers to.
type Kind uint8

// Handle kinds.
const (
	KindSession Kind = iota + 1
	KindDriveClient
	KindDownloader
	KindUploader
	KindRevisionReader
	KindRevisionWriter
	KindObservability
	KindLoggerProvider
)

func (k Kind) String() string {
	switch k {
	case KindSession:
		return "session"
	case KindDriveClient:
		return "drive_client"
	case KindDownloader:
		return "downloader"
	case KindUploader:
		return "uploader"
	case KindRevisionReader:
		return "revision_reader"
	case KindRevisionWriter:
		return "revision_writer"
	case KindObservability:
		return "observability_service"
	case KindLoggerProvider:
		return "logger_provider"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// maxGeneration keeps packed handles positive (the top bit of int64 is sign).
const maxGeneration = 1<<31 - 1

type slot struct {
	gen      uint32
	kind     Kind
	resource any
	live     bool // handle value currently resolvable
	refs     int  // outstanding Acquire references
	occupied bool // slot not yet returned to the free list
}

// Registry is a concurrency-safe slot table. The zero value is not usable;
// construct with NewRegistry.
type Registry struct {
	mu     sync.Mutex
	slots  []slot
	free   []uint32
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{logger: logger}
}

// Create stores resource under a fresh handle of the given kind. If resource
// implements io.Closer it is closed when the handle is reclaimed.
func (r *Registry) Create(kind Kind, resource any) (Handle, error) {
	if resource == nil {
		return Invalid, fmt.Errorf("handle: nil %s resource: %w", kind, sdkerr.ErrArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var index uint32
	if n := len(r.free); n > 0 {
		index = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		if uint64(len(r.slots)) >= maxSlots {
			return Invalid, fmt.Errorf("handle: registry exhausted: %w", sdkerr.ErrTransientIO)
		}

		r.slots = append(r.slots, slot{})
		index = uint32(len(r.slots) - 1)
	}

	s := &r.slots[index]
	if s.gen == 0 || s.gen >= maxGeneration {
		s.gen = 1
	}

	s.kind = kind
	s.resource = resource
	s.live = true
	s.occupied = true
	s.refs = 0

	return makeHandle(index, s.gen), nil
}

// lookup returns the live slot for h. Caller holds r.mu.
func (r *Registry) lookup(h Handle, kind Kind) (*slot, error) {
	index, gen, ok := h.split()
	if !ok || int(index) >= len(r.slots) {
		return nil, fmt.Errorf("handle: %d: %w", h, sdkerr.ErrHandleNotFound)
	}

	s := &r.slots[index]
	if !s.live || s.gen != gen {
		return nil, fmt.Errorf("handle: %d: %w", h, sdkerr.ErrHandleNotFound)
	}

	if s.kind != kind {
		return nil, fmt.Errorf("handle: %d is a %s, not a %s: %w", h, s.kind, kind, sdkerr.ErrHandleTypeMismatch)
	}

	return s, nil
}

// Resolve returns the resource behind h if it is live and of the given kind.
func (r *Registry) Resolve(h Handle, kind Kind) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.lookup(h, kind)
	if err != nil {
		return nil, err
	}

	return s.resource, nil
}

// KindOf reports the kind of a live handle.
func (r *Registry) KindOf(h Handle) (Kind, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	index, gen, ok := h.split()
	if !ok || int(index) >= len(r.slots) {
		return 0, false
	}

	s := &r.slots[index]
	if !s.live || s.gen != gen {
		return 0, false
	}

	return s.kind, true
}

// Acquire resolves h and pins its slot until the returned release function is
// called. release is idempotent. A pinned resource stays allocated even if
// the handle is freed in the meantime.
func (r *Registry) Acquire(h Handle, kind Kind) (any, func(), error) {
	r.mu.Lock()

	s, err := r.lookup(h, kind)
	if err != nil {
		r.mu.Unlock()
		return nil, nil, err
	}

	s.refs++
	resource := s.resource
	index, _, _ := h.split()
	r.mu.Unlock()

	var once sync.Once

	return resource, func() {
		once.Do(func() { r.release(index) })
	}, nil
}

func (r *Registry) release(index uint32) {
	r.mu.Lock()

	s := &r.slots[index]
	s.refs--

	var closer io.Closer
	if s.refs == 0 && !s.live {
		closer = r.reclaim(index)
	}
	r.mu.Unlock()

	r.closeResource(closer)
}

// Free invalidates h. The resource is closed and the slot recycled as soon as
// no Acquire reference is outstanding; Free itself never blocks on them.
func (r *Registry) Free(h Handle, kind Kind) error {
	r.mu.Lock()

	s, err := r.lookup(h, kind)
	if err != nil {
		r.mu.Unlock()
		return err
	}

	s.live = false
	// Bumping now makes the old value unresolvable while the slot is pinned.
	s.gen++

	index, _, _ := h.split()

	var closer io.Closer
	pending := s.refs
	if s.refs == 0 {
		closer = r.reclaim(index)
	}
	r.mu.Unlock()

	if pending > 0 {
		r.logger.Debug("handle free deferred until operations release it",
			slog.Int64("handle", int64(h)),
			slog.String("kind", kind.String()),
			slog.Int("refs", pending),
		)
	}

	r.closeResource(closer)

	return nil
}

// reclaim clears the slot and returns it to the free list. Caller holds r.mu.
func (r *Registry) reclaim(index uint32) io.Closer {
	s := &r.slots[index]

	closer, _ := s.resource.(io.Closer)
	s.resource = nil
	s.occupied = false
	r.free = append(r.free, index)

	return closer
}

func (r *Registry) closeResource(c io.Closer) {
	if c == nil {
		return
	}

	if err := c.Close(); err != nil {
		r.logger.Warn("closing freed resource failed", slog.String("error", err.Error()))
	}
}

// Len returns the number of occupied slots, including freed-but-pinned ones.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for i := range r.slots {
		if r.slots[i].occupied {
			n++
		}
	}

	return n
}

// Close frees every live handle. Pinned resources are reclaimed when their
// last reference is released.
func (r *Registry) Close() {
	type entry struct {
		h    Handle
		kind Kind
	}

	r.mu.Lock()
	var live []entry
	for i := range r.slots {
		s := &r.slots[i]
		if s.live {
			live = append(live, entry{makeHandle(uint32(i), s.gen), s.kind})
		}
	}
	r.mu.Unlock()

	for _, e := range live {
		_ = r.Free(e.h, e.kind)
	}
}
