// Package ecsalloc provides the allocator capability the warehouse core
// consumes in place of a global allocator: the registry's per-component
// arenas, the task manager's per-thread scratch, dynamic-task ring and
// static-task buffers, and the system manager's temporary arena are built
// against these interfaces, so a host can swap in a linear, pool, or
// arena-backed implementation. Archetype storage is not: it lives in
// table-package columns.
package ecsalloc

import "sync"

// Mark is an opaque scoped-rewind token returned by Allocator.Mark.
type Mark struct {
	offset int
}

// Allocator is the single-threaded allocator capability consumed by the
// core. alloc/dealloc model raw capacity; Mark/Rewind support scoped reuse
// by whoever holds the mark.
type Allocator interface {
	Alloc(size, align int) []byte
	Dealloc(buf []byte)
	Mark() Mark
	Rewind(Mark)
}

// ThreadSafeAllocator is the same capability set under internal locking,
// required wherever concurrent workers may allocate concurrently (spec
// §4.1: "required for the world's temporary arena since concurrent workers
// record commands").
type ThreadSafeAllocator interface {
	AllocTS(size, align int) []byte
	DeallocTS(buf []byte)
}

// LinearAllocator is a bump allocator over a fixed backing slice. Dealloc is
// a no-op; Rewind(mark) is the only way to reclaim space. It implements both
// Allocator and, guarded by a mutex, ThreadSafeAllocator.
type LinearAllocator struct {
	mu     sync.Mutex
	buf    []byte
	offset int
}

// NewLinearAllocator allocates a backing buffer of the given capacity.
func NewLinearAllocator(capacity int) *LinearAllocator {
	return &LinearAllocator{buf: make([]byte, capacity)}
}

func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	rem := n % align
	if rem == 0 {
		return n
	}
	return n + (align - rem)
}

// Alloc carves size bytes, aligned to align, from the backing buffer. It
// panics on exhaustion: callers that cannot guarantee capacity should size
// the arena generously or catch the allocation failure upstream (the core
// never silently truncates a write).
func (a *LinearAllocator) Alloc(size, align int) []byte {
	start := alignUp(a.offset, align)
	end := start + size
	if end > len(a.buf) {
		panic("ecsalloc: linear allocator exhausted")
	}
	a.offset = end
	return a.buf[start:end:end]
}

// Dealloc is a no-op for a linear allocator; use Rewind to reclaim.
func (a *LinearAllocator) Dealloc(buf []byte) {}

// Mark captures the current bump offset.
func (a *LinearAllocator) Mark() Mark { return Mark{offset: a.offset} }

// Rewind resets the bump offset to a previously captured Mark.
func (a *LinearAllocator) Rewind(m Mark) { a.offset = m.offset }

// AllocTS is the thread-safe variant of Alloc, guarded by an internal mutex.
func (a *LinearAllocator) AllocTS(size, align int) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Alloc(size, align)
}

// DeallocTS is the thread-safe variant of Dealloc.
func (a *LinearAllocator) DeallocTS(buf []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Dealloc(buf)
}

// HeapAllocator forwards directly to the Go heap. It is the allocator a host
// reaches for when no scoped-reuse discipline is needed (e.g. component
// arenas for types without buffer descriptors); Mark/Rewind are unsupported
// and return a sentinel Mark of zero value.
type HeapAllocator struct{}

func (HeapAllocator) Alloc(size, align int) []byte    { return make([]byte, size) }
func (HeapAllocator) Dealloc(buf []byte)              {}
func (HeapAllocator) Mark() Mark                      { return Mark{} }
func (HeapAllocator) Rewind(Mark)                     {}
func (HeapAllocator) AllocTS(size, align int) []byte  { return make([]byte, size) }
func (HeapAllocator) DeallocTS(buf []byte)            {}
