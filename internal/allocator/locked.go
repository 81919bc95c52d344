package allocator

import "github.com/dbartussek-go/kernelcore/internal/kmutex"

// LockedGlobalAlloc serializes access to an inner owning allocator behind
// a kmutex.Spinlock. Recursive acquisition by the same core panics with
// *kmutex.DeadlockError rather than deadlocking, matching every other
// shared structure in this module.
type LockedGlobalAlloc struct {
	lock  *kmutex.Spinlock
	inner Allocator
}

// NewLockedGlobalAlloc wraps inner behind a fresh spinlock.
func NewLockedGlobalAlloc(inner Allocator) *LockedGlobalAlloc {
	return &LockedGlobalAlloc{lock: kmutex.New("LockedGlobalAlloc"), inner: inner}
}

func (l *LockedGlobalAlloc) Alloc(layout Layout) (uintptr, error) {
	g := l.lock.Guard()
	defer g.Close()
	return l.inner.Alloc(layout)
}

func (l *LockedGlobalAlloc) Dealloc(ptr uintptr, layout Layout) error {
	g := l.lock.Guard()
	defer g.Close()
	return l.inner.Dealloc(ptr, layout)
}

func (l *LockedGlobalAlloc) IsOwner(ptr uintptr, layout Layout) bool {
	g := l.lock.Guard()
	defer g.Close()
	return l.inner.IsOwner(ptr, layout)
}

var _ Allocator = (*LockedGlobalAlloc)(nil)
