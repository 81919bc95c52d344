// Package kmutex provides the kernel's spinlock primitive: a mutex that
// disables interrupts on the calling core for its entire critical section
// and panics, rather than deadlocking, on recursive acquisition by the same
// core.
//
// Page-table mutations and PageUsageMap mutations may be observed from
// interrupt handlers, so an ordinary sync.Mutex is not safe here: a handler
// that fires while the lock is held and then tries to take it itself would
// deadlock. DisableInterrupts masks that window; the reentrancy guard
// turns a latent deadlock into an immediate, diagnosable panic instead.
package kmutex

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// CoreID identifies the logical core a Spinlock critical section runs on.
// The kernel is single-core at this stage, so every call path that never
// names a core runs as core 0; tests that want to exercise cross-core
// semantics attach a different id to a context with WithCore.
type CoreID uint32

type coreIDKey struct{}

// WithCore returns a copy of ctx that carries id as the core its call path
// runs on. A package-level atomic would not do here: two goroutines
// simulating two different cores concurrently would race on the same
// variable. A context value is goroutine-local by construction, since each
// goroutine that wants to be "core 2" builds and holds its own ctx rather
// than mutating shared state.
func WithCore(ctx context.Context, id CoreID) context.Context {
	return context.WithValue(ctx, coreIDKey{}, id)
}

// CurrentCoreID returns the core id ctx carries, or 0 if ctx carries none
// (including a nil ctx) — the core every call path runs on unless it was
// explicitly built with WithCore.
func CurrentCoreID(ctx context.Context) CoreID {
	if ctx == nil {
		return 0
	}
	if id, ok := ctx.Value(coreIDKey{}).(CoreID); ok {
		return id
	}
	return 0
}

// DeadlockError is the diagnostic carried by the panic raised on recursive
// acquisition of a Spinlock by the same core.
type DeadlockError struct {
	TypeName string
	Core     CoreID
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("kmutex: recursive acquisition of %s on core %d", e.TypeName, e.Core)
}

// Spinlock is the kernel's mutual-exclusion primitive. The zero value is
// ready to use once TypeName is set via New; holding a Spinlock disables
// interrupts on the acquiring core until Unlock is called.
type Spinlock struct {
	mu       sync.Mutex
	typeName string

	heldBy     atomic.Bool
	holderCore atomic.Uint32
}

// New returns a Spinlock whose deadlock diagnostic names typeName — the
// type of the structure it protects (e.g. "PhysicalMemoryMap").
func New(typeName string) *Spinlock {
	return &Spinlock{typeName: typeName}
}

// Lock acquires the spinlock as core 0, the only core this kernel runs on
// in production. Code that needs to simulate a different core (tests
// exercising cross-core semantics) calls LockContext with a context built
// by WithCore instead.
func (s *Spinlock) Lock() {
	s.LockContext(context.Background())
}

// LockContext acquires the spinlock, disabling interrupts on ctx's core for
// as long as it is held. It panics with a *DeadlockError if that core
// already holds this lock.
func (s *Spinlock) LockContext(ctx context.Context) {
	core := CurrentCoreID(ctx)

	if s.heldBy.Load() && CoreID(s.holderCore.Load()) == core {
		panic(&DeadlockError{TypeName: s.typeName, Core: core})
	}

	DisableInterrupts(core)
	s.mu.Lock()
	s.heldBy.Store(true)
	s.holderCore.Store(uint32(core))
}

// Unlock releases the spinlock and restores the calling core's interrupt
// state to what it was before the matching Lock.
func (s *Spinlock) Unlock() {
	core := CoreID(s.holderCore.Load())
	s.heldBy.Store(false)
	s.mu.Unlock()
	RestoreInterrupts(core)
}

// Guard acquires the lock and returns a value whose Close releases it,
// matching the "session bounded by a borrow" shape used throughout this
// module in place of the callback-with-closure pattern a borrow-checked
// language needs.
func (s *Spinlock) Guard() *Guard {
	s.Lock()
	return &Guard{lock: s}
}

// GuardContext is Guard, acquiring the lock as ctx's core instead of core 0.
func (s *Spinlock) GuardContext(ctx context.Context) *Guard {
	s.LockContext(ctx)
	return &Guard{lock: s}
}

// Guard releases its Spinlock exactly once, on Close.
type Guard struct {
	lock   *Spinlock
	closed bool
}

// Close releases the held lock. Calling Close more than once is a no-op.
func (g *Guard) Close() {
	if g.closed {
		return
	}
	g.closed = true
	g.lock.Unlock()
}

// interruptDepth tracks, per core, how many nested DisableInterrupts calls
// are outstanding. A real kernel reads/writes EFLAGS.IF; this models the
// same saved/restore discipline without real hardware.
var interruptDepth sync.Map // map[CoreID]*atomic.Int32

func depthFor(core CoreID) *atomic.Int32 {
	v, _ := interruptDepth.LoadOrStore(core, new(atomic.Int32))
	return v.(*atomic.Int32)
}

// DisableInterrupts increments the calling core's interrupt-disable depth.
// Spinlock.Lock calls this automatically; it is exported so the boot pivot
// and ModificationSession can mask interrupts for sequences that span more
// than one lock acquisition.
func DisableInterrupts(core CoreID) {
	depthFor(core).Add(1)
}

// RestoreInterrupts decrements the calling core's interrupt-disable depth.
// Interrupts are considered enabled again once the depth returns to zero.
func RestoreInterrupts(core CoreID) {
	d := depthFor(core)
	if d.Add(-1) < 0 {
		d.Store(0)
	}
}

// InterruptsDisabled reports whether the given core currently has
// interrupts masked.
func InterruptsDisabled(core CoreID) bool {
	return depthFor(core).Load() > 0
}
