package physmem

import (
	"sync"

	"github.com/dbartussek-go/kernelcore/internal/kmutex"
	"github.com/dbartussek-go/kernelcore/internal/memaddr"
)

// Map is the PageUsageMap: a contiguous array of PageUsage entries indexed
// by (frame - base), exclusively owned by the kernel while booted. Once
// registered with RegisterGlobal it is reachable through Global, which
// holds the package-level global spinlock; a *Map held directly by a
// caller is not locked by the Map itself.
type Map struct {
	base    memaddr.PhysFrame
	entries []PageUsage

	lock *kmutex.Spinlock
}

// Create initializes a new Map covering count frames starting at base,
// with every entry set to fill. fill is typically Unusable(): callers then
// mark the ranges reported as CONVENTIONAL by firmware as Empty.
func Create(base memaddr.PhysFrame, count uint64, fill PageUsage) *Map {
	entries := make([]PageUsage, count)
	for i := range entries {
		entries[i] = fill
	}

	return &Map{
		base:    base,
		entries: entries,
		lock:    kmutex.New("PhysicalMemoryMap"),
	}
}

// Base returns the first frame tracked by the map.
func (m *Map) Base() memaddr.PhysFrame { return m.base }

// Len returns the number of frames tracked by the map.
func (m *Map) Len() int { return len(m.entries) }

func (m *Map) index(frame memaddr.PhysFrame) (int, bool) {
	if frame < m.base {
		return 0, false
	}
	idx := frame.Sub(m.base)
	if idx >= uint64(len(m.entries)) {
		return 0, false
	}
	return int(idx), true
}

// Set replaces the usage tagged at frame, returning the previous value. It
// returns (zero, false) if frame lies outside the managed range.
func (m *Map) Set(frame memaddr.PhysFrame, value PageUsage) (PageUsage, bool) {
	idx, ok := m.index(frame)
	if !ok {
		return PageUsage{}, false
	}

	prev := m.entries[idx]
	m.entries[idx] = value

	return prev, true
}

// Get returns the usage tagged at frame, or (zero, false) if frame lies
// outside the managed range.
func (m *Map) Get(frame memaddr.PhysFrame) (PageUsage, bool) {
	idx, ok := m.index(frame)
	if !ok {
		return PageUsage{}, false
	}
	return m.entries[idx], true
}

// FindUnusedFrame performs a linear scan and returns the first frame
// tagged Empty, or (zero, false) if none exists.
func (m *Map) FindUnusedFrame() (memaddr.PhysFrame, bool) {
	for i, usage := range m.entries {
		if usage.Category() == CategoryEmpty {
			return m.base.Add(uint64(i)), true
		}
	}
	return 0, false
}

// Iter calls fn for every entry in ascending frame order, stopping early if
// fn returns false.
func (m *Map) Iter(fn func(frame memaddr.PhysFrame, usage PageUsage) bool) {
	for i, usage := range m.entries {
		if !fn(m.base.Add(uint64(i)), usage) {
			return
		}
	}
}

// DeallocateFrame sets frame's tag to Empty. The caller guarantees the
// frame is owned by nothing else at the time of the call.
func (m *Map) DeallocateFrame(frame memaddr.PhysFrame) bool {
	_, ok := m.Set(frame, Empty())
	return ok
}

// Stats summarizes frame usage across the whole map, used by diagnostics
// and by the boot pivot's post-handoff sanity checks.
type Stats struct {
	Total    int
	Free     int
	Used     int
	ByCategory map[Category]int
}

// Stats computes a Stats snapshot by scanning the map once.
func (m *Map) Stats() Stats {
	s := Stats{Total: len(m.entries), ByCategory: make(map[Category]int)}
	for _, usage := range m.entries {
		s.ByCategory[usage.Category()]++
		if usage.Category() == CategoryEmpty {
			s.Free++
		} else {
			s.Used++
		}
	}
	return s
}

// Snapshot returns a defensive copy of every tracked entry, in ascending
// frame order, for diagnostics that must not hold the global guard for the
// duration of an assertion.
func (m *Map) Snapshot() []PageUsage {
	out := make([]PageUsage, len(m.entries))
	copy(out, m.entries)
	return out
}

// --- process-global binding -------------------------------------------------

var (
	globalOnce sync.Once
	globalMap  *Map
	globalLock = kmutex.New("PhysicalMemoryMap")
)

// RegisterGlobal stores m as the process-wide PageUsageMap. It panics if a
// map has already been registered: the spec requires double-initialization
// of one-shot global state to panic rather than silently replace the
// previous value.
func RegisterGlobal(m *Map) {
	registered := false
	globalOnce.Do(func() {
		globalMap = m
		registered = true
	})
	if !registered {
		panic("physmem: RegisterGlobal called more than once")
	}
}

// Global acquires the global map's spinlock — disabling interrupts on the
// calling core for the duration — and invokes fn with the guarded map. The
// lock is released when fn returns. Recursive calls to Global from within
// fn on the same core panic via kmutex's deadlock diagnostic.
func Global(fn func(*Map)) {
	globalLock.Lock()
	defer globalLock.Unlock()

	if globalMap == nil {
		panic("physmem: Global called before RegisterGlobal")
	}

	fn(globalMap)
}

// TakeGlobal removes and returns the registered global map, clearing the
// one-shot cell so a fresh map can be registered. It is intended for tests
// and for controlled re-initialization sequences, never for normal boot
// flow.
func TakeGlobal() *Map {
	globalLock.Lock()
	defer globalLock.Unlock()

	m := globalMap
	globalMap = nil
	globalOnce = sync.Once{}

	return m
}
