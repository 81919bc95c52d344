package physmem

import (
	"github.com/dbartussek-go/kernelcore/internal/kernelerr"
	"github.com/dbartussek-go/kernelcore/internal/memaddr"
)

// UnusedPhysFrame is a token proving the wrapped frame has just been tagged
// non-Empty by a FrameAllocator and is therefore not in use anywhere else.
// It does not own any memory and does not zero the frame.
type UnusedPhysFrame struct {
	Frame memaddr.PhysFrame
}

// FrameAllocator is a stateful cursor over a Map: each call to Allocate
// finds an Empty frame, tags it with the allocator's configured usage, and
// returns it as an UnusedPhysFrame. It fails when no Empty frame remains.
type FrameAllocator struct {
	usage PageUsage
}

// NewFrameAllocator returns a cursor that tags every frame it hands out
// with usage. usage must not be Empty or Unusable — those are not valid
// allocation targets.
func NewFrameAllocator(usage PageUsage) (*FrameAllocator, error) {
	if usage.Category() == CategoryEmpty || usage.Category() == CategoryUnusable {
		return nil, kernelerr.NewAllocationError("INVALID_TARGET_USAGE",
			"frame allocator usage must not be Empty or Unusable", map[string]any{"usage": usage.String()})
	}
	return &FrameAllocator{usage: usage}, nil
}

// Allocate finds the first Empty frame in m, tags it with the allocator's
// usage, and returns it.
func (a *FrameAllocator) Allocate(m *Map) (UnusedPhysFrame, error) {
	frame, ok := m.FindUnusedFrame()
	if !ok {
		return UnusedPhysFrame{}, kernelerr.NoFreeFrame()
	}

	m.Set(frame, a.usage)

	return UnusedPhysFrame{Frame: frame}, nil
}

// ExternalFrameAllocator is a cursor that delegates the *choice* of frame
// to a caller-supplied function but still performs the tag update and
// enforces the same usage-category restriction as FrameAllocator.
type ExternalFrameAllocator struct {
	usage  PageUsage
	choose func(*Map) (memaddr.PhysFrame, bool)
}

// NewExternalFrameAllocator returns a cursor that tags whichever frame
// choose selects with usage.
func NewExternalFrameAllocator(usage PageUsage, choose func(*Map) (memaddr.PhysFrame, bool)) (*ExternalFrameAllocator, error) {
	if usage.Category() == CategoryEmpty || usage.Category() == CategoryUnusable {
		return nil, kernelerr.NewAllocationError("INVALID_TARGET_USAGE",
			"frame allocator usage must not be Empty or Unusable", map[string]any{"usage": usage.String()})
	}
	return &ExternalFrameAllocator{usage: usage, choose: choose}, nil
}

// Allocate asks choose to pick a frame from m, tags it with the
// allocator's usage, and returns it.
func (a *ExternalFrameAllocator) Allocate(m *Map) (UnusedPhysFrame, error) {
	frame, ok := a.choose(m)
	if !ok {
		return UnusedPhysFrame{}, kernelerr.NoFreeFrame()
	}

	m.Set(frame, a.usage)

	return UnusedPhysFrame{Frame: frame}, nil
}
