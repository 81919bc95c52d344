package pagetable

import (
	"sync"
	"sync/atomic"

	"github.com/dbartussek-go/kernelcore/internal/kernelerr"
	"github.com/dbartussek-go/kernelcore/internal/memaddr"
	"github.com/dbartussek-go/kernelcore/internal/physmem"
)

// ManagedPageTable owns the physical frame of a level-4 table. The frame
// is tagged PageTableRoot in the PageUsageMap, and every intermediate
// L3/L2/L1 frame it owns is tagged PageTable (spec.md §3).
type ManagedPageTable struct {
	l4 memaddr.PhysFrame
}

// FromRawFrame wraps a physically-allocated, already-initialized L4 table.
// It does not validate the frame's tag or contents — callers that build a
// table outside the normal CreateOffspring path are responsible for
// tagging it PageTableRoot themselves.
func FromRawFrame(frame memaddr.PhysFrame) *ManagedPageTable {
	return &ManagedPageTable{l4: frame}
}

// L4Frame returns the frame backing this table's level-4 table.
func (t *ManagedPageTable) L4Frame() memaddr.PhysFrame { return t.l4 }

// --- simulated CR3 -----------------------------------------------------

var activeL4 atomic.Uint64

// ReadCurrent wraps the frame currently loaded into the simulated CR3.
func ReadCurrent() *ManagedPageTable {
	return FromRawFrame(memaddr.PhysFrame(activeL4.Load()))
}

// Activate writes t's frame into the simulated CR3 — the kernel's
// single-writer register, per spec.md §5.
func (t *ManagedPageTable) Activate() {
	activeL4.Store(t.l4.Address())
}

// --- identity_base -------------------------------------------------------

var (
	identityBaseOnce sync.Once
	identityBase     atomic.Uint64
)

// IdentityBase returns the process-wide identity-map base. It is zero
// until SetIdentityBase is called, matching spec.md §9's required boot
// order: identity_base starts at 0 (low memory is identity-mapped by the
// firmware already) and is raised to its final value only after CR3 has
// been switched onto a table that maps high memory too.
func IdentityBase() memaddr.VirtPage {
	return memaddr.VirtPage(identityBase.Load())
}

// SetIdentityBase installs the final identity-map base exactly once; a
// second call panics, matching the one-shot-cell discipline spec.md §9
// requires for this value.
func SetIdentityBase(base memaddr.VirtPage) {
	set := false
	identityBaseOnce.Do(func() {
		identityBase.Store(uint64(base))
		set = true
	})
	if !set {
		panic("pagetable: SetIdentityBase called more than once")
	}
}

// ResetIdentityBaseForTest restores the one-shot cell to its unset state.
// It exists only so test code — in this package and in packages such as
// internal/bootpivot that drive the cell through a full boot sequence — can
// exercise SetIdentityBase more than once across independent test cases.
func ResetIdentityBaseForTest() {
	identityBaseOnce = sync.Once{}
	identityBase.Store(0)
}

// --- construction --------------------------------------------------------

// CreateOffspring allocates a new PageTableRoot frame, zeroes it, and
// copies t's upper-half (kernel) entries into it by value. The lower
// (user-space) half of the new table starts fully unmapped. The copied L4
// entries point at the same L3 tables as t's, so kernel-space mutations
// below an L4 entry that was present at copy time are visible to both
// tables; an L4 entry added to t after the copy is not. NewBootRootTable
// pre-populates every upper-half L4 entry so that offspring of the boot
// table share one kernel half.
func (t *ManagedPageTable) CreateOffspring(ram *physmem.RAM, m *physmem.Map) (*ManagedPageTable, error) {
	alloc, err := physmem.NewFrameAllocator(physmem.PageTableRoot())
	if err != nil {
		return nil, err
	}

	tok, err := alloc.Allocate(m)
	if err != nil {
		return nil, err
	}

	zeroTable(ram, tok.Frame)

	for i := upperHalfStart; i < entriesPerTable; i++ {
		writeEntry(ram, tok.Frame, i, readEntry(ram, t.l4, i))
	}

	return FromRawFrame(tok.Frame), nil
}

// NewBootRootTable allocates a fresh L4 table with every upper-half entry
// (256..511) pre-populated with its own freshly allocated, zeroed
// intermediate table — the boot pivot's starting point (spec.md §4.6 step
// 7), so every later CreateOffspring copies a fully-formed kernel half
// instead of lazily racing table construction against concurrent
// offspring.
func NewBootRootTable(ram *physmem.RAM, m *physmem.Map) (*ManagedPageTable, error) {
	rootAlloc, err := physmem.NewFrameAllocator(physmem.PageTableRoot())
	if err != nil {
		return nil, err
	}
	root, err := rootAlloc.Allocate(m)
	if err != nil {
		return nil, err
	}
	zeroTable(ram, root.Frame)

	intermediateAlloc, err := physmem.NewFrameAllocator(physmem.PageTable())
	if err != nil {
		return nil, err
	}

	for i := upperHalfStart; i < entriesPerTable; i++ {
		child, err := intermediateAlloc.Allocate(m)
		if err != nil {
			return nil, err
		}
		zeroTable(ram, child.Frame)
		writeEntry(ram, root.Frame, i, newEntry(child.Frame, FlagPresent|FlagWritable))
	}

	return FromRawFrame(root.Frame), nil
}

// Dispose marks t as torn down. Teardown of page-table frames themselves is
// out of scope for this core (spec.md §9, open question c) — Dispose exists
// only to enforce the one real invariant that scope still requires:
// disposing the table currently loaded into the simulated CR3 is always a
// bug, and panics rather than leaving the kernel running on a table its
// caller believes is gone.
func (t *ManagedPageTable) Dispose() {
	if activeL4.Load() == t.l4.Address() {
		panic("pagetable: Dispose called on the table currently active in CR3")
	}
}

// Translate reports the state of the virtual page containing addr: if it
// resolves to a present leaf entry, it returns the backing frame and leaf
// flags and ok=true; otherwise it returns ok=false (Unmapped).
func (t *ManagedPageTable) Translate(ram *physmem.RAM, page memaddr.VirtPage) (memaddr.PhysFrame, Flags, bool) {
	l4, l3, l2, l1 := tableIndices(page.Address())

	e4 := readEntry(ram, t.l4, l4)
	if !e4.present() {
		return 0, 0, false
	}

	e3 := readEntry(ram, e4.frame(), l3)
	if !e3.present() {
		return 0, 0, false
	}

	e2 := readEntry(ram, e3.frame(), l2)
	if !e2.present() {
		return 0, 0, false
	}

	e1 := readEntry(ram, e2.frame(), l1)
	if !e1.present() {
		return 0, 0, false
	}

	return e1.frame(), e1.flags(), true
}

// walkToLeaf returns the (frame, index) of the L1 entry backing page. If
// any intermediate level is missing and alloc is non-nil, a fresh
// PageTable-tagged frame is allocated and linked in; if alloc is nil and a
// level is missing, ok is false.
func walkToLeaf(ram *physmem.RAM, l4 memaddr.PhysFrame, page memaddr.VirtPage, m *physmem.Map, alloc frameChooser) (frame memaddr.PhysFrame, idx int, ok bool, err error) {
	l4i, l3i, l2i, l1i := tableIndices(page.Address())

	next := func(tableFrame memaddr.PhysFrame, index int, userSpace bool) (memaddr.PhysFrame, bool, error) {
		e := readEntry(ram, tableFrame, index)
		if e.present() {
			return e.frame(), true, nil
		}
		if alloc == nil {
			return 0, false, nil
		}

		childFrame, err := alloc(m)
		if err != nil {
			return 0, false, err
		}

		zeroTable(ram, childFrame)

		flags := FlagPresent | FlagWritable
		if userSpace {
			flags |= FlagUser
		}
		writeEntry(ram, tableFrame, index, newEntry(childFrame, flags))

		return childFrame, true, nil
	}

	userSpace := page.Address() < uint64(KernelSpaceBase)

	l3Frame, ok, err := next(l4, l4i, userSpace)
	if err != nil || !ok {
		return 0, 0, ok, err
	}

	l2Frame, ok, err := next(l3Frame, l3i, userSpace)
	if err != nil || !ok {
		return 0, 0, ok, err
	}

	l1Frame, ok, err := next(l2Frame, l2i, userSpace)
	if err != nil || !ok {
		return 0, 0, ok, err
	}

	return l1Frame, l1i, true, nil
}

// frameChooser allocates one intermediate PageTable-tagged frame.
type frameChooser func(m *physmem.Map) (memaddr.PhysFrame, error)

func defaultIntermediateAllocator() (frameChooser, error) {
	alloc, err := physmem.NewFrameAllocator(physmem.PageTable())
	if err != nil {
		return nil, err
	}
	return func(m *physmem.Map) (memaddr.PhysFrame, error) {
		tok, err := alloc.Allocate(m)
		if err != nil {
			return 0, err
		}
		return tok.Frame, nil
	}, nil
}

var errRangeNotPresent = kernelerr.NewAllocationError("RANGE_NOT_PRESENT", "every page in the requested range must already be mapped", nil)
