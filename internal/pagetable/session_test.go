package pagetable

import (
	"errors"
	"testing"

	"github.com/dbartussek-go/kernelcore/internal/kernelerr"
	"github.com/dbartussek-go/kernelcore/internal/memaddr"
	"github.com/dbartussek-go/kernelcore/internal/physmem"
)

func onePage(start memaddr.VirtPage) memaddr.Range {
	return memaddr.Range{Start: start, End: start.Add(1)}
}

// TestMutationWithoutDeclaredRegionFails reproduces spec.md §8 scenario 4:
// a mutation targeting kernel_heap without declaring KernelHeap in
// ModificationFlags is rejected.
func TestMutationWithoutDeclaredRegionFails(t *testing.T) {
	ram, m := newTestRAMAndMap(t, 16)
	table := newRootTable(t, ram, m)

	session := table.Modify(ram, ModificationFlags{Identity: true})
	defer session.Close()

	err := session.MapBlankPages(onePage(RegionKernelHeap.Bounds().Start), physmem.KernelHeap(), FlagWritable, m)

	var regionErr *kernelerr.RegionViolationError
	if !errors.As(err, &regionErr) {
		t.Fatalf("MapBlankPages = %v, want *RegionViolationError", err)
	}
	if regionErr.Code != "REGION_LOCK_NOT_HELD" {
		t.Errorf("Code = %q, want REGION_LOCK_NOT_HELD", regionErr.Code)
	}
}

func TestCrossRegionRangeRejected(t *testing.T) {
	ram, m := newTestRAMAndMap(t, 16)
	table := newRootTable(t, ram, m)

	session := table.Modify(ram, ModificationFlags{Identity: true, KernelHeap: true})
	defer session.Close()

	// One page before the identity/kernel_heap boundary through one page
	// after it: this range straddles two regions.
	r := memaddr.Range{
		Start: memaddr.VirtPage(RegionIdentity.Bounds().End.Address() - memaddr.PageSize),
		End:   memaddr.VirtPage(RegionKernelHeap.Bounds().Start.Address() + memaddr.PageSize),
	}

	err := session.MapBlankPages(r, physmem.KernelHeap(), FlagWritable, m)
	var regionErr *kernelerr.RegionViolationError
	if !errors.As(err, &regionErr) || regionErr.Code != "CROSS_REGION_RANGE" {
		t.Fatalf("MapBlankPages = %v, want CrossRegionRange", err)
	}
}

func TestUserSpaceMutationWithoutFlagRejected(t *testing.T) {
	ram, m := newTestRAMAndMap(t, 16)
	table := newRootTable(t, ram, m)

	session := table.Modify(ram, ModificationFlags{Identity: true})
	defer session.Close()

	err := session.MapBlankPages(onePage(memaddr.VirtPage(0)), physmem.Custom(1), FlagWritable, m)
	var regionErr *kernelerr.RegionViolationError
	if !errors.As(err, &regionErr) || regionErr.Code != "USER_SPACE_NOT_DECLARED" {
		t.Fatalf("MapBlankPages = %v, want UserSpaceNotDeclared", err)
	}
}

func TestNonCanonicalAddressRejected(t *testing.T) {
	ram, m := newTestRAMAndMap(t, 16)
	table := newRootTable(t, ram, m)

	session := table.Modify(ram, ModificationFlags{Identity: true})
	defer session.Close()

	bad := memaddr.Range{Start: memaddr.VirtPage(0x0000_9000_0000_0000), End: memaddr.VirtPage(0x0000_9000_0000_1000)}
	err := session.IsValidRange(bad)

	var regionErr *kernelerr.RegionViolationError
	if !errors.As(err, &regionErr) || regionErr.Code != "NON_CANONICAL_ADDRESS" {
		t.Fatalf("IsValidRange = %v, want NonCanonicalAddress", err)
	}
}

func TestMapAndUnmapRoundTrip(t *testing.T) {
	ram, m := newTestRAMAndMap(t, 16)
	table := newRootTable(t, ram, m)

	session := table.Modify(ram, ModificationFlags{KernelHeap: true})
	defer session.Close()

	page := RegionKernelHeap.Bounds().Start
	r := onePage(page)

	if err := session.MapBlankPages(r, physmem.KernelHeap(), FlagWritable, m); err != nil {
		t.Fatalf("MapBlankPages: %v", err)
	}
	frame, flags, ok := session.Translate(page)
	if !ok || flags&FlagWritable == 0 {
		t.Fatalf("Translate after map = (%v, %v, %v)", frame, flags, ok)
	}

	if err := session.UnmapPagesAndRelease(r, m); err != nil {
		t.Fatalf("UnmapPagesAndRelease: %v", err)
	}
	if _, _, ok := session.Translate(page); ok {
		t.Error("page should be unmapped after UnmapPagesAndRelease")
	}
	usage, _ := m.Get(frame)
	if usage.Category() != physmem.CategoryEmpty {
		t.Errorf("released frame category = %v, want Empty", usage.Category())
	}
}

func TestFindFreePagesInRangeSkipsMapped(t *testing.T) {
	ram, m := newTestRAMAndMap(t, 32)
	table := newRootTable(t, ram, m)

	session := table.Modify(ram, ModificationFlags{KernelHeap: true})
	defer session.Close()

	base := RegionKernelHeap.Bounds().Start
	if err := session.MapBlankPages(onePage(base), physmem.KernelHeap(), FlagWritable, m); err != nil {
		t.Fatal(err)
	}

	search := memaddr.Range{Start: base, End: base.Add(4)}
	found, err := session.FindFreePagesInRange(search, 2, 1)
	if err != nil {
		t.Fatalf("FindFreePagesInRange: %v", err)
	}
	if found.Start != base.Add(1) {
		t.Errorf("found.Start = %v, want the first page after the mapped one", found.Start)
	}
}

func TestGlobalSessionForcesUserSpaceFalse(t *testing.T) {
	ram, m := newTestRAMAndMap(t, 16)
	table := newRootTable(t, ram, m)
	table.Activate()

	err := ModifyGlobal(ram, ModificationFlags{UserSpace: true, Identity: true}, func(s *ModificationSession) error {
		return s.IsValidRange(onePage(memaddr.VirtPage(0)))
	})

	var regionErr *kernelerr.RegionViolationError
	if !errors.As(err, &regionErr) || regionErr.Code != "USER_SPACE_NOT_DECLARED" {
		t.Fatalf("ModifyGlobal should clear UserSpace even when the caller sets it, got %v", err)
	}
}

// TestSequentialSessionsOnSameRegionDoNotDeadlock exercises the lock
// discipline a ModificationSession relies on: closing one session on a
// region must fully release it before a second session can declare the
// same region.
func TestSequentialSessionsOnSameRegionDoNotDeadlock(t *testing.T) {
	ram, m := newTestRAMAndMap(t, 16)
	table := newRootTable(t, ram, m)

	s1 := table.Modify(ram, ModificationFlags{KernelHeap: true})
	s1.Close()

	s2 := table.Modify(ram, ModificationFlags{KernelHeap: true})
	s2.Close()
}
