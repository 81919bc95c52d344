package bootpivot

import (
	"testing"

	"github.com/dbartussek-go/kernelcore/internal/memaddr"
	"github.com/dbartussek-go/kernelcore/internal/pagetable"
	"github.com/dbartussek-go/kernelcore/internal/physmem"
)

func resetGlobals(t *testing.T) {
	t.Helper()
	physmem.TakeGlobal()
	pagetable.ResetIdentityBaseForTest()
}

// testFrameCount is generous enough to cover the boot root table's 256
// preallocated upper-half intermediates, the handful of extra L2/L1 tables
// the identity and stack mappings grow, and the 256 real frames the kernel
// stack itself claims.
const testFrameCount = 2048

func newPivotRAM(t *testing.T) *physmem.RAM {
	t.Helper()
	return physmem.NewRAM(memaddr.PhysFrame(0), testFrameCount)
}

func TestPrepareHappyPath(t *testing.T) {
	resetGlobals(t)
	t.Cleanup(func() { resetGlobals(t) })

	ram := newPivotRAM(t)
	fw := NewSimulatedFirmware(testFrameCount)

	args, entryPoint, stackTop, err := prepare(ram, fw, nil)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	if entryPoint != 0 {
		t.Errorf("entryPoint = %v, want 0 with no loader configured", entryPoint)
	}
	if stackTop == 0 {
		t.Error("stackTop should be set after a successful pivot")
	}
	if args.RSDPPhysAddr != fw.RSDPAddr {
		t.Errorf("RSDPPhysAddr = 0x%x, want 0x%x", args.RSDPPhysAddr, fw.RSDPAddr)
	}

	wantBase := pagetable.RegionIdentity.Bounds().Start
	if args.IdentityBase != wantBase {
		t.Errorf("IdentityBase = %v, want %v", args.IdentityBase, wantBase)
	}
	if pagetable.IdentityBase() != args.IdentityBase {
		t.Error("pagetable.IdentityBase() should mirror the value placed in KernelArguments")
	}

	if _, _, ok := pagetable.ReadCurrent().Translate(ram, args.IdentityBase); !ok {
		t.Error("identity_base should translate through the now-active table")
	}

	stackBase := pagetable.RegionKernelStack.Bounds().Start
	if _, _, ok := pagetable.ReadCurrent().Translate(ram, stackBase); !ok {
		t.Error("kernel stack base should translate through the now-active table")
	}
}

// TestPrepareFailsTranslateAssertWhenLoaderLeavesEntryUnmapped exercises
// step 6's narrow contract: a Loader only reserves physical frames through
// AllocateCallback, it cannot also map them (the ELF loader's own
// page-table work is explicitly out of scope), so a loader that reports an
// entry point nobody has mapped must be caught by the translate-assert
// rather than handed to the kernel as a dangling jump target.
func TestPrepareFailsTranslateAssertWhenLoaderLeavesEntryUnmapped(t *testing.T) {
	resetGlobals(t)
	t.Cleanup(func() { resetGlobals(t) })

	ram := newPivotRAM(t)
	fw := NewSimulatedFirmware(testFrameCount)

	loader := loaderFunc(func(alloc AllocateCallback) (memaddr.VirtPage, error) {
		_, virt, err := alloc(1)
		return virt, err
	})

	if _, _, _, err := prepare(ram, fw, loader); err == nil {
		t.Fatal("expected prepare to fail its translate-assert for an unmapped loader entry point")
	}
}

type loaderFunc func(alloc AllocateCallback) (memaddr.VirtPage, error)

func (f loaderFunc) Load(alloc AllocateCallback) (memaddr.VirtPage, error) { return f(alloc) }

func TestPrepareRejectsMissingRSDP(t *testing.T) {
	resetGlobals(t)
	t.Cleanup(func() { resetGlobals(t) })

	ram := newPivotRAM(t)
	fw := NewSimulatedFirmware(testFrameCount)
	fw.NoRSDP = true

	if _, _, _, err := prepare(ram, fw, nil); err == nil {
		t.Fatal("expected an error when firmware reports no RSDP")
	}
}

func TestPrepareRejectsEmptyMemoryMap(t *testing.T) {
	resetGlobals(t)
	t.Cleanup(func() { resetGlobals(t) })

	ram := newPivotRAM(t)
	fw := NewSimulatedFirmware(testFrameCount)
	fw.Descriptors = nil

	if _, _, _, err := prepare(ram, fw, nil); err == nil {
		t.Fatal("expected an error when firmware reports an empty memory map")
	}
}

func TestPrepareAppliesLateExitBootServicesDescriptors(t *testing.T) {
	resetGlobals(t)
	t.Cleanup(func() { resetGlobals(t) })

	ram := newPivotRAM(t)
	fw := NewSimulatedFirmware(testFrameCount)

	// Carve out a small RuntimeServicesData hole that only becomes
	// Conventional once ExitBootServices is called.
	reclaimed := memaddr.PhysFrame(testFrameCount - 8)
	fw.Descriptors = []MemoryDescriptor{
		{PhysStart: 0, PageCount: testFrameCount - 8, Type: DescriptorConventional},
		{PhysStart: reclaimed, PageCount: 8, Type: DescriptorRuntimeServicesData},
	}
	fw.LateDescriptors = []MemoryDescriptor{
		{PhysStart: reclaimed, PageCount: 8, Type: DescriptorConventional},
	}

	args, _, _, err := prepare(ram, fw, nil)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	usage, ok := args.PhysicalMemoryMap.Get(reclaimed)
	if !ok {
		t.Fatal("reclaimed frame should still be tracked by the map")
	}
	if usage.Category() != physmem.CategoryEmpty {
		t.Errorf("reclaimed frame category = %v, want Empty after the late descriptor was applied", usage.Category())
	}
}

// TestMisorderedIdentityBaseBeforeActivateIsUnsafe is a dry run of the
// ordering hazard spec.md §9 calls out: raising identity_base before the new
// table is loaded into the simulated CR3. It builds the same new table
// prepare does, but stops short of calling Activate, to show that code
// which trusted IdentityBase() at that point would compute an address the
// still-active table cannot resolve.
func TestMisorderedIdentityBaseBeforeActivateIsUnsafe(t *testing.T) {
	resetGlobals(t)
	t.Cleanup(func() { resetGlobals(t) })

	ram := newPivotRAM(t)
	fw := NewSimulatedFirmware(testFrameCount)

	usageMap, err := buildPageUsageMap(fw.MemoryMap())
	if err != nil {
		t.Fatal(err)
	}
	physmem.RegisterGlobal(usageMap)

	// Stand in for the firmware-provided table the bootloader is still
	// running on: it maps nothing of interest, but it is what CR3 names
	// until the pivot explicitly switches it.
	oldRoot, err := pagetable.NewBootRootTable(ram, usageMap)
	if err != nil {
		t.Fatal(err)
	}
	oldRoot.Activate()

	newRoot, err := pagetable.NewBootRootTable(ram, usageMap)
	if err != nil {
		t.Fatal(err)
	}

	identityBase := pagetable.RegionIdentity.Bounds().Start
	frameCount := ram.FrameCount()

	session := newRoot.Modify(ram, pagetable.ModificationFlags{UserSpace: true, Identity: true, KernelStack: true})
	lowRange := memaddr.Range{Start: memaddr.VirtPage(0), End: memaddr.VirtPage(0).Add(frameCount)}
	if err := session.MapPages(lowRange, ram.Base(), pagetable.FlagPresent|pagetable.FlagWritable, usageMap); err != nil {
		session.Close()
		t.Fatal(err)
	}
	highRange := memaddr.Range{Start: identityBase, End: identityBase.Add(frameCount)}
	if err := session.MapPages(highRange, ram.Base(), pagetable.FlagPresent|pagetable.FlagWritable, usageMap); err != nil {
		session.Close()
		t.Fatal(err)
	}
	session.Close()

	// The hazard: raise identity_base before switching CR3 onto newRoot.
	pagetable.SetIdentityBase(identityBase)

	if pagetable.ReadCurrent().L4Frame() != oldRoot.L4Frame() {
		t.Fatal("CR3 should still name the old table before Activate is called")
	}
	if _, _, ok := pagetable.ReadCurrent().Translate(ram, pagetable.IdentityBase()); ok {
		t.Fatal("identity_base must not translate through the still-active old table — " +
			"this is exactly the hazard the real sequence avoids by activating before raising identity_base")
	}

	// newRoot itself is fine; only the ordering was wrong.
	if _, _, ok := newRoot.Translate(ram, identityBase); !ok {
		t.Fatal("newRoot should already map identity_base, proving the hazard was ordering, not the mapping")
	}

	newRoot.Activate()
	if _, _, ok := pagetable.ReadCurrent().Translate(ram, pagetable.IdentityBase()); !ok {
		t.Fatal("after Activate, identity_base should translate through the now-current table")
	}
}
