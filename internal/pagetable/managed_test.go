package pagetable

import (
	"testing"

	"github.com/dbartussek-go/kernelcore/internal/memaddr"
	"github.com/dbartussek-go/kernelcore/internal/physmem"
)

func newTestRAMAndMap(t *testing.T, frameCount uint64) (*physmem.RAM, *physmem.Map) {
	t.Helper()
	ram := physmem.NewRAM(memaddr.PhysFrame(0), frameCount)
	m := physmem.Create(memaddr.PhysFrame(0), frameCount, physmem.Empty())
	return ram, m
}

func newRootTable(t *testing.T, ram *physmem.RAM, m *physmem.Map) *ManagedPageTable {
	t.Helper()
	alloc, err := physmem.NewFrameAllocator(physmem.PageTableRoot())
	if err != nil {
		t.Fatal(err)
	}
	tok, err := alloc.Allocate(m)
	if err != nil {
		t.Fatal(err)
	}
	zeroTable(ram, tok.Frame)
	return FromRawFrame(tok.Frame)
}

func TestCreateOffspringCopiesUpperHalfOnly(t *testing.T) {
	ram, m := newTestRAMAndMap(t, 64)
	parent := newRootTable(t, ram, m)

	session := parent.Modify(ram, ModificationFlags{UserSpace: true, KernelHeap: true})
	userRange := memaddr.Range{Start: memaddr.VirtPage(0), End: memaddr.VirtPage(0).Add(1)}
	heapRange := RegionKernelHeap.Bounds()
	heapRange.End = heapRange.Start.Add(1)

	if err := session.MapBlankPages(userRange, physmem.Custom(1), FlagWritable, m); err != nil {
		t.Fatalf("MapBlankPages user: %v", err)
	}
	if err := session.MapBlankPages(heapRange, physmem.KernelHeap(), FlagWritable, m); err != nil {
		t.Fatalf("MapBlankPages heap: %v", err)
	}
	session.Close()

	child, err := parent.CreateOffspring(ram, m)
	if err != nil {
		t.Fatalf("CreateOffspring: %v", err)
	}

	if _, _, ok := child.Translate(ram, userRange.Start); ok {
		t.Error("offspring should not inherit the parent's user-space mapping")
	}
	if _, flags, ok := child.Translate(ram, heapRange.Start); !ok || flags&FlagWritable == 0 {
		t.Error("offspring should inherit the parent's kernel-space mapping")
	}
}

func TestTranslateUnmappedReportsFalse(t *testing.T) {
	ram, m := newTestRAMAndMap(t, 8)
	table := newRootTable(t, ram, m)

	if _, _, ok := table.Translate(ram, memaddr.VirtPage(0)); ok {
		t.Error("Translate on a freshly created table should report unmapped")
	}
}

func TestActivateAndReadCurrent(t *testing.T) {
	ram, m := newTestRAMAndMap(t, 8)
	table := newRootTable(t, ram, m)

	table.Activate()
	if ReadCurrent().L4Frame() != table.L4Frame() {
		t.Error("ReadCurrent should return the most recently activated table")
	}
}

func TestSetIdentityBaseOnceThenPanics(t *testing.T) {
	ResetIdentityBaseForTest()
	defer ResetIdentityBaseForTest()

	if IdentityBase() != 0 {
		t.Fatal("IdentityBase should start at zero, matching the pre-pivot boot state")
	}

	SetIdentityBase(memaddr.VirtPage(0xFFFF_8000_0000_0000))
	if IdentityBase() != memaddr.VirtPage(0xFFFF_8000_0000_0000) {
		t.Fatal("SetIdentityBase did not take effect")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on second SetIdentityBase call")
		}
	}()
	SetIdentityBase(memaddr.VirtPage(0x1000))
}
