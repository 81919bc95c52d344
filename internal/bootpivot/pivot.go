package bootpivot

import (
	"sort"

	"github.com/dbartussek-go/kernelcore/internal/kernelerr"
	"github.com/dbartussek-go/kernelcore/internal/memaddr"
	"github.com/dbartussek-go/kernelcore/internal/pagetable"
	"github.com/dbartussek-go/kernelcore/internal/physmem"
)

// KernelStackPages is the UEFI page count reserved for the kernel's
// bootstrap stack (spec.md §4.6 step 8).
const KernelStackPages = 256

// KernelArguments is the C-layout record handed to the kernel entry point,
// already relocated into the kernel's high identity view by the time the
// entry function runs (spec.md §6).
type KernelArguments struct {
	UEFIRuntimeTable  uint64
	RSDPPhysAddr      uint64
	PhysicalMemoryMap *physmem.Map
	IdentityBase      memaddr.VirtPage
}

// KernelEntry is the kernel-entry ABI spec.md §6 describes: a function that
// never returns. Run treats a return from entry as a fatal boot-pivot
// error, mirroring the real kernel's "exit QEMU with code -2" handling of
// a non-return violation.
type KernelEntry func(args *KernelArguments)

// Run performs the fourteen-step UEFI-to-kernel boot pivot exactly once,
// then calls entry and never expects it to return.
func Run(ram *physmem.RAM, fw Firmware, loader Loader, entry KernelEntry) error {
	args, _, _, err := prepare(ram, fw, loader)
	if err != nil {
		return err
	}

	entry(args)

	return kernelerr.NewFirmwareError("kernel_entry", "kernel entry point returned; expected to never return")
}

// FindRSDP is step 1 of the boot pivot (spec.md §4.6): it validates the
// UEFI-published ACPI configuration table pointer against the RSDP
// signature before the kernel trusts it for ACPI table discovery.
func FindRSDP(fw Firmware) (uint64, error) {
	signature, addr, ok := fw.RSDP()
	if !ok || string(signature[:]) != RSDPSignature {
		return 0, kernelerr.NewFirmwareError("acpi_rsdp", "no valid ACPI 2.0 RSDP in the UEFI configuration tables")
	}
	return addr, nil
}

// EnableNoExecute is step 4 of the boot pivot (spec.md §4.6): setting
// EFER.NXE so the CPU honors the no-execute bit on page-table entries.
// There is no hosted analogue to the MSR write itself; every mapping this
// pivot makes already carries FlagNoExecute where spec.md requires it,
// which is EFER.NXE's only observable effect on this module's semantics.
func EnableNoExecute() {}

// prepare runs steps 1-13 and returns the fully built KernelArguments, the
// kernel's entry point, and its stack top — split out from Run so tests can
// exercise the pivot up to but not including the non-returning call.
func prepare(ram *physmem.RAM, fw Firmware, loader Loader) (*KernelArguments, memaddr.VirtPage, memaddr.VirtPage, error) {
	// Step 1: RSDP.
	rsdpAddr, err := FindRSDP(fw)
	if err != nil {
		return nil, 0, 0, err
	}

	// Step 2: CPU-local bootstrap is out of scope for this core; the real
	// kernel's core_id=1 block has no analogue here.

	// Step 3: identity_base starts at zero.
	// (pagetable.IdentityBase() is already zero until SetIdentityBase is
	// called — nothing to do here but document the ordering requirement.)

	// Step 4.
	EnableNoExecute()

	// Step 5: memory map -> PageUsageMap.
	descriptors := append([]MemoryDescriptor(nil), fw.MemoryMap()...)
	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].PhysStart < descriptors[j].PhysStart })

	usageMap, err := buildPageUsageMap(descriptors)
	if err != nil {
		return nil, 0, 0, err
	}
	physmem.RegisterGlobal(usageMap)

	// Step 6: load the kernel image. The loader's callback both reserves
	// the physical frames to write into and reports where they will live
	// once relocated into the kernel's virtual address space.
	var entryPoint memaddr.VirtPage
	if loader != nil {
		entryPoint, err = loader.Load(func(pages uint64) (memaddr.PhysFrame, memaddr.VirtPage, error) {
			phys, err := fw.AllocatePages(pages)
			if err != nil {
				return 0, 0, err
			}
			virt := pagetable.RegionKernelHeap.Bounds().Start
			return phys, virt, nil
		})
		if err != nil {
			return nil, 0, 0, err
		}
	}

	// Step 7: build the new L4 table and identity-map all of physical
	// memory twice: once at virtual 0 (bootloader still executing there)
	// and once at the canonical identity base.
	root, err := pagetable.NewBootRootTable(ram, usageMap)
	if err != nil {
		return nil, 0, 0, err
	}

	identityBase := pagetable.RegionIdentity.Bounds().Start
	frameCount := ram.FrameCount()

	session := root.Modify(ram, pagetable.ModificationFlags{UserSpace: true, Identity: true, KernelStack: true})

	lowRange := memaddr.Range{Start: memaddr.VirtPage(0), End: memaddr.VirtPage(0).Add(frameCount)}
	if err := session.MapPages(lowRange, ram.Base(), pagetable.FlagPresent|pagetable.FlagWritable, usageMap); err != nil {
		session.Close()
		return nil, 0, 0, err
	}

	highRange := memaddr.Range{Start: identityBase, End: identityBase.Add(frameCount)}
	if err := session.MapPages(highRange, ram.Base(), pagetable.FlagPresent|pagetable.FlagWritable, usageMap); err != nil {
		session.Close()
		return nil, 0, 0, err
	}

	// Step 8: kernel stack.
	stackBase := pagetable.RegionKernelStack.Bounds().Start
	stackRange := memaddr.Range{Start: stackBase, End: stackBase.Add(KernelStackPages)}
	if err := session.MapBlankPages(stackRange, physmem.KernelStack(0),
		pagetable.FlagPresent|pagetable.FlagWritable|pagetable.FlagNoExecute, usageMap); err != nil {
		session.Close()
		return nil, 0, 0, err
	}
	stackTop := stackRange.End
	lastStackPage := stackRange.Start.Add(KernelStackPages - 1)

	session.Close()

	// Step 9: KernelArguments storage is just this Go value; no separate
	// allocation is needed in a hosted simulation.
	args := &KernelArguments{
		RSDPPhysAddr:      rsdpAddr,
		PhysicalMemoryMap: usageMap,
	}

	// Step 10: exit boot services, folding in any late memory-map changes.
	lateDescriptors, err := fw.ExitBootServices()
	if err != nil {
		return nil, 0, 0, err
	}
	for _, d := range lateDescriptors {
		applyDescriptor(usageMap, d)
	}

	// Step 11: activate the new table.
	root.Activate()

	// Step 12: translate-assert.
	if _, _, ok := root.Translate(ram, identityBase); !ok {
		return nil, 0, 0, kernelerr.NewFirmwareError("translate_assert", "identity_base is not mapped after CR3 switch")
	}
	if _, _, ok := root.Translate(ram, lastStackPage); !ok {
		return nil, 0, 0, kernelerr.NewFirmwareError("translate_assert", "kernel stack top - 1 is not mapped after CR3 switch")
	}
	if entryPoint != 0 {
		if _, _, ok := root.Translate(ram, entryPoint); !ok {
			return nil, 0, 0, kernelerr.NewFirmwareError("translate_assert", "kernel entry page is not mapped after CR3 switch")
		}
	}

	// Only now is it safe to raise identity_base to its final value —
	// raising it earlier would have the walk code compute addresses
	// against a table that was not yet active (spec.md §9).
	pagetable.SetIdentityBase(identityBase)
	args.IdentityBase = pagetable.IdentityBase()

	// Step 13: KernelArguments itself lives in this process's ordinary
	// memory, not simulated RAM, so there is no pointer to relocate; the
	// IdentityBase field set above is the observable effect step 13 has on
	// this module.

	return args, entryPoint, stackTop, nil
}

func buildPageUsageMap(descriptors []MemoryDescriptor) (*physmem.Map, error) {
	if len(descriptors) == 0 {
		return nil, kernelerr.NewFirmwareError("memory_map", "firmware returned an empty memory map")
	}

	min := descriptors[0].PhysStart
	max := descriptors[0].PhysStart.Add(descriptors[0].PageCount)
	for _, d := range descriptors[1:] {
		if d.PhysStart < min {
			min = d.PhysStart
		}
		end := d.PhysStart.Add(d.PageCount)
		if end > max {
			max = end
		}
	}

	count := max.Sub(min)
	m := physmem.Create(min, count, physmem.Unusable())

	for _, d := range descriptors {
		applyDescriptor(m, d)
	}

	return m, nil
}

func applyDescriptor(m *physmem.Map, d MemoryDescriptor) {
	if d.Type != DescriptorConventional {
		return
	}
	for i := uint64(0); i < d.PageCount; i++ {
		m.Set(d.PhysStart.Add(i), physmem.Empty())
	}
}
