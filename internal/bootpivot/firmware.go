// Package bootpivot implements the UEFI-to-kernel boot pivot spec.md §4.6
// describes: the one-shot sequence that turns a firmware memory map and an
// ACPI RSDP into an active kernel page table, a populated PageUsageMap, and
// a KernelArguments record handed to the kernel entry point.
//
// The UEFI protocol boundary is out of scope (spec.md §1): this package
// reaches "firmware" only through the Firmware interface below, which is
// the narrow seam SimulatedFirmware and a real firmware shim both
// implement — the same pattern the teacher repository's
// internal/runtime/kernel uses for its own hardware abstraction.
package bootpivot

import "github.com/dbartussek-go/kernelcore/internal/memaddr"

// DescriptorType classifies one UEFI memory-map descriptor. Only
// Conventional and RuntimeServicesData are distinguished here: the boot
// pivot treats every non-Conventional type as Unusable (spec.md §8
// scenario 1), so finer UEFI descriptor types are collapsed into Other.
type DescriptorType int

const (
	DescriptorConventional DescriptorType = iota
	DescriptorRuntimeServicesData
	DescriptorOther
)

// MemoryDescriptor is one entry of the firmware's memory map.
type MemoryDescriptor struct {
	PhysStart memaddr.PhysFrame
	PageCount uint64
	Type      DescriptorType
}

// RSDPSignature is the 8-byte ACPI 2.0 RSDP signature the pivot validates
// before trusting a configuration-table pointer.
const RSDPSignature = "RSD PTR "

// Firmware is the narrow UEFI boundary the boot pivot consumes: an
// iterator of memory descriptors, an RSDP lookup, and the one boot-services
// call the pivot needs before the kernel becomes its own memory manager.
type Firmware interface {
	// RSDP returns the raw bytes of the ACPI 2.0 RSDP configuration table
	// entry and the physical address it was found at, or ok=false if UEFI
	// never published one.
	RSDP() (signature [8]byte, physAddr uint64, ok bool)

	// MemoryMap returns the firmware's memory descriptors. The pivot does
	// not assume any particular order and sorts by PhysStart itself.
	MemoryMap() []MemoryDescriptor

	// AllocatePages is boot_services.allocate_pages(AnyPages, LOADER_DATA,
	// count): it returns count contiguous, UEFI-owned physical frames.
	AllocatePages(count uint64) (memaddr.PhysFrame, error)

	// ExitBootServices tears down boot services and returns any memory-map
	// descriptors that changed as a side effect of the call.
	ExitBootServices() ([]MemoryDescriptor, error)
}

// AllocateCallback is the allocation hook the external ELF loader uses
// (spec.md §4.6 step 6): it returns a physical range to write segment
// bytes into now and the virtual range those bytes will be relocated to
// after the pivot. The ELF loader itself is out of scope for this core;
// Loader is the seam a caller supplies one through.
type AllocateCallback func(pages uint64) (physLow memaddr.PhysFrame, virtHigh memaddr.VirtPage, err error)

// Loader loads a kernel image via alloc and reports its entry point in the
// kernel's high virtual view.
type Loader interface {
	Load(alloc AllocateCallback) (entry memaddr.VirtPage, err error)
}
