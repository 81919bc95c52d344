package pagetable

import "github.com/dbartussek-go/kernelcore/internal/memaddr"

// UserSpaceEnd is the first address past the user-space window (spec.md
// §3): [0, UserSpaceEnd) is user space.
const UserSpaceEnd = memaddr.VirtPage(0x0000_8000_0000_0000)

// KernelSpaceBase is the first address of kernel space. Every canonical
// address not in user space lies at or above this base.
const KernelSpaceBase = memaddr.VirtPage(0xFFFF_8000_0000_0000)

// RegionSize is the size in bytes of one 48-bit-aligned kernel region.
const RegionSize = uint64(1) << 44

// Region identifies one of the eight fixed-size slices of kernel space,
// each with its own mutation lock.
type Region int

const (
	RegionIdentity    Region = 0
	RegionKernelHeap  Region = 6
	RegionKernelStack Region = 7
)

func (r Region) Name() string {
	switch r {
	case RegionIdentity:
		return "identity"
	case RegionKernelHeap:
		return "kernel_heap"
	case RegionKernelStack:
		return "kernel_stack"
	default:
		return "reserved"
	}
}

// Bounds returns the [start, end) virtual range this region covers.
func (r Region) Bounds() memaddr.Range {
	start := memaddr.VirtPage(uint64(KernelSpaceBase) + uint64(r)*RegionSize)
	return memaddr.Range{Start: start, End: memaddr.VirtPage(uint64(start) + RegionSize)}
}

// regionOf returns the region containing addr. Only RegionIdentity,
// RegionKernelHeap, and RegionKernelStack are recognized by this core — the
// spec's "unknown region numbers are rejected" rule means every other slot
// (reserved for out-of-scope collaborators such as the ELF loader) reports
// ok=false.
func regionOf(addr uint64) (Region, bool) {
	if addr < uint64(KernelSpaceBase) {
		return 0, false
	}

	idx := (addr - uint64(KernelSpaceBase)) / RegionSize
	if idx > 7 {
		return 0, false
	}

	r := Region(idx)
	switch r {
	case RegionIdentity, RegionKernelHeap, RegionKernelStack:
		return r, true
	default:
		return 0, false
	}
}

// isCanonical reports whether addr is a canonical x86_64 virtual address:
// bits 48-63 must equal the sign-extension of bit 47.
func isCanonical(addr uint64) bool {
	signBit := (addr >> 47) & 1
	upper := addr >> 48

	if signBit == 0 {
		return upper == 0
	}
	return upper == 0xFFFF
}
