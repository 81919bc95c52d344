// Package memaddr provides the PhysFrame/VirtPage address algebra spec.md
// §3 describes: 4 KiB-aligned physical and virtual addresses, with
// arithmetic expressed in units of whole pages rather than raw bytes.
package memaddr

import "fmt"

// PageSize is the kernel's only supported page granularity. Huge pages are
// explicitly a non-goal (spec.md §1).
const PageSize = 4096

// PhysFrame is the base address of a 4 KiB-aligned physical frame.
type PhysFrame uint64

// ContainingFrame returns the frame that contains the physical address
// addr, rounding down to the nearest page boundary.
func ContainingFrame(addr uint64) PhysFrame {
	return PhysFrame(addr &^ (PageSize - 1))
}

// Address returns the frame's base physical address.
func (f PhysFrame) Address() uint64 { return uint64(f) }

// Number returns the frame's index (address / PageSize).
func (f PhysFrame) Number() uint64 { return uint64(f) / PageSize }

// IsAligned reports whether f is 4 KiB-aligned. Constructed PhysFrame
// values are always aligned; this guards values built from raw arithmetic.
func (f PhysFrame) IsAligned() bool { return uint64(f)%PageSize == 0 }

// Add returns the frame n pages after f.
func (f PhysFrame) Add(n uint64) PhysFrame { return PhysFrame(uint64(f) + n*PageSize) }

// Sub returns the number of pages between f and other (f - other), which
// must be non-negative.
func (f PhysFrame) Sub(other PhysFrame) uint64 {
	return (uint64(f) - uint64(other)) / PageSize
}

func (f PhysFrame) String() string {
	return fmt.Sprintf("PhysFrame(0x%x)", uint64(f))
}

// VirtPage is the base address of a 4 KiB-aligned virtual page.
type VirtPage uint64

// ContainingPage returns the page that contains the virtual address addr.
func ContainingPage(addr uint64) VirtPage {
	return VirtPage(addr &^ (PageSize - 1))
}

func (p VirtPage) Address() uint64 { return uint64(p) }

func (p VirtPage) Number() uint64 { return uint64(p) / PageSize }

func (p VirtPage) IsAligned() bool { return uint64(p)%PageSize == 0 }

func (p VirtPage) Add(n uint64) VirtPage { return VirtPage(uint64(p) + n*PageSize) }

func (p VirtPage) Sub(other VirtPage) uint64 {
	return (uint64(p) - uint64(other)) / PageSize
}

func (p VirtPage) String() string {
	return fmt.Sprintf("VirtPage(0x%x)", uint64(p))
}

// Range is an inclusive-start, exclusive-end span of pages, [Start, End).
type Range struct {
	Start VirtPage
	End   VirtPage
}

// Pages returns the number of pages covered by r.
func (r Range) Pages() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End.Sub(r.Start)
}

// Empty reports whether r covers zero pages.
func (r Range) Empty() bool { return r.End <= r.Start }

// Contains reports whether page lies within [Start, End).
func (r Range) Contains(page VirtPage) bool {
	return page >= r.Start && page < r.End
}
