// Package physmem implements the PageUsageMap: a dense, process-global
// table that tags every physical frame in the managed range with its
// current role (spec.md §3, §4.1). It also implements the two frame
// allocator cursors defined over that map (spec.md §4.2).
//
// PageUsage is modeled as a Go sum type via a private tag plus payload,
// matching spec.md §9's instruction that the 64-bit (category<<32)|data
// packing is purely a storage optimization and must never leak into call
// sites — code constructs and inspects PageUsage through the exported
// constructors and accessors below, never the raw encoding.
package physmem

import "github.com/dbartussek-go/kernelcore/internal/kernelerr"

// Category names the role a physical frame currently plays.
type Category uint32

const (
	CategoryEmpty         Category = 0
	CategoryUnusable      Category = 1
	CategoryPageTableRoot Category = 2
	CategoryPageTable     Category = 3
	CategoryKernelStack   Category = 4
	CategoryKernelHeap    Category = 5
	CategoryCustom        Category = 0xFFFFFFFF
)

func (c Category) String() string {
	switch c {
	case CategoryEmpty:
		return "Empty"
	case CategoryUnusable:
		return "Unusable"
	case CategoryPageTableRoot:
		return "PageTableRoot"
	case CategoryPageTable:
		return "PageTable"
	case CategoryKernelStack:
		return "KernelStack"
	case CategoryKernelHeap:
		return "KernelHeap"
	case CategoryCustom:
		return "Custom"
	default:
		return "Invalid"
	}
}

// PageUsage tags a single physical frame. Empty and Unusable carry no
// payload; KernelStack carries the owning thread id; Custom carries an
// uninterpreted caller tag.
type PageUsage struct {
	category Category
	data     uint32
}

func Empty() PageUsage         { return PageUsage{category: CategoryEmpty} }
func Unusable() PageUsage      { return PageUsage{category: CategoryUnusable} }
func PageTableRoot() PageUsage { return PageUsage{category: CategoryPageTableRoot} }
func PageTable() PageUsage     { return PageUsage{category: CategoryPageTable} }
func KernelHeap() PageUsage    { return PageUsage{category: CategoryKernelHeap} }

// KernelStack tags a frame reserved as the kernel stack for the given
// thread id.
func KernelStack(thread uint32) PageUsage {
	return PageUsage{category: CategoryKernelStack, data: thread}
}

// Custom tags a frame with a caller-defined, kernel-core-uninterpreted
// value.
func Custom(tag uint32) PageUsage {
	return PageUsage{category: CategoryCustom, data: tag}
}

// Category returns the usage's category.
func (u PageUsage) Category() Category { return u.category }

// Thread returns the thread id for a KernelStack usage and true; for any
// other category it returns (0, false).
func (u PageUsage) Thread() (uint32, bool) {
	if u.category != CategoryKernelStack {
		return 0, false
	}
	return u.data, true
}

// Tag returns the caller tag for a Custom usage and true; for any other
// category it returns (0, false).
func (u PageUsage) Tag() (uint32, bool) {
	if u.category != CategoryCustom {
		return 0, false
	}
	return u.data, true
}

// IsFree reports whether a frame tagged with this usage is available for
// allocation.
func (u PageUsage) IsFree() bool { return u.category == CategoryEmpty }

// ToRaw packs u into the 64-bit on-disk representation (category<<32)|data.
func (u PageUsage) ToRaw() uint64 {
	return uint64(u.category)<<32 | uint64(u.data)
}

// FromRaw unpacks a 64-bit slot into a PageUsage, failing if the category
// half does not correspond to a recognized category. This is the only
// place the encoding is interpreted — everywhere else operates on PageUsage
// values.
func FromRaw(raw uint64) (PageUsage, error) {
	category := Category(raw >> 32)
	data := uint32(raw)

	switch category {
	case CategoryEmpty, CategoryUnusable, CategoryPageTableRoot, CategoryPageTable,
		CategoryKernelStack, CategoryKernelHeap, CategoryCustom:
		return PageUsage{category: category, data: data}, nil
	default:
		return PageUsage{}, kernelerr.NewDecodeError(raw)
	}
}

func (u PageUsage) String() string {
	switch u.category {
	case CategoryKernelStack:
		return "KernelStack(" + itoa(u.data) + ")"
	case CategoryCustom:
		return "Custom(" + itoa(u.data) + ")"
	default:
		return u.category.String()
	}
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
