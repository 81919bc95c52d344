// Package pagetable implements ManagedPageTable and ModificationSession:
// the multi-level x86_64 page-table builder/mutator described in spec.md
// §4.3. It owns the physical frame of a level-4 table, exposes a
// modification session that acquires the locks for the kernel
// address-space regions a caller declares it will touch, and performs
// map_pages / unmap_pages / find_free_pages_in_range under that session.
//
// Table frames are read and written through physmem.RAM.FrameBytes — the
// in-process analogue of the identity mapping a real kernel would use to
// reach its own page tables (spec.md §4.3, "Access to the backing table is
// via the identity mapping at the current identity_base").
package pagetable

import (
	"encoding/binary"

	"github.com/dbartussek-go/kernelcore/internal/memaddr"
	"github.com/dbartussek-go/kernelcore/internal/physmem"
)

// Flags is a leaf or intermediate page-table entry's flag bits.
type Flags uint64

const (
	FlagPresent      Flags = 1 << 0
	FlagWritable     Flags = 1 << 1
	FlagUser         Flags = 1 << 2
	FlagWriteThrough Flags = 1 << 3
	FlagNoCache      Flags = 1 << 4
	FlagAccessed     Flags = 1 << 5
	FlagDirty        Flags = 1 << 6
	FlagHuge         Flags = 1 << 7
	FlagGlobal       Flags = 1 << 8
	FlagNoExecute    Flags = 1 << 63
)

const addressMask = 0x000F_FFFF_FFFF_F000

// entry is a raw 512-slot page-table entry: the physical frame it points
// at, packed with Flags in the low/high bits x86_64 reserves for them.
type entry uint64

func newEntry(frame memaddr.PhysFrame, flags Flags) entry {
	return entry(frame.Address()&addressMask) | entry(flags)
}

func (e entry) frame() memaddr.PhysFrame { return memaddr.PhysFrame(uint64(e) & addressMask) }
func (e entry) flags() Flags             { return Flags(uint64(e) &^ addressMask) }
func (e entry) present() bool            { return uint64(e)&uint64(FlagPresent) != 0 }

const entriesPerTable = 512

func readEntry(ram *physmem.RAM, frame memaddr.PhysFrame, idx int) entry {
	bytes := ram.FrameBytes(frame)
	return entry(binary.LittleEndian.Uint64(bytes[idx*8 : idx*8+8]))
}

func writeEntry(ram *physmem.RAM, frame memaddr.PhysFrame, idx int, e entry) {
	bytes := ram.FrameBytes(frame)
	binary.LittleEndian.PutUint64(bytes[idx*8:idx*8+8], uint64(e))
}

func zeroTable(ram *physmem.RAM, frame memaddr.PhysFrame) {
	bytes := ram.FrameBytes(frame)
	for i := range bytes {
		bytes[i] = 0
	}
}

// tableIndices splits a virtual address into its PML4/PDPT/PD/PT indices.
func tableIndices(addr uint64) (l4, l3, l2, l1 int) {
	l4 = int((addr >> 39) & 0x1FF)
	l3 = int((addr >> 30) & 0x1FF)
	l2 = int((addr >> 21) & 0x1FF)
	l1 = int((addr >> 12) & 0x1FF)
	return
}

// upperHalfStart is the first PML4 index belonging to the shared kernel
// upper half (spec.md §3: entries 256..511 are shared across every
// ManagedPageTable).
const upperHalfStart = 256
