package physmem

import "github.com/dbartussek-go/kernelcore/internal/memaddr"

// RAM is the in-process stand-in for addressable physical memory. A real
// kernel reaches every frame through the identity mapping at identity_base;
// since this module runs hosted rather than freestanding, RAM.FrameBytes is
// that identity window's Go analogue — the one seam internal/pagetable uses
// to read and write page-table frames, so swapping in a real
// mmap-backed or firmware-provided buffer (see internal/bootpivot.Firmware)
// never requires touching the page-table walking code itself.
type RAM struct {
	bytes []byte
	base  memaddr.PhysFrame
}

// NewRAM allocates a simulated physical address space of frameCount frames
// starting at base, zero-initialized.
func NewRAM(base memaddr.PhysFrame, frameCount uint64) *RAM {
	return &RAM{
		bytes: make([]byte, frameCount*memaddr.PageSize),
		base:  base,
	}
}

// FrameBytes returns a mutable view of frame's backing bytes. The slice
// aliases the RAM's storage: writes through it are visible to every other
// holder of the same frame, exactly like real physical memory.
func (r *RAM) FrameBytes(frame memaddr.PhysFrame) []byte {
	offset := frame.Sub(r.base) * memaddr.PageSize
	return r.bytes[offset : offset+memaddr.PageSize]
}

// Base returns the first frame this RAM can address.
func (r *RAM) Base() memaddr.PhysFrame { return r.base }

// FrameCount returns the number of frames this RAM can address.
func (r *RAM) FrameCount() uint64 { return uint64(len(r.bytes)) / memaddr.PageSize }

var globalRAM *RAM

// RegisterGlobalRAM installs the process-wide simulated physical memory.
// Unlike the PageUsageMap this is not guarded by a mutex: RAM bytes are
// mutated only while holding the page-table region locks that already
// serialize access to the frames those bytes belong to.
func RegisterGlobalRAM(r *RAM) { globalRAM = r }

// GlobalRAM returns the process-wide simulated physical memory, or nil if
// none has been registered yet.
func GlobalRAM() *RAM { return globalRAM }
