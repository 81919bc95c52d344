package bootpivot

import (
	"github.com/dbartussek-go/kernelcore/internal/kernelerr"
	"github.com/dbartussek-go/kernelcore/internal/memaddr"
)

// SimulatedFirmware is a test-only Firmware implementation: every value it
// reports is configured directly by the caller instead of coming from a
// real UEFI configuration table or boot-services call.
type SimulatedFirmware struct {
	Signature [8]byte
	RSDPAddr  uint64
	NoRSDP    bool

	Descriptors     []MemoryDescriptor
	LateDescriptors []MemoryDescriptor
	ExitErr         error

	allocCursor memaddr.PhysFrame
	allocLimit  memaddr.PhysFrame
}

// NewSimulatedFirmware returns a fake reporting a valid RSDP and a single
// Conventional descriptor covering [0, frameCount), the common case most
// tests need. Callers can still overwrite any field before use.
func NewSimulatedFirmware(frameCount uint64) *SimulatedFirmware {
	fw := &SimulatedFirmware{
		RSDPAddr: 0x0009_0000,
		Descriptors: []MemoryDescriptor{
			{PhysStart: 0, PageCount: frameCount, Type: DescriptorConventional},
		},
		// A handful of frames beyond the reported Conventional window,
		// standing in for boot-services-owned memory a real firmware can
		// still hand out via AllocatePages after publishing its map.
		allocCursor: memaddr.PhysFrame(frameCount),
		allocLimit:  memaddr.PhysFrame(frameCount + 64),
	}
	copy(fw.Signature[:], RSDPSignature)
	return fw
}

// ReserveAllocatable shrinks the window AllocatePages draws from to
// [start, limit), letting a test exhaust it deterministically.
func (fw *SimulatedFirmware) ReserveAllocatable(start, limit memaddr.PhysFrame) {
	fw.allocCursor = start
	fw.allocLimit = limit
}

func (fw *SimulatedFirmware) RSDP() (signature [8]byte, physAddr uint64, ok bool) {
	if fw.NoRSDP {
		return [8]byte{}, 0, false
	}
	return fw.Signature, fw.RSDPAddr, true
}

func (fw *SimulatedFirmware) MemoryMap() []MemoryDescriptor {
	out := make([]MemoryDescriptor, len(fw.Descriptors))
	copy(out, fw.Descriptors)
	return out
}

func (fw *SimulatedFirmware) AllocatePages(count uint64) (memaddr.PhysFrame, error) {
	if fw.allocCursor.Add(count) > fw.allocLimit {
		return 0, kernelerr.NoFreeFrame()
	}
	start := fw.allocCursor
	fw.allocCursor = fw.allocCursor.Add(count)
	return start, nil
}

func (fw *SimulatedFirmware) ExitBootServices() ([]MemoryDescriptor, error) {
	if fw.ExitErr != nil {
		return nil, fw.ExitErr
	}
	out := make([]MemoryDescriptor, len(fw.LateDescriptors))
	copy(out, fw.LateDescriptors)
	return out, nil
}
