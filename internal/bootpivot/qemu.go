package bootpivot

import (
	"github.com/dbartussek-go/kernelcore/internal/kernelerr"
	"github.com/dbartussek-go/kernelcore/internal/memaddr"
)

// QEMUFirmware is the Firmware implementation cmd/kernel runs against. It
// has no real UEFI boot-services behind it — there is no freestanding
// target in this hosted simulation — but it reports the memory layout a
// `qemu-system-x86_64 -m <size>` guest actually publishes: a reserved
// low-memory hole for legacy BIOS structures, one large Conventional region
// for the rest of RAM, and a synthetic RSDP written at the fixed address
// QEMU's own firmware (OVMF/SeaBIOS) places it at.
type QEMUFirmware struct {
	reservedLowPages uint64
	totalPages       uint64

	allocCursor memaddr.PhysFrame
}

// qemuRSDPAddr is the conventional address SeaBIOS/OVMF place the RSDP at
// in a default QEMU machine configuration.
const qemuRSDPAddr = 0x000F_2400

// reservedLowPages covers the legacy BIOS data area and video memory QEMU
// reports as reserved ahead of the first Conventional descriptor.
const reservedLowPages = 256 // 1 MiB

// NewQEMUFirmware builds a QEMUFirmware reporting totalPages of guest RAM,
// with the first reservedLowPages pages held back from allocation.
func NewQEMUFirmware(totalPages uint64) (*QEMUFirmware, error) {
	if totalPages <= reservedLowPages {
		return nil, kernelerr.NewFirmwareError("memory_map", "configured guest RAM is smaller than the reserved low-memory hole")
	}
	return &QEMUFirmware{
		reservedLowPages: reservedLowPages,
		totalPages:       totalPages,
		allocCursor:      memaddr.PhysFrame(reservedLowPages),
	}, nil
}

func (fw *QEMUFirmware) RSDP() (signature [8]byte, physAddr uint64, ok bool) {
	var sig [8]byte
	copy(sig[:], RSDPSignature)
	return sig, qemuRSDPAddr, true
}

func (fw *QEMUFirmware) MemoryMap() []MemoryDescriptor {
	return []MemoryDescriptor{
		{PhysStart: 0, PageCount: fw.reservedLowPages, Type: DescriptorOther},
		{PhysStart: memaddr.PhysFrame(fw.reservedLowPages), PageCount: fw.totalPages - fw.reservedLowPages, Type: DescriptorConventional},
	}
}

func (fw *QEMUFirmware) AllocatePages(count uint64) (memaddr.PhysFrame, error) {
	if fw.allocCursor.Add(count) > memaddr.PhysFrame(fw.totalPages) {
		return 0, kernelerr.NoFreeFrame()
	}
	start := fw.allocCursor
	fw.allocCursor = fw.allocCursor.Add(count)
	return start, nil
}

// ExitBootServices reports no late changes: QEMU's memory map is stable
// once the guest has booted, unlike a real UEFI implementation that may
// reclaim LOADER_DATA/BOOT_SERVICES_* regions at this call.
func (fw *QEMUFirmware) ExitBootServices() ([]MemoryDescriptor, error) {
	return nil, nil
}
