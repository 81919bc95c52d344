// Command kernel is the boot entry point: it wires bootpivot.QEMUFirmware up
// to bootpivot.Run and hands control to kernelEntry once the pivot has
// switched onto the kernel's own page table. Like the rest of this module it
// runs hosted rather than freestanding — there is no real UEFI loader or
// freestanding target here, only the simulation bootpivot.Firmware models —
// but the sequencing and the entry ABI match spec.md §4.6 and §6 exactly.
package main

import (
	"fmt"
	"os"

	"github.com/dbartussek-go/kernelcore/internal/bootpivot"
	"github.com/dbartussek-go/kernelcore/internal/memaddr"
	"github.com/dbartussek-go/kernelcore/internal/physmem"
	"github.com/dbartussek-go/kernelcore/internal/qemuexit"
)

// guestPages is the simulated physical RAM size QEMUFirmware reports.
// cmd/kernelctl's run subcommand configures qemu-system-x86_64 with a
// matching -m size so the real and simulated memory maps agree.
const guestPages = 1 << 16 // 256 MiB at 4 KiB pages

func main() {
	ram := physmem.NewRAM(memaddr.PhysFrame(0), guestPages)
	physmem.RegisterGlobalRAM(ram)

	fw, err := bootpivot.NewQEMUFirmware(guestPages)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kernel: firmware setup:", err)
		os.Exit(int(qemuexit.Failure))
	}

	// loader is nil: the ELF loader is out of scope (spec.md §1), so this
	// entry point boots straight into kernelEntry without loading a
	// separate kernel image.
	err = bootpivot.Run(ram, fw, nil, kernelEntry)

	// Run only returns once bootpivot.Run's own never-return invariant has
	// already been violated, or pivot preparation failed outright.
	fmt.Fprintln(os.Stderr, "kernel: boot pivot failed:", err)
	os.Exit(int(qemuexit.Failure))
}

// kernelEntry is the never-returning entry point spec.md §6 describes. It
// never returns; bootpivot.Run treats a return from it as a fatal ordering
// violation.
func kernelEntry(args *bootpivot.KernelArguments) {
	stats := args.PhysicalMemoryMap.Stats()
	fmt.Printf("kernelcore booted: identity_base=%#x rsdp=%#x frames=%d free=%d\n",
		uint64(args.IdentityBase), args.RSDPPhysAddr, stats.Total, stats.Free)

	for {
	}
}
