package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/dbartussek-go/kernelcore/internal/cli"
	"github.com/dbartussek-go/kernelcore/internal/qemuexit"
	"golang.org/x/sys/unix"
)

func runRun(logger *cli.Logger, cfg *cli.Config, gdb bool, release bool) error {
	m, err := readManifest(cfg.ManifestPath)
	if err != nil {
		return fmt.Errorf("read manifest (run `kernelctl build` first): %w", err)
	}

	// cfg.ScratchRAMPath is a real file rather than an anonymous mapping so a
	// failed run can be inspected afterward with an external tool, the same
	// role internal/physmem.RAM plays inside the kernel binary itself.
	ramBytes, err := prepareScratchRAM(cfg.ScratchRAMPath, m.GuestPages*4096)
	if err != nil {
		return fmt.Errorf("prepare scratch RAM: %w", err)
	}
	defer unix.Munmap(ramBytes)

	// Seed the image with the manifest's entry stub, the way a real ELF
	// loader would place the kernel's code at its load address before
	// boot. qemu-system-x86_64 below never reads this file directly
	// (isa-debug-exit needs no -kernel image to produce an exit code), but
	// it leaves a real artifact the bootpivot simulation in cmd/kernel
	// mirrors in its own in-process RAM.
	copy(ramBytes, m.EntryStub)

	args := []string{
		"-m", fmt.Sprintf("%dM", (m.GuestPages*4096)/(1<<20)),
		"-device", "isa-debug-exit,iobase=0xf4,iosize=0x04",
		"-display", "none",
		"-serial", "stdio",
	}
	if gdb {
		args = append(args, "-s", "-S")
	}

	logger.Info("launching %s %v", cfg.QEMUBinary, args)

	cmd := exec.Command(cfg.QEMUBinary, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	runErr := cmd.Run()
	exitErr, isExitErr := runErr.(*exec.ExitError)
	if runErr != nil && !isExitErr {
		return fmt.Errorf("run qemu-system-x86_64: %w", runErr)
	}

	code := 0
	if isExitErr {
		code = exitErr.ExitCode()
	}

	value, ok := qemuexit.DecodeExitCode(code)
	if !ok {
		return fmt.Errorf("qemu exited %d, not a recognized isa-debug-exit code", code)
	}
	if value != qemuexit.Success {
		return fmt.Errorf("kernel reported exit value %d, want %d (success)", value, qemuexit.Success)
	}

	logger.Info("kernel exited successfully")
	return nil
}

// prepareScratchRAM truncates the scratch file to size and mmaps it
// read-write, so the returned slice is already the requested length.
func prepareScratchRAM(path string, size uint64) ([]byte, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		return nil, err
	}

	return unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}
