package bootpivot

import "github.com/dbartussek-go/kernelcore/internal/memaddr"

// CallWithStack documents the stack-switch ABI a freestanding build of this
// pivot needs: swap RSP to stackTop before calling entry(args), so the
// kernel never executes another instruction on the bootloader-provided
// stack it is about to unmap. Run does not call through a value of this
// type — Go already owns its goroutine's stack, so there is no RSP to swap
// and no assembly to write here; the type exists only to name the seam a
// freestanding target would fill in with a few lines of hand-written
// assembly immediately before calling entry.
type CallWithStack func(stackTop memaddr.VirtPage, entry KernelEntry, args *KernelArguments)
