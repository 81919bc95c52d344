// Package kernelerr provides the kernel's standardized error taxonomy:
// decode errors, allocation errors, and region-violation errors are
// returned as typed values so callers and tests can match on them; lock
// violations are panics (see internal/kmutex), and firmware errors are
// returned by the boot pivot and treated as fatal by cmd/kernel.
package kernelerr

import (
	"fmt"
	"runtime"
)

// Category groups errors the way spec.md §7 groups them.
type Category string

const (
	CategoryDecode     Category = "DECODE"
	CategoryAllocation Category = "ALLOCATION"
	CategoryRegion     Category = "REGION"
	CategoryLock       Category = "LOCK"
	CategoryFirmware   Category = "FIRMWARE"
)

// StandardError is the common shape every kernelerr value shares: a
// category, a short machine-checkable code, a human message, free-form
// context, and the name of the function that raised it.
type StandardError struct {
	Category Category
	Code     string
	Message  string
	Context  map[string]any
	Caller   string
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("[%s:%s] %s (caller: %s)", e.Category, e.Code, e.Message, e.Caller)
}

func newStandardError(category Category, code, message string, context map[string]any) *StandardError {
	pc, _, _, ok := runtime.Caller(2)
	caller := "unknown"
	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}

	return &StandardError{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  context,
		Caller:   caller,
	}
}

// DecodeError reports an unrecognized PageUsage category — spec.md treats
// this as fatal: it indicates physical-memory corruption, not a bug a
// caller can recover from, but it is still returned as a value rather than
// panicking so the decoder itself stays a pure function.
type DecodeError struct {
	*StandardError
	RawValue uint64
}

func NewDecodeError(rawValue uint64) *DecodeError {
	return &DecodeError{
		StandardError: newStandardError(CategoryDecode, "UNRECOGNIZED_PAGE_USAGE",
			fmt.Sprintf("page usage tag 0x%016x does not decode to a known category", rawValue),
			map[string]any{"raw_value": rawValue}),
		RawValue: rawValue,
	}
}

// AllocationError reports that no Empty frame, no free virtual range, or no
// mapping could be produced for a request.
type AllocationError struct {
	*StandardError
}

func NewAllocationError(code, message string, context map[string]any) *AllocationError {
	return &AllocationError{StandardError: newStandardError(CategoryAllocation, code, message, context)}
}

func NoFreeFrame() *AllocationError {
	return NewAllocationError("NO_FREE_FRAME", "no Empty frame available in the physical map", nil)
}

func NoFreeVirtualRange(pages uint64, align uint64) *AllocationError {
	return NewAllocationError("NO_FREE_RANGE",
		fmt.Sprintf("no window of %d page(s) aligned to %d page(s) is free in the requested region", pages, align),
		map[string]any{"pages": pages, "align": align})
}

// RegionViolationError reports a mutation rejected by IsValidRange: a
// cross-region range, a non-canonical address, a user-space mutation
// without the user_space flag, or a kernel-space mutation whose region
// lock was not declared. These are callable bugs: never recoverable at
// runtime, but not fatal, so tests can observe them.
type RegionViolationError struct {
	*StandardError
}

func NewRegionViolationError(code, message string, context map[string]any) *RegionViolationError {
	return &RegionViolationError{StandardError: newStandardError(CategoryRegion, code, message, context)}
}

func CrossRegionRange() *RegionViolationError {
	return NewRegionViolationError("CROSS_REGION_RANGE",
		"Desired page range spans kernel space regions", nil)
}

func NonCanonicalAddress(addr uint64) *RegionViolationError {
	return NewRegionViolationError("NON_CANONICAL_ADDRESS",
		fmt.Sprintf("address 0x%x is not canonical", addr),
		map[string]any{"address": addr})
}

func UserSpaceNotDeclared() *RegionViolationError {
	return NewRegionViolationError("USER_SPACE_NOT_DECLARED",
		"user-space mutation attempted without ModificationFlags.UserSpace", nil)
}

func RegionLockNotHeld(region string) *RegionViolationError {
	return NewRegionViolationError("REGION_LOCK_NOT_HELD",
		fmt.Sprintf("mutation targets region %q whose lock was not declared for this session", region),
		map[string]any{"region": region})
}

func UnknownRegion(addr uint64) *RegionViolationError {
	return NewRegionViolationError("UNKNOWN_REGION",
		fmt.Sprintf("address 0x%x does not fall in any known kernel region", addr),
		map[string]any{"address": addr})
}

// LockViolation describes a recursive mutex acquisition in the kernelerr
// taxonomy. internal/kmutex does not panic with it: its panic value is
// *kmutex.DeadlockError, whose type name and core id this mirrors.
type LockViolation struct {
	*StandardError
}

func NewLockViolation(typeName string, coreID uint32) *LockViolation {
	return &LockViolation{
		StandardError: newStandardError(CategoryLock, "RECURSIVE_ACQUISITION",
			fmt.Sprintf("recursive acquisition of %s on core %d", typeName, coreID),
			map[string]any{"type": typeName, "core": coreID}),
	}
}

// FirmwareError reports a failed UEFI boot-services call. cmd/kernel treats
// every error from the boot pivot as fatal: it prints it and exits with the
// qemuexit failure code. It is a typed value so tests can assert on which
// step failed.
type FirmwareError struct {
	*StandardError
}

func NewFirmwareError(service, message string) *FirmwareError {
	return &FirmwareError{
		StandardError: newStandardError(CategoryFirmware, "SERVICE_FAILED",
			fmt.Sprintf("UEFI service %q failed: %s", service, message),
			map[string]any{"service": service}),
	}
}
