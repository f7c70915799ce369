package gpu

import (
	"errors"
	"math"
)

// NotFound is the value a kernel writes to its result slot when no single
// bit flip reconciles the data with the digest.
const NotFound uint32 = math.MaxUint32

// KernelSymbol is the entry point exported by native libraries and bytecode modules.
const KernelSymbol = "bruteforceBits"

// alignment is the block size the aligned kernels are compiled for.
const alignment = 64

var (
	// ErrUnavailable is returned by the unavailable backend.
	ErrUnavailable = errors.New("gpu: no execution backend available")
	// ErrLibraryNotFound means no candidate path of a native library could be loaded.
	ErrLibraryNotFound = errors.New("gpu: library not found")
	// ErrInitialization means a backend was selected but could not be brought up.
	ErrInitialization = errors.New("gpu: backend initialization failed")
	// ErrVariantUnavailable means the backend has no kernel for the requested variant.
	ErrVariantUnavailable = errors.New("gpu: kernel variant unavailable")
	// ErrExecution means a launch or copy failed after initialization.
	ErrExecution = errors.New("gpu: kernel execution failed")
)

// KernelVariant selects between the kernel builds for 64-byte aligned and unaligned blocks.
type KernelVariant int

const (
	Aligned KernelVariant = iota
	Unaligned

	variantCount = 2
)

// VariantFor picks the kernel variant for a block of n bytes.
func VariantFor(n int) KernelVariant {
	if n%alignment == 0 {
		return Aligned
	}
	return Unaligned
}

func (k KernelVariant) String() string {
	switch k {
	case Aligned:
		return "aligned"
	case Unaligned:
		return "unaligned"
	default:
		return "unknown"
	}
}

// ExecutionBackend identifies how searches are executed.
type ExecutionBackend int

const (
	Unavailable ExecutionBackend = iota
	NativeLibrary
	BytecodeRuntime
)

func (b ExecutionBackend) String() string {
	switch b {
	case Unavailable:
		return "unavailable"
	case NativeLibrary:
		return "native"
	case BytecodeRuntime:
		return "bytecode"
	default:
		return "unknown"
	}
}

// Backend runs the bit-flip search kernel.
//
// Implementations must be safe for concurrent use. BruteforceBits returns the
// raw value written by the kernel, NotFound included; errors are reserved for
// failures to load or run the kernel.
type Backend interface {
	// Kind reports which execution path the backend uses.
	Kind() ExecutionBackend

	// Vendor reports the GPU vendor the backend targets.
	Vendor() Vendor

	// BruteforceBits searches data for the single bit whose flip makes its
	// digest equal to hash.
	BruteforceBits(variant KernelVariant, data, hash []byte) (uint32, error)
}

type unavailableBackend struct{}

func (unavailableBackend) Kind() ExecutionBackend { return Unavailable }

func (unavailableBackend) Vendor() Vendor { return VendorNone }

func (unavailableBackend) BruteforceBits(KernelVariant, []byte, []byte) (uint32, error) {
	return NotFound, ErrUnavailable
}
