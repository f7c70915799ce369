package gpu

import (
	"fmt"
	"sync"
	"unsafe"

	"go.uber.org/zap"
)

// kernelFunc runs a search. It writes NotFound or the bit index to result.
type kernelFunc func(data, hash []byte, result *uint32)

// NativeBackend calls bruteforceBits exported by the precompiled
// per-vendor accelerator libraries. Libraries are resolved on first use of
// each variant.
type NativeBackend struct {
	vendor   Vendor
	resolver *Resolver
	bind     func(Library) (kernelFunc, error)
	logger   *zap.Logger

	mu      sync.Mutex
	kernels [variantCount]kernelFunc
}

// NewNativeBackend creates a backend for vendor's libraries.
func NewNativeBackend(vendor Vendor, resolver *Resolver, logger *zap.Logger) *NativeBackend {
	return &NativeBackend{
		vendor:   vendor,
		resolver: resolver,
		bind:     bindKernel,
		logger:   logger,
	}
}

func (n *NativeBackend) Kind() ExecutionBackend { return NativeLibrary }

func (n *NativeBackend) Vendor() Vendor { return n.vendor }

// BruteforceBits runs the variant's library kernel over data. Calls are
// serialized; the libraries select the device on every call.
func (n *NativeBackend) BruteforceBits(variant KernelVariant, data, hash []byte) (uint32, error) {
	if variant < 0 || variant >= variantCount {
		return NotFound, fmt.Errorf("%w: %d", ErrVariantUnavailable, variant)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	kernel, err := n.kernel(variant)
	if err != nil {
		return NotFound, err
	}
	result := NotFound
	kernel(data, hash, &result)
	return result, nil
}

func (n *NativeBackend) kernel(variant KernelVariant) (kernelFunc, error) {
	if k := n.kernels[variant]; k != nil {
		return k, nil
	}
	name := LibraryName(n.vendor, variant)
	lib, err := n.resolver.Resolve(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrVariantUnavailable, name, err)
	}
	k, err := n.bind(lib)
	if err != nil {
		return nil, fmt.Errorf("%w: bind %s in %s: %w", ErrInitialization, KernelSymbol, name, err)
	}
	n.kernels[variant] = k
	n.logger.Debug("native kernel bound", zap.String("library", name))
	return k, nil
}

// bindKernel resolves bruteforceBits with the C signature
// void bruteforceBits(unsigned char*, unsigned char*, size_t, unsigned int*).
func bindKernel(lib Library) (kernelFunc, error) {
	var fn func(data, hash unsafe.Pointer, size uintptr, result *uint32)
	if err := bindFunc(lib, &fn, KernelSymbol); err != nil {
		return nil, err
	}
	return func(data, hash []byte, result *uint32) {
		var dataPtr, hashPtr unsafe.Pointer
		if len(data) > 0 {
			dataPtr = unsafe.Pointer(&data[0])
		}
		if len(hash) > 0 {
			hashPtr = unsafe.Pointer(&hash[0])
		}
		fn(dataPtr, hashPtr, uintptr(len(data)), result)
	}, nil
}
