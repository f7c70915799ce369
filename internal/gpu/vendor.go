package gpu

// Vendor is the GPU vendor family a backend targets.
type Vendor int

const (
	VendorNone Vendor = iota
	VendorNvidia
	VendorAMD
)

// vendorPriority is the order vendors are probed and preferred in.
var vendorPriority = []Vendor{VendorNvidia, VendorAMD}

func (v Vendor) String() string {
	switch v {
	case VendorNvidia:
		return "nvidia"
	case VendorAMD:
		return "amd"
	case VendorNone:
		return "none"
	default:
		return "unknown"
	}
}

// Description returns a human readable name for the vendor and its runtime.
func (v Vendor) Description() string {
	switch v {
	case VendorNvidia:
		return "NVIDIA (CUDA)"
	case VendorAMD:
		return "AMD (ROCm)"
	case VendorNone:
		return "No compatible GPU"
	default:
		return "Unknown"
	}
}

// libraryPrefix is the vendor part of the bundled accelerator library names.
func (v Vendor) libraryPrefix() string {
	switch v {
	case VendorNvidia:
		return "Cuda"
	case VendorAMD:
		return "Rocm"
	default:
		return ""
	}
}

// LibraryName is the logical name of the bundled native library for a vendor and variant,
// e.g. CudaAlignedBitrotFinder.
func LibraryName(v Vendor, k KernelVariant) string {
	variant := "Aligned"
	if k == Unaligned {
		variant = "Unaligned"
	}
	return v.libraryPrefix() + variant + "BitrotFinder"
}
