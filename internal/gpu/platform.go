package gpu

import (
	"path/filepath"
	"runtime"
)

// Platform is the operating system library naming follows.
type Platform string

const (
	Linux   Platform = "linux"
	Windows Platform = "windows"
	Darwin  Platform = "darwin"
)

// CurrentPlatform returns the platform the binary was built for.
func CurrentPlatform() Platform {
	return Platform(runtime.GOOS)
}

// LibraryFiles returns the on-disk file names a logical library name maps to.
func (p Platform) LibraryFiles(name string) []string {
	switch p {
	case Windows:
		return []string{name + ".dll"}
	case Darwin:
		return []string{"lib" + name + ".dylib", name + ".dylib"}
	default:
		// The CUDA builds ship without the lib prefix, the ROCm builds with it.
		return []string{"lib" + name + ".so", name + ".so"}
	}
}

// runtimeProbeNames lists the vendor runtime libraries whose presence
// indicates a usable GPU stack, newest first.
func (p Platform) runtimeProbeNames(v Vendor) []string {
	switch {
	case v == VendorNvidia && p == Windows:
		return []string{"cudart64_12.dll", "cudart64_11.dll", "cudart64_110.dll", "cudart64_10.dll"}
	case v == VendorNvidia && p == Linux:
		return []string{"libcudart.so.12", "libcudart.so.11.0", "libcudart.so"}
	case v == VendorAMD && p == Windows:
		return []string{"amdhip64_6.dll", "amdhip64.dll"}
	case v == VendorAMD && p == Linux:
		return []string{"libamdhip64.so.6", "libamdhip64.so.5", "libamdhip64.so"}
	default:
		return nil
	}
}

// libraryCandidates returns the load paths tried for a logical library name:
// the libraries directory, then the working directory, then the bare file
// name left to the system loader.
func (p Platform) libraryCandidates(libsDir, name string) []string {
	files := p.LibraryFiles(name)
	candidates := make([]string, 0, 3*len(files))
	if libsDir != "" {
		for _, f := range files {
			candidates = append(candidates, filepath.Join(libsDir, f))
		}
	}
	for _, f := range files {
		candidates = append(candidates, "."+string(filepath.Separator)+f)
	}
	return append(candidates, files...)
}
