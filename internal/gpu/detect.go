package gpu

import "go.uber.org/zap"

// Detector probes the host for a usable GPU vendor stack.
type Detector struct {
	loader   Loader
	platform Platform
	resolver *Resolver
	logger   *zap.Logger
}

// NewDetector creates a detector. The resolver is only used to check for
// bundled libraries on disk.
func NewDetector(loader Loader, platform Platform, resolver *Resolver, logger *zap.Logger) *Detector {
	return &Detector{
		loader:   loader,
		platform: platform,
		resolver: resolver,
		logger:   logger,
	}
}

// Detect returns the first vendor, in priority order, whose runtime library
// loads or whose bundled libraries are present. It never fails; with no
// usable vendor it returns VendorNone.
func (d *Detector) Detect() Vendor {
	for _, v := range vendorPriority {
		if d.hasRuntime(v) || d.hasBundledLibraries(v) {
			d.logger.Info("GPU detected", zap.String("vendor", v.Description()))
			return v
		}
	}
	d.logger.Info("No compatible GPU found")
	return VendorNone
}

func (d *Detector) hasRuntime(v Vendor) bool {
	for _, name := range d.platform.runtimeProbeNames(v) {
		if d.probe(name) {
			return true
		}
	}
	return false
}

// probe loads and immediately releases a library. Any failure, panics from
// the loader included, means the library is not usable.
func (d *Detector) probe(name string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Debug("runtime probe panicked", zap.String("library", name), zap.Any("panic", r))
			ok = false
		}
	}()

	lib, err := d.loader.Open(name)
	if err != nil {
		d.logger.Debug("runtime library not loadable", zap.String("library", name), zap.Error(err))
		return false
	}
	if err := lib.Close(); err != nil {
		d.logger.Debug("runtime library close failed", zap.String("library", name), zap.Error(err))
	}
	d.logger.Debug("runtime library found", zap.String("library", name))
	return true
}

func (d *Detector) hasBundledLibraries(v Vendor) bool {
	return d.resolver.Exists(LibraryName(v, Aligned)) || d.resolver.Exists(LibraryName(v, Unaligned))
}
