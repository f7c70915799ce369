package gpu

import (
	"os"
	"sync"

	"github.com/konard/BitrotBruteforce/internal/metrics"
	"go.uber.org/zap"
)

// Options configures where the manager looks for libraries and bytecode.
type Options struct {
	// LibsDir holds the native accelerator libraries.
	LibsDir string
	// BytecodeDirs maps each vendor to the directory holding its kernel modules.
	BytecodeDirs map[Vendor]string
	// Platform defaults to the running platform.
	Platform Platform
	// Loader defaults to the system dynamic loader.
	Loader Loader
}

// Manager handles detection and backend selection. Both happen once, on
// first use, and hold for the life of the manager.
type Manager struct {
	opts     Options
	resolver *Resolver
	detector *Detector
	drivers  func(Vendor) (Driver, error)
	logger   *zap.Logger

	once    sync.Once
	vendor  Vendor
	backend Backend
}

// NewManager creates a manager. Nothing is probed until Backend or Vendor is called.
func NewManager(opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Platform == "" {
		opts.Platform = CurrentPlatform()
	}
	if opts.Loader == nil {
		opts.Loader = SystemLoader{}
	}
	logger = logger.Named("gpu")

	resolver := NewResolver(opts.Loader, opts.Platform, opts.LibsDir, logger)
	m := &Manager{
		opts:     opts,
		resolver: resolver,
		detector: NewDetector(opts.Loader, opts.Platform, resolver, logger),
		logger:   logger,
	}
	m.drivers = func(v Vendor) (Driver, error) {
		return openDriver(m.opts.Loader, m.opts.Platform, driverAPIFor(v))
	}
	return m
}

// Backend returns the selected backend, selecting it on the first call.
// It never returns nil; with nothing usable the backend's Kind is Unavailable.
func (m *Manager) Backend() Backend {
	m.once.Do(m.selectBackend)
	return m.backend
}

// Vendor returns the detected GPU vendor.
func (m *Manager) Vendor() Vendor {
	m.once.Do(m.selectBackend)
	return m.vendor
}

// selectBackend prefers shipped native libraries for the detected vendor,
// then bytecode modules whose driver answers a probe.
func (m *Manager) selectBackend() {
	m.vendor = m.detector.Detect()

	if m.vendor != VendorNone && m.hasNativeLibraries(m.vendor) {
		m.backend = NewNativeBackend(m.vendor, m.resolver, m.logger)
	} else if b := m.selectBytecode(); b != nil {
		m.backend = b
	} else {
		m.backend = unavailableBackend{}
	}
	metrics.BackendSelected.WithLabelValues(m.backend.Kind().String(), m.backend.Vendor().String()).Set(1)

	m.logger.Info("execution backend selected",
		zap.Stringer("backend", m.backend.Kind()),
		zap.Stringer("vendor", m.backend.Vendor()),
		zap.String("detected", m.vendor.Description()))
}

func (m *Manager) hasNativeLibraries(v Vendor) bool {
	return m.resolver.Exists(LibraryName(v, Aligned)) || m.resolver.Exists(LibraryName(v, Unaligned))
}

func (m *Manager) selectBytecode() Backend {
	for _, v := range m.bytecodeOrder() {
		dir, ok := m.opts.BytecodeDirs[v]
		if !ok {
			continue
		}
		files := BytecodeFiles(dir, v)
		if !anyFileExists(files) {
			continue
		}
		open := func() (Driver, error) { return m.drivers(v) }
		if !ProbeBytecode(open) {
			m.logger.Debug("bytecode present but driver probe failed", zap.Stringer("vendor", v))
			continue
		}
		return NewRuntime(v, files, open, m.logger)
	}
	return nil
}

// bytecodeOrder puts the detected vendor first.
func (m *Manager) bytecodeOrder() []Vendor {
	order := []Vendor{}
	if m.vendor != VendorNone {
		order = append(order, m.vendor)
	}
	for _, v := range vendorPriority {
		if v != m.vendor {
			order = append(order, v)
		}
	}
	return order
}

func anyFileExists(files map[KernelVariant]string) bool {
	for _, path := range files {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return true
		}
	}
	return false
}
