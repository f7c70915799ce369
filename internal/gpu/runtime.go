package gpu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/konard/BitrotBruteforce/internal/metrics"
	"go.uber.org/zap"
)

// threadsPerBlock is the launch block size; each thread tests one bit.
const threadsPerBlock = 1024

// resultSize is the size of the kernel's 32-bit result slot.
const resultSize = 4

type contextState int32

const (
	stateUninitialized contextState = iota
	stateInitializing
	stateReady
	stateFailed
)

// BytecodeFiles returns the module file of each kernel variant for a vendor
// inside dir, e.g. ptx/kernel_aligned.ptx.
func BytecodeFiles(dir string, v Vendor) map[KernelVariant]string {
	api := driverAPIFor(v)
	if api == nil {
		return nil
	}
	return map[KernelVariant]string{
		Aligned:   filepath.Join(dir, "kernel_aligned"+api.bytecodeExt),
		Unaligned: filepath.Join(dir, "kernel_unaligned"+api.bytecodeExt),
	}
}

// Runtime runs the search kernel from GPU bytecode modules loaded at
// runtime through the vendor driver API.
//
// The device context is created on first use and lives for the rest of the
// process. A failed initialization is remembered and returned to every
// later call.
type Runtime struct {
	vendor     Vendor
	files      map[KernelVariant]string
	openDriver func() (Driver, error)
	logger     *zap.Logger

	state   atomic.Int32
	initMu  sync.Mutex
	initErr error

	// Written once during initialization.
	driver    Driver
	ctx       Context
	modules   [variantCount]Module
	functions [variantCount]Function
	loaded    [variantCount]bool

	execMu sync.Mutex
}

// NewRuntime creates an uninitialized runtime for vendor. files maps each
// variant to its bytecode file; variants whose file is missing are skipped
// at initialization.
func NewRuntime(vendor Vendor, files map[KernelVariant]string, openDriver func() (Driver, error), logger *zap.Logger) *Runtime {
	return &Runtime{
		vendor:     vendor,
		files:      files,
		openDriver: openDriver,
		logger:     logger,
	}
}

func (r *Runtime) Kind() ExecutionBackend { return BytecodeRuntime }

func (r *Runtime) Vendor() Vendor { return r.vendor }

// Ready reports whether the device context has been initialized.
func (r *Runtime) Ready() bool {
	return contextState(r.state.Load()) == stateReady
}

// BruteforceBits initializes the device context if needed and runs the
// variant's kernel over data.
func (r *Runtime) BruteforceBits(variant KernelVariant, data, hash []byte) (uint32, error) {
	if err := r.ensureReady(); err != nil {
		return NotFound, err
	}
	if variant < 0 || variant >= variantCount || !r.loaded[variant] {
		return NotFound, fmt.Errorf("%w: no %s bytecode module loaded", ErrVariantUnavailable, variant)
	}

	r.execMu.Lock()
	defer r.execMu.Unlock()

	// Contexts are current per OS thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := r.driver.ContextSetCurrent(r.ctx); err != nil {
		return NotFound, fmt.Errorf("%w: %w", ErrExecution, err)
	}
	return r.execute(r.functions[variant], data, hash)
}

// ensureReady runs initialization exactly once. Concurrent first callers
// wait for the one doing the work.
func (r *Runtime) ensureReady() error {
	if contextState(r.state.Load()) == stateReady {
		return nil
	}

	r.initMu.Lock()
	defer r.initMu.Unlock()

	switch contextState(r.state.Load()) {
	case stateReady:
		return nil
	case stateFailed:
		return r.initErr
	}

	r.state.Store(int32(stateInitializing))
	if err := r.initialize(); err != nil {
		r.initErr = fmt.Errorf("%w: %w", ErrInitialization, err)
		r.state.Store(int32(stateFailed))
		metrics.DeviceInit.WithLabelValues("failed").Inc()
		r.logger.Error("bytecode runtime initialization failed", zap.Stringer("vendor", r.vendor), zap.Error(err))
		return r.initErr
	}
	r.state.Store(int32(stateReady))
	metrics.DeviceInit.WithLabelValues("ready").Inc()
	return nil
}

func (r *Runtime) initialize() (err error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	drv, err := r.openDriver()
	if err != nil {
		return fmt.Errorf("load driver: %w", err)
	}
	defer func() {
		if err != nil {
			if cerr := drv.Close(); cerr != nil {
				r.logger.Debug("driver release failed", zap.Error(cerr))
			}
		}
	}()
	if err := drv.Init(); err != nil {
		return fmt.Errorf("initialize driver: %w", err)
	}
	dev, err := drv.DeviceGet(0)
	if err != nil {
		return fmt.Errorf("get device 0: %w", err)
	}
	ctx, err := drv.ContextCreate(dev)
	if err != nil {
		return fmt.Errorf("create context: %w", err)
	}
	r.driver = drv
	r.ctx = ctx

	for _, variant := range []KernelVariant{Aligned, Unaligned} {
		path, ok := r.files[variant]
		if !ok {
			continue
		}
		image, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			r.logger.Debug("bytecode module absent", zap.Stringer("variant", variant), zap.String("path", path))
			continue
		}
		if err != nil {
			return fmt.Errorf("read %s bytecode: %w", variant, err)
		}
		mod, err := drv.ModuleLoadData(image)
		if err != nil {
			return fmt.Errorf("load %s module %s: %w", variant, path, err)
		}
		fn, err := drv.ModuleGetFunction(mod, KernelSymbol)
		if err != nil {
			return fmt.Errorf("resolve %s in %s module: %w", KernelSymbol, variant, err)
		}
		r.modules[variant] = mod
		r.functions[variant] = fn
		r.loaded[variant] = true
		r.logger.Debug("bytecode module loaded", zap.Stringer("variant", variant), zap.String("path", path))
	}

	if !r.loaded[Aligned] && !r.loaded[Unaligned] {
		return errors.New("no bytecode modules found")
	}
	r.logger.Info("bytecode runtime initialized",
		zap.Stringer("vendor", r.vendor),
		zap.Int32("device", int32(dev)),
		zap.Bool("aligned", r.loaded[Aligned]),
		zap.Bool("unaligned", r.loaded[Unaligned]))
	return nil
}

// execute runs one search: allocate, copy in, launch, copy out. Every
// buffer allocated here is freed before returning, on error paths too.
func (r *Runtime) execute(fn Function, data, hash []byte) (result uint32, err error) {
	drv := r.driver

	var buffers []DevicePtr
	defer func() {
		for i := len(buffers) - 1; i >= 0; i-- {
			if ferr := drv.MemFree(buffers[i]); ferr != nil {
				r.logger.Warn("device buffer free failed", zap.Error(ferr))
				if err == nil {
					result, err = NotFound, fmt.Errorf("%w: %w", ErrExecution, ferr)
				}
			}
		}
	}()
	alloc := func(size int) (DevicePtr, error) {
		ptr, err := drv.MemAlloc(size)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrExecution, err)
		}
		buffers = append(buffers, ptr)
		return ptr, nil
	}

	dData, err := alloc(len(data))
	if err != nil {
		return NotFound, err
	}
	dHash, err := alloc(len(hash))
	if err != nil {
		return NotFound, err
	}
	dResult, err := alloc(resultSize)
	if err != nil {
		return NotFound, err
	}

	out := make([]byte, resultSize)
	binary.LittleEndian.PutUint32(out, NotFound)
	for _, cp := range []struct {
		dst DevicePtr
		src []byte
	}{{dData, data}, {dHash, hash}, {dResult, out}} {
		if err := drv.MemcpyHtoD(cp.dst, cp.src); err != nil {
			return NotFound, fmt.Errorf("%w: %w", ErrExecution, err)
		}
	}

	grid := Dim3{X: gridSize(len(data)), Y: 1, Z: 1}
	block := Dim3{X: threadsPerBlock, Y: 1, Z: 1}
	if err := drv.LaunchKernel(fn, grid, block,
		uintptr(dData), uintptr(dHash), uintptr(len(data)), uintptr(dResult)); err != nil {
		return NotFound, fmt.Errorf("%w: %w", ErrExecution, err)
	}

	if err := drv.MemcpyDtoH(out, dResult); err != nil {
		return NotFound, fmt.Errorf("%w: %w", ErrExecution, err)
	}
	return binary.LittleEndian.Uint32(out), nil
}

// gridSize returns the number of blocks needed for one thread per bit.
func gridSize(size int) uint32 {
	return uint32((size*8 + threadsPerBlock - 1) / threadsPerBlock)
}

// ProbeBytecode reports whether the driver loads, initializes and exposes
// device 0. No context is created, the driver is released before returning
// and all failures read as false.
func ProbeBytecode(openDriver func() (Driver, error)) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	drv, err := openDriver()
	if err != nil {
		return false
	}
	defer drv.Close()
	if err := drv.Init(); err != nil {
		return false
	}
	_, err = drv.DeviceGet(0)
	return err == nil
}
