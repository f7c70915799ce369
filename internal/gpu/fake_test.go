package gpu

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

var errFakeOpen = errors.New("cannot open shared object file")

type fakeLibrary struct {
	name    string
	symbols map[string]uintptr
	closed  bool
}

func (l *fakeLibrary) Symbol(name string) (uintptr, error) {
	if addr, ok := l.symbols[name]; ok {
		return addr, nil
	}
	return 0, fmt.Errorf("%s: undefined symbol: %s", l.name, name)
}

func (l *fakeLibrary) Close() error {
	l.closed = true
	return nil
}

// fakeLoader opens the libraries registered under their exact load name.
type fakeLoader struct {
	mu     sync.Mutex
	libs   map[string]*fakeLibrary
	opened []string
	panics bool
}

func newFakeLoader(names ...string) *fakeLoader {
	l := &fakeLoader{libs: make(map[string]*fakeLibrary)}
	for _, name := range names {
		l.libs[name] = &fakeLibrary{name: name, symbols: map[string]uintptr{KernelSymbol: 0x1000}}
	}
	return l
}

func (l *fakeLoader) Open(name string) (Library, error) {
	if l.panics {
		panic("loader exploded")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opened = append(l.opened, name)
	if lib, ok := l.libs[name]; ok {
		return lib, nil
	}
	return nil, fmt.Errorf("%s: %w", name, errFakeOpen)
}

func (l *fakeLoader) openCount(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, o := range l.opened {
		if o == name {
			n++
		}
	}
	return n
}

// fakeDriver emulates a driver with host memory standing in for device
// memory. Kernels are Go functions keyed by the module image they were
// loaded from.
type fakeDriver struct {
	mu sync.Mutex

	kernels map[string]func(data, hash []byte) uint32
	failOn  map[string]int32
	// failAlloc fails the n-th MemAlloc call (1-based) when set.
	failAlloc int

	initCalls    int
	closeCalls   int
	ctxCreates   int
	setCurrents  int
	allocCalls   int
	nextPtr      DevicePtr
	memory       map[DevicePtr][]byte
	modules      map[Module]string
	functions    map[Function]func(data, hash []byte) uint32
	launches     []fakeLaunch
	freed        []DevicePtr
	loadedImages []string
}

type fakeLaunch struct {
	grid, block Dim3
	args        []uintptr
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		kernels:   make(map[string]func(data, hash []byte) uint32),
		failOn:    make(map[string]int32),
		nextPtr:   0x10000,
		memory:    make(map[DevicePtr][]byte),
		modules:   make(map[Module]string),
		functions: make(map[Function]func(data, hash []byte) uint32),
	}
}

func (d *fakeDriver) fail(op string) error {
	if code, ok := d.failOn[op]; ok {
		return &DriverError{Vendor: VendorNvidia, Op: op, Code: code}
	}
	return nil
}

func (d *fakeDriver) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initCalls++
	return d.fail("Init")
}

func (d *fakeDriver) DeviceGet(ordinal int) (Device, error) {
	if err := d.fail("DeviceGet"); err != nil {
		return 0, err
	}
	return Device(ordinal), nil
}

func (d *fakeDriver) ContextCreate(dev Device) (Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ctxCreates++
	if err := d.fail("ContextCreate"); err != nil {
		return 0, err
	}
	return Context(0xC0), nil
}

func (d *fakeDriver) ContextSetCurrent(ctx Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setCurrents++
	return d.fail("ContextSetCurrent")
}

func (d *fakeDriver) ModuleLoadData(image []byte) (Module, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("ModuleLoadData"); err != nil {
		return 0, err
	}
	d.loadedImages = append(d.loadedImages, string(image))
	mod := Module(len(d.modules) + 1)
	d.modules[mod] = string(image)
	return mod, nil
}

func (d *fakeDriver) ModuleGetFunction(mod Module, name string) (Function, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("ModuleGetFunction"); err != nil {
		return 0, err
	}
	kernel, ok := d.kernels[d.modules[mod]]
	if !ok || name != KernelSymbol {
		return 0, &DriverError{Vendor: VendorNvidia, Op: "ModuleGetFunction", Code: 500}
	}
	fn := Function(0x100 + len(d.functions))
	d.functions[fn] = kernel
	return fn, nil
}

func (d *fakeDriver) MemAlloc(size int) (DevicePtr, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allocCalls++
	if d.failAlloc == d.allocCalls {
		return 0, &DriverError{Vendor: VendorNvidia, Op: "MemAlloc", Code: 2}
	}
	ptr := d.nextPtr
	d.nextPtr += 0x1000
	d.memory[ptr] = make([]byte, size)
	return ptr, nil
}

func (d *fakeDriver) MemcpyHtoD(dst DevicePtr, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("MemcpyHtoD"); err != nil {
		return err
	}
	buf, ok := d.memory[dst]
	if !ok || len(buf) < len(src) {
		return &DriverError{Vendor: VendorNvidia, Op: "MemcpyHtoD", Code: 1}
	}
	copy(buf, src)
	return nil
}

func (d *fakeDriver) MemcpyDtoH(dst []byte, src DevicePtr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("MemcpyDtoH"); err != nil {
		return err
	}
	buf, ok := d.memory[src]
	if !ok || len(buf) < len(dst) {
		return &DriverError{Vendor: VendorNvidia, Op: "MemcpyDtoH", Code: 1}
	}
	copy(dst, buf)
	return nil
}

func (d *fakeDriver) LaunchKernel(fn Function, grid, block Dim3, args ...uintptr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.launches = append(d.launches, fakeLaunch{grid: grid, block: block, args: args})
	if err := d.fail("LaunchKernel"); err != nil {
		return err
	}
	kernel, ok := d.functions[fn]
	if !ok || len(args) != 4 {
		return &DriverError{Vendor: VendorNvidia, Op: "LaunchKernel", Code: 1}
	}
	data := d.memory[DevicePtr(args[0])][:args[2]]
	hash := d.memory[DevicePtr(args[1])]
	result := d.memory[DevicePtr(args[3])]
	binary.LittleEndian.PutUint32(result, kernel(data, hash))
	return nil
}

func (d *fakeDriver) MemFree(ptr DevicePtr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.memory[ptr]; !ok {
		return &DriverError{Vendor: VendorNvidia, Op: "MemFree", Code: 1}
	}
	delete(d.memory, ptr)
	d.freed = append(d.freed, ptr)
	return d.fail("MemFree")
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeCalls++
	return nil
}

func (d *fakeDriver) liveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.memory)
}

// referenceSearch is what the GPU kernels compute, one bit at a time.
func referenceSearch(data, hash []byte) uint32 {
	buf := append([]byte(nil), data...)
	for i := 0; i < len(buf)*8; i++ {
		buf[i/8] ^= 1 << (i % 8)
		sum := sha1.Sum(buf)
		if bytes.Equal(sum[:], hash) {
			return uint32(i)
		}
		buf[i/8] ^= 1 << (i % 8)
	}
	return NotFound
}

// flipped returns a copy of data with bit i inverted.
func flipped(data []byte, i int) []byte {
	out := append([]byte(nil), data...)
	out[i/8] ^= 1 << (i % 8)
	return out
}

func sha1Of(data []byte) []byte {
	sum := sha1.Sum(data)
	return sum[:]
}
