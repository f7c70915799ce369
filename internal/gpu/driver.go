package gpu

import (
	"fmt"
	"runtime"
	"unsafe"
)

type (
	// Device is a driver device ordinal handle.
	Device int32
	// Context is a driver context handle.
	Context uintptr
	// Module is a loaded bytecode module.
	Module uintptr
	// Function is a kernel entry point resolved inside a module.
	Function uintptr
	// DevicePtr is an address in device memory.
	DevicePtr uintptr
)

// Dim3 is a launch grid or block shape.
type Dim3 struct {
	X, Y, Z uint32
}

// Driver is the subset of a GPU driver API the bytecode runtime needs.
// Every call blocks until the driver returns.
type Driver interface {
	Init() error
	DeviceGet(ordinal int) (Device, error)
	ContextCreate(dev Device) (Context, error)
	ContextSetCurrent(ctx Context) error
	ModuleLoadData(image []byte) (Module, error)
	ModuleGetFunction(mod Module, name string) (Function, error)
	MemAlloc(size int) (DevicePtr, error)
	MemcpyHtoD(dst DevicePtr, src []byte) error
	MemcpyDtoH(dst []byte, src DevicePtr) error
	// LaunchKernel launches fn on the default stream. Each argument is
	// passed to the kernel as one machine word.
	LaunchKernel(fn Function, grid, block Dim3, args ...uintptr) error
	MemFree(ptr DevicePtr) error
	// Close releases the driver library. The driver is unusable afterwards.
	Close() error
}

// DriverError is a non-success result code returned by a driver call.
type DriverError struct {
	Vendor Vendor
	Op     string
	Code   int32
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("%s %s: %s (%d)", e.Vendor, e.Op, resultName(e.Code), e.Code)
}

// resultName names the result codes CUDA and HIP share.
func resultName(code int32) string {
	switch code {
	case 0:
		return "success"
	case 1:
		return "invalid value"
	case 2:
		return "out of memory"
	case 3:
		return "not initialized"
	case 4:
		return "deinitialized"
	case 100:
		return "no device"
	case 101:
		return "invalid device"
	case 200:
		return "invalid image"
	case 201:
		return "invalid context"
	case 209:
		return "no binary for GPU"
	case 218:
		return "invalid PTX"
	case 222:
		return "unsupported PTX version"
	case 500:
		return "not found"
	case 700:
		return "illegal address"
	case 701:
		return "launch out of resources"
	case 702:
		return "launch timeout"
	case 999:
		return "unknown error"
	default:
		return "unrecognized error"
	}
}

// driverAPI describes where a vendor's driver lives and how its entry points are named.
type driverAPI struct {
	vendor    Vendor
	libraries map[Platform][]string
	// bytecodeExt is the extension of the module files this driver loads.
	bytecodeExt string
	// terminate appends a NUL to module images; PTX is loaded as a C string.
	terminate bool

	initialize        string
	deviceGet         string
	ctxCreate         string
	ctxSetCurrent     string
	moduleLoadData    string
	moduleGetFunction string
	memAlloc          string
	memcpyHtoD        string
	memcpyDtoH        string
	memFree           string
	launchKernel      string
}

var cudaDriverAPI = &driverAPI{
	vendor: VendorNvidia,
	libraries: map[Platform][]string{
		Linux:   {"libcuda.so.1", "libcuda.so"},
		Windows: {"nvcuda.dll"},
	},
	bytecodeExt:       ".ptx",
	terminate:         true,
	initialize:        "cuInit",
	deviceGet:         "cuDeviceGet",
	ctxCreate:         "cuCtxCreate_v2",
	ctxSetCurrent:     "cuCtxSetCurrent",
	moduleLoadData:    "cuModuleLoadData",
	moduleGetFunction: "cuModuleGetFunction",
	memAlloc:          "cuMemAlloc_v2",
	memcpyHtoD:        "cuMemcpyHtoD_v2",
	memcpyDtoH:        "cuMemcpyDtoH_v2",
	memFree:           "cuMemFree_v2",
	launchKernel:      "cuLaunchKernel",
}

var hipDriverAPI = &driverAPI{
	vendor: VendorAMD,
	libraries: map[Platform][]string{
		Linux:   {"libamdhip64.so.6", "libamdhip64.so.5", "libamdhip64.so"},
		Windows: {"amdhip64_6.dll", "amdhip64.dll"},
	},
	bytecodeExt:       ".hsaco",
	initialize:        "hipInit",
	deviceGet:         "hipDeviceGet",
	ctxCreate:         "hipCtxCreate",
	ctxSetCurrent:     "hipCtxSetCurrent",
	moduleLoadData:    "hipModuleLoadData",
	moduleGetFunction: "hipModuleGetFunction",
	memAlloc:          "hipMalloc",
	memcpyHtoD:        "hipMemcpyHtoD",
	memcpyDtoH:        "hipMemcpyDtoH",
	memFree:           "hipFree",
	launchKernel:      "hipModuleLaunchKernel",
}

func driverAPIFor(v Vendor) *driverAPI {
	switch v {
	case VendorNvidia:
		return cudaDriverAPI
	case VendorAMD:
		return hipDriverAPI
	default:
		return nil
	}
}

// foreignDriver calls a driver library through function pointers bound at load time.
type foreignDriver struct {
	api *driverAPI
	lib Library

	cInit              func(flags uint32) int32
	cDeviceGet         func(dev *int32, ordinal int32) int32
	cCtxCreate         func(ctx *uintptr, flags uint32, dev int32) int32
	cCtxSetCurrent     func(ctx uintptr) int32
	cModuleLoadData    func(mod *uintptr, image unsafe.Pointer) int32
	cModuleGetFunction func(fn *uintptr, mod uintptr, name string) int32
	cMemAlloc          func(ptr *uintptr, size uintptr) int32
	cMemcpyHtoD        func(dst uintptr, src unsafe.Pointer, n uintptr) int32
	cMemcpyDtoH        func(dst unsafe.Pointer, src uintptr, n uintptr) int32
	cMemFree           func(ptr uintptr) int32
	cLaunchKernel      func(fn uintptr, gx, gy, gz, bx, by, bz, sharedMem uint32, stream uintptr, params unsafe.Pointer, extra uintptr) int32
}

// openDriver loads the vendor's driver library and binds every entry point.
func openDriver(loader Loader, platform Platform, api *driverAPI) (Driver, error) {
	lib, _, err := openFirst(loader, api.libraries[platform])
	if err != nil {
		return nil, err
	}

	d := &foreignDriver{api: api, lib: lib}
	bindings := []struct {
		fptr any
		name string
	}{
		{&d.cInit, api.initialize},
		{&d.cDeviceGet, api.deviceGet},
		{&d.cCtxCreate, api.ctxCreate},
		{&d.cCtxSetCurrent, api.ctxSetCurrent},
		{&d.cModuleLoadData, api.moduleLoadData},
		{&d.cModuleGetFunction, api.moduleGetFunction},
		{&d.cMemAlloc, api.memAlloc},
		{&d.cMemcpyHtoD, api.memcpyHtoD},
		{&d.cMemcpyDtoH, api.memcpyDtoH},
		{&d.cMemFree, api.memFree},
		{&d.cLaunchKernel, api.launchKernel},
	}
	for _, b := range bindings {
		if err := bindFunc(lib, b.fptr, b.name); err != nil {
			_ = lib.Close()
			return nil, err
		}
	}
	return d, nil
}

func (d *foreignDriver) check(op string, code int32) error {
	if code == 0 {
		return nil
	}
	return &DriverError{Vendor: d.api.vendor, Op: op, Code: code}
}

func (d *foreignDriver) Init() error {
	return d.check(d.api.initialize, d.cInit(0))
}

func (d *foreignDriver) DeviceGet(ordinal int) (Device, error) {
	var dev int32
	if err := d.check(d.api.deviceGet, d.cDeviceGet(&dev, int32(ordinal))); err != nil {
		return 0, err
	}
	return Device(dev), nil
}

func (d *foreignDriver) ContextCreate(dev Device) (Context, error) {
	var ctx uintptr
	if err := d.check(d.api.ctxCreate, d.cCtxCreate(&ctx, 0, int32(dev))); err != nil {
		return 0, err
	}
	return Context(ctx), nil
}

func (d *foreignDriver) ContextSetCurrent(ctx Context) error {
	return d.check(d.api.ctxSetCurrent, d.cCtxSetCurrent(uintptr(ctx)))
}

func (d *foreignDriver) ModuleLoadData(image []byte) (Module, error) {
	if d.api.terminate && (len(image) == 0 || image[len(image)-1] != 0) {
		image = append(image[:len(image):len(image)], 0)
	}
	if len(image) == 0 {
		return 0, &DriverError{Vendor: d.api.vendor, Op: d.api.moduleLoadData, Code: 200}
	}
	var mod uintptr
	if err := d.check(d.api.moduleLoadData, d.cModuleLoadData(&mod, unsafe.Pointer(&image[0]))); err != nil {
		return 0, err
	}
	return Module(mod), nil
}

func (d *foreignDriver) ModuleGetFunction(mod Module, name string) (Function, error) {
	var fn uintptr
	if err := d.check(d.api.moduleGetFunction, d.cModuleGetFunction(&fn, uintptr(mod), name)); err != nil {
		return 0, err
	}
	return Function(fn), nil
}

func (d *foreignDriver) MemAlloc(size int) (DevicePtr, error) {
	var ptr uintptr
	if err := d.check(d.api.memAlloc, d.cMemAlloc(&ptr, uintptr(size))); err != nil {
		return 0, err
	}
	return DevicePtr(ptr), nil
}

func (d *foreignDriver) MemcpyHtoD(dst DevicePtr, src []byte) error {
	if len(src) == 0 {
		return nil
	}
	return d.check(d.api.memcpyHtoD, d.cMemcpyHtoD(uintptr(dst), unsafe.Pointer(&src[0]), uintptr(len(src))))
}

func (d *foreignDriver) MemcpyDtoH(dst []byte, src DevicePtr) error {
	if len(dst) == 0 {
		return nil
	}
	return d.check(d.api.memcpyDtoH, d.cMemcpyDtoH(unsafe.Pointer(&dst[0]), uintptr(src), uintptr(len(dst))))
}

func (d *foreignDriver) MemFree(ptr DevicePtr) error {
	return d.check(d.api.memFree, d.cMemFree(uintptr(ptr)))
}

func (d *foreignDriver) Close() error {
	return d.lib.Close()
}

// kernelParams is the argument block handed to the launch call: values
// holds the arguments, slots points at each of them.
type kernelParams struct {
	values [4]uintptr
	slots  [4]unsafe.Pointer
}

func (d *foreignDriver) LaunchKernel(fn Function, grid, block Dim3, args ...uintptr) error {
	if len(args) > len(kernelParams{}.values) {
		return fmt.Errorf("%s: %d kernel arguments, at most %d supported", d.api.launchKernel, len(args), len(kernelParams{}.values))
	}

	params := new(kernelParams)
	var pinner runtime.Pinner
	pinner.Pin(params)
	defer pinner.Unpin()

	for i, arg := range args {
		params.values[i] = arg
		params.slots[i] = unsafe.Pointer(&params.values[i])
	}

	code := d.cLaunchKernel(uintptr(fn),
		grid.X, grid.Y, grid.Z,
		block.X, block.Y, block.Z,
		0, 0,
		unsafe.Pointer(&params.slots[0]), 0)
	return d.check(d.api.launchKernel, code)
}
