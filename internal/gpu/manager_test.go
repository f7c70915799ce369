package gpu

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type managerFixture struct {
	libs   string
	ptx    string
	hsaco  string
	loader *fakeLoader
	driver *fakeDriver
	opens  int
}

func newManagerFixture(t *testing.T, runtimes ...string) *managerFixture {
	dir := t.TempDir()
	f := &managerFixture{
		libs:   filepath.Join(dir, "libs"),
		ptx:    filepath.Join(dir, "ptx"),
		hsaco:  filepath.Join(dir, "hsaco"),
		loader: newFakeLoader(runtimes...),
		driver: newFakeDriver(),
	}
	for _, d := range []string{f.libs, f.ptx, f.hsaco} {
		require.NoError(t, os.MkdirAll(d, 0755))
	}
	return f
}

func (f *managerFixture) touch(t *testing.T, path string) {
	require.NoError(t, os.WriteFile(path, []byte("module"), 0644))
}

func (f *managerFixture) manager() *Manager {
	m := NewManager(Options{
		LibsDir:      f.libs,
		BytecodeDirs: map[Vendor]string{VendorNvidia: f.ptx, VendorAMD: f.hsaco},
		Platform:     Linux,
		Loader:       f.loader,
	}, zap.NewNop())
	m.drivers = func(Vendor) (Driver, error) {
		f.opens++
		return f.driver, nil
	}
	return m
}

func TestManager_PrefersNativeLibraries(t *testing.T) {
	f := newManagerFixture(t, "libcudart.so.12")
	f.touch(t, filepath.Join(f.libs, "libCudaAlignedBitrotFinder.so"))
	f.touch(t, filepath.Join(f.ptx, "kernel_aligned.ptx"))

	m := f.manager()
	assert.Equal(t, NativeLibrary, m.Backend().Kind())
	assert.Equal(t, VendorNvidia, m.Backend().Vendor())
	assert.Equal(t, VendorNvidia, m.Vendor())
	assert.Zero(t, f.opens, "driver is not probed when native libraries exist")
}

func TestManager_FallsBackToBytecode(t *testing.T) {
	f := newManagerFixture(t)
	f.touch(t, filepath.Join(f.hsaco, "kernel_unaligned.hsaco"))

	m := f.manager()
	backend := m.Backend()
	assert.Equal(t, BytecodeRuntime, backend.Kind())
	assert.Equal(t, VendorAMD, backend.Vendor())
	assert.Equal(t, VendorNone, m.Vendor())
	assert.Equal(t, 1, f.opens)

	rt, ok := backend.(*Runtime)
	require.True(t, ok)
	assert.False(t, rt.Ready(), "context is created lazily")
}

func TestManager_DetectedVendorBytecodeFirst(t *testing.T) {
	f := newManagerFixture(t, "libamdhip64.so.6")
	f.touch(t, filepath.Join(f.ptx, "kernel_aligned.ptx"))
	f.touch(t, filepath.Join(f.hsaco, "kernel_aligned.hsaco"))

	m := f.manager()
	assert.Equal(t, BytecodeRuntime, m.Backend().Kind())
	assert.Equal(t, VendorAMD, m.Backend().Vendor())
	assert.Equal(t, VendorAMD, m.Vendor())
}

func TestManager_ProbeFailure(t *testing.T) {
	f := newManagerFixture(t)
	f.touch(t, filepath.Join(f.ptx, "kernel_aligned.ptx"))
	f.driver.failOn["Init"] = 100

	m := f.manager()
	assert.Equal(t, Unavailable, m.Backend().Kind())
}

func TestManager_NothingAvailable(t *testing.T) {
	f := newManagerFixture(t)
	m := f.manager()

	backend := m.Backend()
	require.NotNil(t, backend)
	assert.Equal(t, Unavailable, backend.Kind())
	assert.Equal(t, VendorNone, m.Vendor())
	assert.Zero(t, f.opens)

	_, err := backend.BruteforceBits(Aligned, make([]byte, 64), make([]byte, 20))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestManager_SelectsOnce(t *testing.T) {
	f := newManagerFixture(t)
	f.touch(t, filepath.Join(f.ptx, "kernel_aligned.ptx"))

	m := f.manager()
	first := m.Backend()

	// Files appearing later do not change the decision.
	f.touch(t, filepath.Join(f.libs, "libCudaAlignedBitrotFinder.so"))
	assert.Same(t, first, m.Backend())
	assert.Equal(t, 1, f.opens)
}
