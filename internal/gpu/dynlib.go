package gpu

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ebitengine/purego"
)

// Library is a dynamically loaded shared library.
type Library interface {
	// Symbol returns the address of an exported symbol.
	Symbol(name string) (uintptr, error)
	// Close releases the library handle.
	Close() error
}

// Loader opens shared libraries by path or bare name.
type Loader interface {
	Open(name string) (Library, error)
}

// SystemLoader loads libraries through the operating system's dynamic loader.
type SystemLoader struct{}

func (SystemLoader) Open(name string) (Library, error) {
	handle, err := openLibrary(name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return &systemLibrary{name: name, handle: handle}, nil
}

type systemLibrary struct {
	name   string
	handle uintptr
}

func (l *systemLibrary) Symbol(name string) (uintptr, error) {
	addr, err := lookupSymbol(l.handle, name)
	if err != nil {
		return 0, fmt.Errorf("%s: symbol %s: %w", l.name, name, err)
	}
	if addr == 0 {
		return 0, fmt.Errorf("%s: symbol %s resolved to nil", l.name, name)
	}
	return addr, nil
}

func (l *systemLibrary) Close() error {
	return closeLibrary(l.handle)
}

// openFirst opens the first name in names that loads. The returned error
// joins every failure when none does.
func openFirst(loader Loader, names []string) (Library, string, error) {
	var errs []error
	for _, name := range names {
		lib, err := loader.Open(name)
		if err == nil {
			return lib, name, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, "", fmt.Errorf("%w: no candidates", ErrLibraryNotFound)
	}
	return nil, "", fmt.Errorf("%w: tried %s: %w", ErrLibraryNotFound, strings.Join(names, ", "), errors.Join(errs...))
}

// bindFunc points the function variable fptr at symbol name in lib.
// purego.RegisterFunc panics on unsupported signatures; those are
// programming errors and are left to crash.
func bindFunc(lib Library, fptr any, name string) error {
	addr, err := lib.Symbol(name)
	if err != nil {
		return err
	}
	purego.RegisterFunc(fptr, addr)
	return nil
}
