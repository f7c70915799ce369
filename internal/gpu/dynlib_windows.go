//go:build windows

package gpu

import "golang.org/x/sys/windows"

func openLibrary(name string) (uintptr, error) {
	handle, err := windows.LoadLibrary(name)
	if err != nil {
		return 0, err
	}
	return uintptr(handle), nil
}

func lookupSymbol(handle uintptr, name string) (uintptr, error) {
	return windows.GetProcAddress(windows.Handle(handle), name)
}

func closeLibrary(handle uintptr) error {
	return windows.FreeLibrary(windows.Handle(handle))
}
