//go:build !(darwin || freebsd || linux || windows)

package gpu

import "errors"

var errDynlibUnsupported = errors.New("dynamic libraries are not supported on this platform")

func openLibrary(string) (uintptr, error) { return 0, errDynlibUnsupported }

func lookupSymbol(uintptr, string) (uintptr, error) { return 0, errDynlibUnsupported }

func closeLibrary(uintptr) error { return errDynlibUnsupported }
