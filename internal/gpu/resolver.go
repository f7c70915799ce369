package gpu

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Resolver finds and loads the bundled native accelerator libraries.
// A library is loaded at most once; later resolutions return the cached handle.
type Resolver struct {
	loader   Loader
	platform Platform
	libsDir  string
	logger   *zap.Logger

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]Library
}

// NewResolver creates a resolver searching libsDir first.
func NewResolver(loader Loader, platform Platform, libsDir string, logger *zap.Logger) *Resolver {
	return &Resolver{
		loader:   loader,
		platform: platform,
		libsDir:  libsDir,
		logger:   logger,
		cache:    make(map[string]Library),
	}
}

// Candidates returns the paths Resolve tries for name, in order.
func (r *Resolver) Candidates(name string) []string {
	return r.platform.libraryCandidates(r.libsDir, name)
}

// Exists reports whether a file for name is present in the libraries
// directory or the working directory. Nothing is loaded.
func (r *Resolver) Exists(name string) bool {
	candidates := r.Candidates(name)
	files := len(r.platform.LibraryFiles(name))
	// The trailing bare names are only meaningful to the system loader.
	for _, path := range candidates[:len(candidates)-files] {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return true
		}
	}
	return false
}

// Resolve loads the library for name from the first candidate that works.
// It returns an error wrapping ErrLibraryNotFound when none does.
func (r *Resolver) Resolve(name string) (Library, error) {
	r.mu.Lock()
	lib, ok := r.cache[name]
	r.mu.Unlock()
	if ok {
		return lib, nil
	}

	v, err, _ := r.group.Do(name, func() (interface{}, error) {
		r.mu.Lock()
		if lib, ok := r.cache[name]; ok {
			r.mu.Unlock()
			return lib, nil
		}
		r.mu.Unlock()

		lib, path, err := openFirst(r.loader, r.Candidates(name))
		if err != nil {
			r.logger.Debug("library not resolved", zap.String("library", name), zap.Error(err))
			return nil, err
		}
		r.logger.Info("library loaded", zap.String("library", name), zap.String("path", path))

		r.mu.Lock()
		r.cache[name] = lib
		r.mu.Unlock()
		return lib, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Library), nil
}
