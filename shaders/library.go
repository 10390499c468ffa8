package shaders

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/gogpu/rhi"
)

// Ext is the file extension of shader bundles.
const Ext = ".rhsb"

// Library is the set of bundles in one resources directory. Lookups search
// bundles in file name order. It is safe for concurrent use.
type Library struct {
	dir string

	mu      sync.RWMutex
	bundles map[string]*Bundle
}

// OpenLibrary opens every bundle in dir.
func OpenLibrary(dir string) (*Library, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*"+Ext))
	if err != nil {
		return nil, err
	}
	l := &Library{dir: dir, bundles: make(map[string]*Bundle, len(paths))}
	for _, p := range paths {
		b, err := OpenFile(p)
		if err != nil {
			l.Close()
			return nil, err
		}
		l.bundles[filepath.Base(p)] = b
	}
	rhi.Logger().Debug("shaders: library opened", "dir", dir, "bundles", len(paths))
	return l, nil
}

// Dir returns the resources directory.
func (l *Library) Dir() string { return l.dir }

// Bundles returns the loaded bundle file names, sorted.
func (l *Library) Bundles() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.bundles))
	for n := range l.bundles {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Reload reopens the bundle at path. A bundle whose file is gone is
// dropped. On a decode error the previous version stays loaded.
func (l *Library) Reload(path string) error {
	base := filepath.Base(path)
	b, err := OpenFile(filepath.Join(l.dir, base))
	if errors.Is(err, fs.ErrNotExist) {
		l.mu.Lock()
		old := l.bundles[base]
		delete(l.bundles, base)
		l.mu.Unlock()
		if old != nil {
			old.Close()
		}
		return nil
	}
	if err != nil {
		return err
	}
	l.mu.Lock()
	old := l.bundles[base]
	l.bundles[base] = b
	l.mu.Unlock()
	if old != nil {
		old.Close()
	}
	rhi.Logger().Info("shaders: bundle reloaded", "bundle", base, "entries", len(b.entries))
	return nil
}

// Shader returns the first entry for name and api, together with the file
// name of the bundle holding it.
func (l *Library) Shader(name string, api rhi.API) (rhi.ShaderDesc, string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.bundles))
	for n := range l.bundles {
		names = append(names, n)
	}
	slices.Sort(names)
	for _, n := range names {
		b := l.bundles[n]
		if b.Has(name, api) {
			desc, err := b.Shader(name, api)
			return desc, n, err
		}
	}
	return rhi.ShaderDesc{}, "", fmt.Errorf("%w: %q for %s in %s", ErrNotFound, name, api, l.dir)
}

// Load creates shader name on dev.
func (l *Library) Load(dev rhi.Device, name string) (rhi.Shader, error) {
	desc, _, err := l.Shader(name, dev.API())
	if err != nil {
		return nil, err
	}
	return dev.CreateShader(desc)
}

// Close closes every bundle.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for n, b := range l.bundles {
		errs = append(errs, b.Close())
		delete(l.bundles, n)
	}
	return errors.Join(errs...)
}

// WriteFile builds a bundle file atomically: the bundle is written to a
// temporary file in the same directory and renamed over path.
func WriteFile(path string, b *Builder) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".bundle-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := b.WriteTo(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
