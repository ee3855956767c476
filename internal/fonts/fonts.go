// Package fonts defines the font-resolution capability consumed by the edit
// stage. Actual font-file loading and glyph handling live outside the core;
// this package only fixes the contract and provides a caching resolver over a
// pluggable loader.
package fonts

import (
	"fmt"
	"sync"
)

// Handle is a process-local renderable font. Handles are never persisted;
// BlockSettings round-trips only the font name and size.
type Handle interface {
	Name() string
	Size() float64
}

// Resolver turns a font name and size into a renderable handle.
type Resolver interface {
	Resolve(name string, size float64) (Handle, error)
}

// LoaderFunc loads a font by name at a given size. Implementations come from
// the rendering layer; the core never loads font files itself.
type LoaderFunc func(name string, size float64) (Handle, error)

type cacheKey struct {
	name string
	size float64
}

// CachingResolver memoizes resolved handles per (name, size). Resolution
// failures are not cached so a font installed later resolves on retry.
type CachingResolver struct {
	load LoaderFunc

	mu    sync.Mutex
	cache map[cacheKey]Handle
}

func NewCachingResolver(load LoaderFunc) *CachingResolver {
	return &CachingResolver{
		load:  load,
		cache: make(map[cacheKey]Handle),
	}
}

func (r *CachingResolver) Resolve(name string, size float64) (Handle, error) {
	key := cacheKey{name: name, size: size}

	r.mu.Lock()
	if h, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return h, nil
	}
	r.mu.Unlock()

	h, err := r.load(name, size)
	if err != nil {
		return nil, fmt.Errorf("resolve font %q at %g: %w", name, size, err)
	}

	r.mu.Lock()
	r.cache[key] = h
	r.mu.Unlock()
	return h, nil
}
