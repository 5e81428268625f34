package codec

import (
	"context"
	"fmt"
	"sync"

	"github.com/dunamismax/convertify/internal/format"
)

// RegistryConfig carries the adapter-level knobs that are not per-call options.
type RegistryConfig struct {
	ICOMaxSize int
	SVGScale   float64
}

// Registry holds exactly one adapter per canonical format.
type Registry struct {
	adapters map[format.ImageFormat]Adapter

	mu     sync.Mutex
	probes map[format.ImageFormat]bool
}

// NewRegistry builds the portable adapters and lets the platform backend replace any of them.
func NewRegistry(cfg RegistryConfig) *Registry {
	r := &Registry{
		adapters: make(map[format.ImageFormat]Adapter, len(format.All)),
		probes:   make(map[format.ImageFormat]bool),
	}
	for _, a := range []Adapter{
		newPNGAdapter(),
		newJPEGAdapter(),
		newWebPAdapter(),
		newAVIFAdapter(),
		newGIFAdapter(),
		newSVGAdapter(cfg.SVGScale),
		newBMPAdapter(),
		newICOAdapter(cfg.ICOMaxSize),
	} {
		r.adapters[a.Format()] = a
	}
	for _, a := range platformAdapters() {
		r.adapters[a.Format()] = a
	}
	return r
}

// Replace swaps the adapter registered for a.Format(), clearing any cached probe.
func (r *Registry) Replace(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Format()] = a
	delete(r.probes, a.Format())
}

func (r *Registry) Adapter(f format.ImageFormat) (Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.adapters[f]
	if !ok {
		return nil, fmt.Errorf("%w: %q", format.ErrUnsupportedFormat, f)
	}
	return a, nil
}

// CanEncode probes the adapter once and caches the answer for the registry's lifetime.
func (r *Registry) CanEncode(ctx context.Context, f format.ImageFormat) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ok, cached := r.probes[f]; cached {
		return ok
	}
	a, found := r.adapters[f]
	if !found {
		return false
	}
	ok := a.CanEncode(ctx)
	r.probes[f] = ok
	return ok
}

// Encodable lists the formats this host can currently write.
func (r *Registry) Encodable(ctx context.Context) []format.ImageFormat {
	var out []format.ImageFormat
	for _, f := range format.All {
		if r.CanEncode(ctx, f) {
			out = append(out, f)
		}
	}
	return out
}
