package resource

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrNotRecognized is returned when no handler is registered for an entry.
var ErrNotRecognized = errors.New("resource not recognized")

// Registry maps discriminators to handlers. Discriminators are
// case-insensitive; registering an existing discriminator replaces its handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewEmptyRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(discriminator string, h Handler) {
	d := normalize(discriminator)
	if d == "" || h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[d] = h
}

// RegisterHandler registers h under all its extensions.
func (r *Registry) RegisterHandler(h Handler) {
	for _, ext := range h.Extensions() {
		r.Register(ext, h)
	}
}

// Discriminator returns the part of name after its last '.', lowercased, or ""
// when the name has no extension.
func Discriminator(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// Resolve returns the handler for an entry name.
func (r *Registry) Resolve(name string) (Handler, bool) {
	return r.ResolveDiscriminator(Discriminator(name))
}

func (r *Registry) ResolveDiscriminator(d string) (Handler, bool) {
	d = normalize(d)
	if d == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[d]
	return h, ok
}

// IsRecognized reports whether an entry name is shown as a resource.
func (r *Registry) IsRecognized(name string) bool {
	h, ok := r.Resolve(name)
	return ok && h.Recognizes(name)
}

// Lookup resolves an entry, preferring an explicit backend discriminator over
// the name's extension.
func (r *Registry) Lookup(name, discriminator string) (Handler, error) {
	var (
		h  Handler
		ok bool
	)
	if discriminator != "" {
		h, ok = r.ResolveDiscriminator(discriminator)
	} else {
		h, ok = r.Resolve(name)
	}
	if !ok || !h.Recognizes(name) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotRecognized)
	}
	return h, nil
}

func (r *Registry) Discriminators() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for d := range r.handlers {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func normalize(d string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "."))
}
