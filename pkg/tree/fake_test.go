package tree

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/choraleia/styletree/pkg/models"
	"github.com/choraleia/styletree/pkg/resource"
	"github.com/choraleia/styletree/pkg/service/backend"
)

// memConnector is an in-memory backend with one root at "/".
type memConnector struct {
	name string

	mu        sync.Mutex
	dirs      map[string]bool
	files     map[string][]byte
	faults    map[string][]backend.Fault
	failWrite map[string]bool
	down      bool
	block     bool // List waits for ctx cancellation
	lists     map[string]int
}

func newMem(name string) *memConnector {
	return &memConnector{
		name:      name,
		dirs:      map[string]bool{"/": true},
		files:     make(map[string][]byte),
		faults:    make(map[string][]backend.Fault),
		failWrite: make(map[string]bool),
		lists:     make(map[string]int),
	}
}

func (m *memConnector) mkdir(p string) *memConnector {
	m.mu.Lock()
	defer m.mu.Unlock()
	for d := p; d != "/"; d = path.Dir(d) {
		m.dirs[d] = true
	}
	return m
}

func (m *memConnector) put(p, data string) *memConnector {
	m.mkdir(path.Dir(p))
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[p] = []byte(data)
	return m
}

func (m *memConnector) remove(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, p)
	delete(m.dirs, p)
}

func (m *memConnector) has(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[p]
	return ok
}

func (m *memConnector) data(p string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.files[p])
}

func (m *memConnector) setDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

func (m *memConnector) listCount(p string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lists[p]
}

func (m *memConnector) Name() string             { return m.name }
func (m *memConnector) Kind() models.BackendKind { return models.BackendLocal }

func (m *memConnector) ListRoots(ctx context.Context) ([]backend.Root, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	root := backend.Root{Name: m.name, Locator: "/"}
	if m.down {
		root.Err = errors.New("connection refused")
	}
	return []backend.Root{root}, nil
}

func (m *memConnector) List(ctx context.Context, locator string) (*backend.Listing, error) {
	m.mu.Lock()
	block := m.block
	m.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[locator]++
	if m.down {
		return nil, errors.New("connection refused")
	}
	if !m.dirs[locator] {
		return nil, fmt.Errorf("%s: %w", locator, backend.ErrNotFound)
	}
	l := &backend.Listing{Faults: m.faults[locator]}
	for d := range m.dirs {
		if d != "/" && path.Dir(d) == locator {
			l.Entries = append(l.Entries, backend.Entry{Name: path.Base(d), Locator: d, Container: true})
		}
	}
	for f := range m.files {
		if path.Dir(f) == locator {
			l.Entries = append(l.Entries, backend.Entry{Name: path.Base(f), Locator: f})
		}
	}
	return l, nil
}

func (m *memConnector) Stat(ctx context.Context, locator string) (*backend.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dirs[locator] {
		return &backend.Entry{Name: path.Base(locator), Locator: locator, Container: true}, nil
	}
	if _, ok := m.files[locator]; ok {
		return &backend.Entry{Name: path.Base(locator), Locator: locator}, nil
	}
	return nil, backend.ErrNotFound
}

func (m *memConnector) Handle(ctx context.Context, locator string) (backend.Handle, error) {
	return &memHandle{m: m, p: locator}, nil
}

func (m *memConnector) Join(container, name string) string { return path.Join(container, name) }

type memHandle struct {
	m *memConnector
	p string
}

func (h *memHandle) Kind() models.BackendKind { return models.BackendLocal }
func (h *memHandle) Locator() string          { return h.p }
func (h *memHandle) Parent() string           { return path.Dir(h.p) }
func (h *memHandle) Name() string             { return path.Base(h.p) }

func (h *memHandle) Open(ctx context.Context) (io.ReadCloser, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	b, ok := h.m.files[h.p]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (h *memHandle) Create(ctx context.Context) (io.WriteCloser, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if h.m.failWrite[h.p] {
		return nil, errors.New("disk full")
	}
	return &memWriter{h: h}, nil
}

func (h *memHandle) Remove(ctx context.Context) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if _, ok := h.m.files[h.p]; !ok {
		return backend.ErrNotFound
	}
	delete(h.m.files, h.p)
	return nil
}

type memWriter struct {
	h   *memHandle
	buf bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *memWriter) Close() error {
	w.h.m.mu.Lock()
	defer w.h.m.mu.Unlock()
	w.h.m.files[w.h.p] = w.buf.Bytes()
	return nil
}

// recorder captures sink notifications.
type recorder struct {
	mu         sync.Mutex
	inserted   []string // "parentName:idx"
	removed    []string
	changed    []string
	selections [][]string
	errs       []error
}

func (r *recorder) NodesInserted(parent models.NodeInfo, idx []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range idx {
		r.inserted = append(r.inserted, fmt.Sprintf("%s:%d", parent.Name, i))
	}
}

func (r *recorder) NodesRemoved(parent models.NodeInfo, idx []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range idx {
		r.removed = append(r.removed, fmt.Sprintf("%s:%d", parent.Name, i))
	}
}

func (r *recorder) StructureChanged(node models.NodeInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, node.Name)
}

func (r *recorder) SelectionChanged(nodes []models.NodeInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}
	r.selections = append(r.selections, names)
}

func (r *recorder) ReportError(context string, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, cause)
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) snapshot() (inserted, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.inserted...), append([]string(nil), r.removed...)
}

func styleRegistry(t *testing.T) *resource.Registry {
	t.Helper()
	reg, err := resource.NewRegistry("style")
	require.NoError(t, err)
	return reg
}

func newTestTree(t *testing.T, reg *resource.Registry, conns ...backend.Connector) (*Tree, *recorder) {
	t.Helper()
	return newTestTreeWith(t, Options{Registry: reg}, conns...)
}

func newTestTreeWith(t *testing.T, opts Options, conns ...backend.Connector) (*Tree, *recorder) {
	t.Helper()
	rec := &recorder{}
	cr := backend.NewRegistry(false)
	for _, c := range conns {
		cr.Add(c)
	}
	opts.Connectors = cr
	opts.Structure = rec
	opts.Selection = rec
	opts.Errors = rec
	tr := New(opts)
	t.Cleanup(func() { _ = tr.Close() })
	_, err := tr.Load(context.Background())
	require.NoError(t, err)
	return tr, rec
}

func rootOf(t *testing.T, tr *Tree, connector string) models.NodeInfo {
	t.Helper()
	roots, err := tr.Roots(context.Background())
	require.NoError(t, err)
	for _, r := range roots {
		if r.Connector == connector {
			return r
		}
	}
	t.Fatalf("no root for %s", connector)
	return models.NodeInfo{}
}

func childNamed(t *testing.T, n models.NodeInfo, name string) models.NodeInfo {
	t.Helper()
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("%s has no child %s (children: %s)", n.Name, name, strings.Join(n.ChildNames(), ", "))
	return models.NodeInfo{}
}

// shape renders children as name/state pairs, ignoring node IDs.
func shape(n models.NodeInfo) []string {
	out := make([]string, 0, len(n.Children))
	for _, c := range n.Children {
		s := c.Name + "/" + string(c.State)
		if c.Pending {
			s += "+"
		}
		out = append(out, s)
	}
	return out
}
