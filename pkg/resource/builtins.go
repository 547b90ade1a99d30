package resource

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/beevik/etree"

	"github.com/choraleia/styletree/pkg/models"
	"github.com/choraleia/styletree/pkg/service/backend"
)

// Builtins is the compile-time table of handlers selectable by name.
var Builtins = map[string]func() Handler{
	"style":  func() Handler { return StyleHandler{} },
	"bundle": func() Handler { return BundleHandler{} },
	"vector": func() Handler {
		return BinaryHandler{Kind: models.CategoryVector, Exts: []string{"shp", "gpkg", "geojson", "kml", "gml"}}
	},
	"raster": func() Handler {
		return BinaryHandler{Kind: models.CategoryRaster, Exts: []string{"tif", "tiff", "png", "jpg"}}
	},
	"table": func() Handler { return TableHandler{} },
}

// DefaultHandlers is the activation order used when none is configured.
var DefaultHandlers = []string{"style", "bundle", "vector", "raster", "table"}

// NewRegistry builds a registry from built-in handler names. Later names win
// for a shared discriminator.
func NewRegistry(names ...string) (*Registry, error) {
	if len(names) == 0 {
		names = DefaultHandlers
	}
	r := NewEmptyRegistry()
	for _, n := range names {
		ctor, ok := Builtins[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("unknown resource handler %q", n)
		}
		r.RegisterHandler(ctor())
	}
	return r, nil
}

func readAll(ctx context.Context, h backend.Handle) ([]byte, error) {
	rc, err := h.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func writeAll(ctx context.Context, h backend.Handle, data []byte) error {
	wc, err := h.Create(ctx)
	if err != nil {
		return err
	}
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return err
	}
	return wc.Close()
}

func hasBase(name string) bool {
	return strings.TrimSpace(strings.TrimSuffix(name, path.Ext(name))) != ""
}

// StyleHandler handles SLD / SE style documents.
type StyleHandler struct{}

func (StyleHandler) Extensions() []string       { return []string{"sld", "se"} }
func (StyleHandler) Category() models.Category  { return models.CategoryStyle }
func (StyleHandler) Recognizes(name string) bool { return hasBase(name) }
func (StyleHandler) IsContainer() bool          { return false }

func (StyleHandler) Open(ctx context.Context, h backend.Handle) (*Resource, error) {
	data, err := readAll(ctx, h)
	if err != nil {
		return nil, err
	}
	name, err := StyleName(data)
	if err != nil {
		return nil, fmt.Errorf("parse style %s: %w", h.Name(), err)
	}
	return &Resource{Name: h.Name(), Category: models.CategoryStyle, Data: data, StyleName: name}, nil
}

func (StyleHandler) Save(ctx context.Context, res *Resource, h backend.Handle) error {
	if _, err := StyleName(res.Data); err != nil {
		return fmt.Errorf("parse style %s: %w", res.Name, err)
	}
	return writeAll(ctx, h, res.Data)
}

// ResourceName is the entry name; the declared StyleName is carried separately
// so copies keep their native file names.
func (StyleHandler) ResourceName(res *Resource) string { return res.Name }

// StyleName returns the name declared by a style document: the first
// UserStyle name, else the first NamedLayer name, else "".
func StyleName(data []byte) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return "", err
	}
	if doc.Root() == nil {
		return "", fmt.Errorf("empty document")
	}
	for _, p := range []string{"//UserStyle/Name", "//NamedLayer/Name"} {
		if el := doc.FindElement(p); el != nil {
			if name := strings.TrimSpace(el.Text()); name != "" {
				return name, nil
			}
		}
	}
	return "", nil
}

// BinaryHandler copies resources as opaque bytes.
type BinaryHandler struct {
	Kind models.Category
	Exts []string
}

func (b BinaryHandler) Extensions() []string      { return b.Exts }
func (b BinaryHandler) Category() models.Category { return b.Kind }
func (BinaryHandler) Recognizes(name string) bool { return hasBase(name) }
func (BinaryHandler) IsContainer() bool           { return false }

func (b BinaryHandler) Open(ctx context.Context, h backend.Handle) (*Resource, error) {
	data, err := readAll(ctx, h)
	if err != nil {
		return nil, err
	}
	return &Resource{Name: h.Name(), Category: b.Kind, Data: data}, nil
}

func (BinaryHandler) Save(ctx context.Context, res *Resource, h backend.Handle) error {
	return writeAll(ctx, h, res.Data)
}

func (BinaryHandler) ResourceName(res *Resource) string { return res.Name }

// TableHandler handles database feature tables. Tables are read-only: opening
// one yields its column description.
type TableHandler struct{}

func (TableHandler) Extensions() []string       { return []string{backend.TableDiscriminator} }
func (TableHandler) Category() models.Category  { return models.CategoryVector }
func (TableHandler) Recognizes(name string) bool { return strings.TrimSpace(name) != "" }
func (TableHandler) IsContainer() bool          { return false }

func (TableHandler) Open(ctx context.Context, h backend.Handle) (*Resource, error) {
	data, err := readAll(ctx, h)
	if err != nil {
		return nil, err
	}
	return &Resource{Name: h.Name(), Category: models.CategoryVector, Data: data}, nil
}

func (TableHandler) Save(ctx context.Context, res *Resource, h backend.Handle) error {
	return fmt.Errorf("table %s: %w", res.Name, backend.ErrReadOnly)
}

func (TableHandler) ResourceName(res *Resource) string { return res.Name }

// BundleHandler handles zipped style packages. A bundle is a leaf that expands
// to its archive members; members are read-only.
type BundleHandler struct{}

func (BundleHandler) Extensions() []string       { return []string{"zip"} }
func (BundleHandler) Category() models.Category  { return models.CategoryStyle }
func (BundleHandler) Recognizes(name string) bool { return hasBase(name) }
func (BundleHandler) IsContainer() bool          { return true }

func (BundleHandler) Open(ctx context.Context, h backend.Handle) (*Resource, error) {
	data, err := readAll(ctx, h)
	if err != nil {
		return nil, err
	}
	if _, err := zip.NewReader(bytes.NewReader(data), int64(len(data))); err != nil {
		return nil, fmt.Errorf("open bundle %s: %w", h.Name(), err)
	}
	return &Resource{Name: h.Name(), Category: models.CategoryStyle, Data: data}, nil
}

func (BundleHandler) Save(ctx context.Context, res *Resource, h backend.Handle) error {
	return writeAll(ctx, h, res.Data)
}

func (BundleHandler) ResourceName(res *Resource) string { return res.Name }

// Members lists the file members of the archive, sorted by name.
func (BundleHandler) Members(ctx context.Context, h backend.Handle) ([]string, error) {
	zr, err := openZip(ctx, h)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names, nil
}

func (BundleHandler) Member(h backend.Handle, name string) backend.Handle {
	return &memberHandle{bundle: h, member: name}
}

func openZip(ctx context.Context, h backend.Handle) (*zip.Reader, error) {
	data, err := readAll(ctx, h)
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open bundle %s: %w", h.Name(), err)
	}
	return zr, nil
}

// memberHandle addresses one file inside a bundle as "<bundle>!/<member>".
type memberHandle struct {
	bundle backend.Handle
	member string
}

func (m *memberHandle) Kind() models.BackendKind { return m.bundle.Kind() }
func (m *memberHandle) Locator() string          { return m.bundle.Locator() + "!/" + m.member }
func (m *memberHandle) Parent() string           { return m.bundle.Locator() }
func (m *memberHandle) Name() string             { return path.Base(m.member) }

func (m *memberHandle) Open(ctx context.Context) (io.ReadCloser, error) {
	zr, err := openZip(ctx, m.bundle)
	if err != nil {
		return nil, err
	}
	for _, f := range zr.File {
		if f.Name == m.member {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("%s: %w", m.Locator(), backend.ErrNotFound)
}

func (m *memberHandle) Create(ctx context.Context) (io.WriteCloser, error) {
	return nil, fmt.Errorf("%s: %w", m.Locator(), backend.ErrReadOnly)
}

func (m *memberHandle) Remove(ctx context.Context) error {
	return fmt.Errorf("%s: %w", m.Locator(), backend.ErrReadOnly)
}

var _ ContainerHandler = BundleHandler{}
