package backend

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"path"
	"path/filepath"

	"github.com/choraleia/styletree/pkg/models"
	fsimpl "github.com/choraleia/styletree/pkg/service/fs"
)

// LocalConnector exposes configured host folders. Locators are absolute
// slash-separated paths.
type LocalConnector struct {
	name          string
	roots         []string
	fs            *fsimpl.LocalFileSystem
	includeHidden bool
}

func NewLocalConnector(name string, roots []string, includeHidden bool) *LocalConnector {
	if name == "" {
		name = string(models.BackendLocal)
	}
	return &LocalConnector{
		name:          name,
		roots:         roots,
		fs:            fsimpl.NewLocalFileSystem(),
		includeHidden: includeHidden,
	}
}

func (c *LocalConnector) Name() string             { return c.name }
func (c *LocalConnector) Kind() models.BackendKind { return models.BackendLocal }

func (c *LocalConnector) ListRoots(ctx context.Context) ([]Root, error) {
	roots := make([]Root, 0, len(c.roots))
	for _, r := range c.roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			roots = append(roots, Root{Name: r, Locator: r, Err: err})
			continue
		}
		loc := filepath.ToSlash(abs)
		root := Root{Name: rootName(loc), Locator: loc}
		st, err := c.fs.Stat(ctx, loc)
		switch {
		case err != nil:
			root.Err = err
		case !st.IsDir:
			root.Err = fmt.Errorf("%s is not a directory", loc)
		}
		roots = append(roots, root)
	}
	return roots, nil
}

func (c *LocalConnector) List(ctx context.Context, locator string) (*Listing, error) {
	resp, err := c.fs.ListDir(ctx, locator, fsimpl.ListDirOptions{IncludeHidden: c.includeHidden})
	if err != nil {
		return nil, err
	}
	return listingFromDir(resp), nil
}

func (c *LocalConnector) Stat(ctx context.Context, locator string) (*Entry, error) {
	st, err := c.fs.Stat(ctx, locator)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", locator, ErrNotFound)
		}
		return nil, err
	}
	return &Entry{Name: path.Base(st.Path), Locator: st.Path, Container: st.IsDir}, nil
}

func (c *LocalConnector) Handle(ctx context.Context, locator string) (Handle, error) {
	_ = ctx
	if locator == "" {
		return nil, fmt.Errorf("empty locator")
	}
	return &fsHandle{kind: models.BackendLocal, fs: c.fs, path: path.Clean(filepath.ToSlash(locator))}, nil
}

func (c *LocalConnector) Join(container, name string) string {
	return path.Join(container, name)
}

// WatchPath maps a locator to the OS path observed by the watcher.
func (c *LocalConnector) WatchPath(locator string) (string, bool) {
	if locator == "" {
		return "", false
	}
	return filepath.FromSlash(locator), true
}

func rootName(loc string) string {
	base := path.Base(loc)
	if base == "/" || base == "." || base == "" {
		return loc
	}
	return base
}

var (
	_ Connector = (*LocalConnector)(nil)
	_ Watchable = (*LocalConnector)(nil)
)
