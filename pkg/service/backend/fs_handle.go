package backend

import (
	"context"
	"io"
	"path"

	"github.com/choraleia/styletree/pkg/models"
	fsimpl "github.com/choraleia/styletree/pkg/service/fs"
)

// fsHandle is a Handle onto a path of a fs.FileSystem (local or SFTP).
type fsHandle struct {
	kind models.BackendKind
	fs   fsimpl.FileSystem
	path string
}

func (h *fsHandle) Kind() models.BackendKind { return h.kind }
func (h *fsHandle) Locator() string          { return h.path }
func (h *fsHandle) Parent() string           { return path.Dir(h.path) }
func (h *fsHandle) Name() string             { return path.Base(h.path) }

func (h *fsHandle) Open(ctx context.Context) (io.ReadCloser, error) {
	return h.fs.OpenRead(ctx, h.path)
}

func (h *fsHandle) Create(ctx context.Context) (io.WriteCloser, error) {
	return h.fs.OpenWrite(ctx, h.path, fsimpl.OpenWriteOptions{Overwrite: true})
}

func (h *fsHandle) Remove(ctx context.Context) error {
	return h.fs.Remove(ctx, h.path)
}

func listingFromDir(resp *fsimpl.ListDirResponse) *Listing {
	l := &Listing{Entries: make([]Entry, 0, len(resp.Entries))}
	for _, e := range resp.Entries {
		l.Entries = append(l.Entries, Entry{Name: e.Name, Locator: e.Path, Container: e.IsDir})
	}
	for _, f := range resp.Faults {
		l.Faults = append(l.Faults, Fault{Name: f.Name, Locator: f.Path, Err: f.Err})
	}
	return l
}
