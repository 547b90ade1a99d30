package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/choraleia/styletree/pkg/models"
	fsimpl "github.com/choraleia/styletree/pkg/service/fs"
	"github.com/pkg/sftp"
)

// SFTPClientProvider hands out a connected SFTP client. Implemented by
// sftpPoolProvider over fs.SFTPPool; tests inject a pipe-backed client.
type SFTPClientProvider interface {
	Client(ctx context.Context) (*sftp.Client, error)
}

type sftpPoolProvider struct {
	pool *fsimpl.SFTPPool
	key  string
	cfg  models.SFTPConfig
}

func (p *sftpPoolProvider) Client(ctx context.Context) (*sftp.Client, error) {
	return p.pool.GetClient(ctx, p.key, p.cfg)
}

// SFTPConnector exposes one remote folder (a base path on an SSH host) as a root.
type SFTPConnector struct {
	name          string
	base          string
	clients       SFTPClientProvider
	includeHidden bool
}

// NewSFTPConnector builds a connector dialing through pool.
func NewSFTPConnector(name string, cfg models.SFTPConfig, pool *fsimpl.SFTPPool, includeHidden bool) *SFTPConnector {
	return NewSFTPConnectorWithProvider(name, cfg.Path, &sftpPoolProvider{pool: pool, key: name, cfg: cfg}, includeHidden)
}

func NewSFTPConnectorWithProvider(name, base string, clients SFTPClientProvider, includeHidden bool) *SFTPConnector {
	if base == "" {
		base = "/"
	}
	return &SFTPConnector{name: name, base: path.Clean(base), clients: clients, includeHidden: includeHidden}
}

func (c *SFTPConnector) Name() string             { return c.name }
func (c *SFTPConnector) Kind() models.BackendKind { return models.BackendSFTP }

func (c *SFTPConnector) filesystem(ctx context.Context) (*fsimpl.SFTPFileSystem, error) {
	cli, err := c.clients.Client(ctx)
	if err != nil {
		return nil, err
	}
	return fsimpl.NewSFTPFileSystem(cli)
}

func (c *SFTPConnector) ListRoots(ctx context.Context) ([]Root, error) {
	root := Root{Name: c.name, Locator: c.base}
	fs, err := c.filesystem(ctx)
	if err == nil {
		var st *fsimpl.FileEntry
		st, err = fs.Stat(ctx, c.base)
		if err == nil && !st.IsDir {
			err = fmt.Errorf("%s is not a directory", c.base)
		}
	}
	root.Err = err
	return []Root{root}, nil
}

func (c *SFTPConnector) List(ctx context.Context, locator string) (*Listing, error) {
	fs, err := c.filesystem(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := fs.ListDir(ctx, locator, fsimpl.ListDirOptions{IncludeHidden: c.includeHidden})
	if err != nil {
		return nil, err
	}
	return listingFromDir(resp), nil
}

func (c *SFTPConnector) Stat(ctx context.Context, locator string) (*Entry, error) {
	fs, err := c.filesystem(ctx)
	if err != nil {
		return nil, err
	}
	st, err := fs.Stat(ctx, locator)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", locator, ErrNotFound)
		}
		return nil, err
	}
	return &Entry{Name: st.Name, Locator: st.Path, Container: st.IsDir}, nil
}

func (c *SFTPConnector) Handle(ctx context.Context, locator string) (Handle, error) {
	fs, err := c.filesystem(ctx)
	if err != nil {
		return nil, err
	}
	return &fsHandle{kind: models.BackendSFTP, fs: fs, path: path.Clean(locator)}, nil
}

func (c *SFTPConnector) Join(container, name string) string {
	return path.Join(container, name)
}

var _ Connector = (*SFTPConnector)(nil)
