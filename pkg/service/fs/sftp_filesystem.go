package fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/pkg/sftp"
)

// SFTPFileSystem implements FileSystem using an existing *sftp.Client.
//
// The client provisioning (SSH auth, pooling, etc.) lives in SFTPPool.
type SFTPFileSystem struct {
	client *sftp.Client
}

func NewSFTPFileSystem(client *sftp.Client) (*SFTPFileSystem, error) {
	if client == nil {
		return nil, fmt.Errorf("sftp client is nil")
	}
	return &SFTPFileSystem{client: client}, nil
}

// ListDir lists a remote directory. ReadDir returns attributes inline, so the only
// per-entry faults are unresolvable symlinks.
func (s *SFTPFileSystem) ListDir(ctx context.Context, p string, opts ListDirOptions) (*ListDirResponse, error) {
	pathToList, err := normalizeRemotePath(p)
	if err != nil {
		return nil, err
	}
	infos, err := s.client.ReadDir(pathToList)
	if err != nil {
		return nil, err
	}

	resp := &ListDirResponse{Path: pathToList, Entries: make([]FileEntry, 0, len(infos))}
	for _, fi := range infos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := fi.Name()
		if name == "." || name == ".." {
			continue
		}
		if !opts.IncludeHidden && strings.HasPrefix(name, ".") {
			continue
		}
		child := joinRemote(pathToList, name)
		isDir := fi.IsDir()
		if fi.Mode()&os.ModeSymlink != 0 {
			target, err := s.client.Stat(child)
			if err != nil {
				resp.Faults = append(resp.Faults, EntryFault{Name: name, Path: child, Err: err})
				continue
			}
			isDir = target.IsDir()
		}
		resp.Entries = append(resp.Entries, FileEntry{
			Name:    name,
			Path:    child,
			IsDir:   isDir,
			Size:    fi.Size(),
			Mode:    fi.Mode().String(),
			ModTime: fi.ModTime(),
		})
	}

	return resp, nil
}

func (s *SFTPFileSystem) Stat(ctx context.Context, p string) (*FileEntry, error) {
	_ = ctx
	remotePath, err := normalizeRemotePath(p)
	if err != nil {
		return nil, err
	}
	fi, err := s.client.Stat(remotePath)
	if err != nil {
		return nil, err
	}
	return &FileEntry{
		Name:    path.Base(remotePath),
		Path:    remotePath,
		IsDir:   fi.IsDir(),
		Size:    fi.Size(),
		Mode:    fi.Mode().String(),
		ModTime: fi.ModTime(),
	}, nil
}

func (s *SFTPFileSystem) MkdirAll(ctx context.Context, p string) error {
	_ = ctx
	remotePath, err := normalizeRemotePath(p)
	if err != nil {
		return err
	}
	return s.client.MkdirAll(remotePath)
}

func (s *SFTPFileSystem) Remove(ctx context.Context, p string) error {
	_ = ctx
	remotePath, err := normalizeRemotePath(p)
	if err != nil {
		return err
	}
	fi, err := s.client.Stat(remotePath)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return s.client.RemoveDirectory(remotePath)
	}
	return s.client.Remove(remotePath)
}

func (s *SFTPFileSystem) OpenRead(ctx context.Context, p string) (io.ReadCloser, error) {
	_ = ctx
	remotePath, err := normalizeRemotePath(p)
	if err != nil {
		return nil, err
	}
	return s.client.Open(remotePath)
}

func (s *SFTPFileSystem) OpenWrite(ctx context.Context, p string, opts OpenWriteOptions) (io.WriteCloser, error) {
	_ = ctx
	remotePath, err := normalizeRemotePath(p)
	if err != nil {
		return nil, err
	}

	flag := os.O_WRONLY | os.O_CREATE
	if opts.Overwrite {
		flag |= os.O_TRUNC
	} else {
		flag |= os.O_EXCL
	}

	return s.client.OpenFile(remotePath, flag)
}

var _ FileSystem = (*SFTPFileSystem)(nil)

// joinRemote joins a directory and a base path, ensuring a single '/' separator.
func joinRemote(dir string, base string) string {
	if dir == "" {
		return "/" + strings.TrimPrefix(base, "/")
	}
	if base == "" {
		return dir
	}
	if strings.HasSuffix(dir, "/") {
		return dir + strings.TrimPrefix(base, "/")
	}
	return dir + "/" + strings.TrimPrefix(base, "/")
}
