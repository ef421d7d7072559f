package transport

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/spf13/afero"
)

// FsDialer serves the remote layout from an afero filesystem: a directory on
// local disk for the file backend, memory for the memory backend.
type FsDialer struct {
	fs   afero.Fs
	name string
}

// NewFsDialer wraps fsys. name is reported as the backend kind.
func NewFsDialer(fsys afero.Fs, name string) *FsDialer {
	return &FsDialer{fs: fsys, name: name}
}

// NewMemoryDialer returns a dialer over an empty in-memory filesystem.
func NewMemoryDialer() *FsDialer {
	return NewFsDialer(afero.NewMemMapFs(), "memory")
}

// NewDirDialer returns a dialer rooted at a local directory.
func NewDirDialer(root string) *FsDialer {
	return NewFsDialer(afero.NewBasePathFs(afero.NewOsFs(), root), "file")
}

// Fs exposes the underlying filesystem.
func (d *FsDialer) Fs() afero.Fs {
	return d.fs
}

// Dial implements Dialer
func (d *FsDialer) Dial(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &fsConn{fs: d.fs}, nil
}

// Name implements Dialer
func (d *FsDialer) Name() string {
	return d.name
}

type fsConn struct {
	fs afero.Fs
}

func (c *fsConn) Retrieve(ctx context.Context, p string, w io.Writer) error {
	f, err := c.fs.Open(p)
	if err != nil {
		if isNotExist(err) {
			return ErrObjectNotFound
		}
		return err
	}
	defer f.Close()

	_, err = io.Copy(w, f)
	return err
}

// Store writes next to the target and renames, so readers see either the old
// or the new document.
func (c *fsConn) Store(ctx context.Context, p string, r io.Reader) error {
	tmp, err := afero.TempFile(c.fs, path.Dir(p), "."+path.Base(p)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		c.fs.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		c.fs.Remove(tmpName)
		return err
	}
	if err := c.fs.Rename(tmpName, p); err != nil {
		c.fs.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", tmpName, err)
	}
	return nil
}

func (c *fsConn) MakeDirAll(ctx context.Context, dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return c.fs.MkdirAll(dir, 0o755)
}

func (c *fsConn) List(ctx context.Context, dir string) ([]Entry, error) {
	if dir == "" {
		dir = "."
	}
	infos, err := afero.ReadDir(c.fs, dir)
	if err != nil {
		if isNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, err
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, Entry{Name: info.Name(), IsDir: info.IsDir()})
	}
	return entries, nil
}

func (c *fsConn) Close() error {
	return nil
}

func isNotExist(err error) bool {
	return stderrors.Is(err, fs.ErrNotExist) || os.IsNotExist(err)
}
