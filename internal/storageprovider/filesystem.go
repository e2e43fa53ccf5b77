package storageprovider

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/flarelabs/flare/internal/storageutil"
)

// Filesystem implements storageutil.ObjectHandler on a local directory. It
// is the default destination for saved reports.
type Filesystem struct {
	Dir string
}

// Put writes an object under the provider's directory, creating parent
// directories as needed.
func (f *Filesystem) Put(_ context.Context, name string) (io.WriteCloser, error) {
	path := filepath.Join(f.Dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.Create(path)
}

// Get reads an object from the provider's directory. If the name was not
// found, it returns storageutil.ErrObjectNotFound.
func (f *Filesystem) Get(_ context.Context, name string) (storageutil.ReadSizeCloser, error) {
	path := filepath.Join(f.Dir, filepath.FromSlash(name))
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storageutil.ErrObjectNotFound
		}
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &fileReader{File: file, size: info.Size()}, nil
}

type fileReader struct {
	*os.File
	size int64
}

func (r *fileReader) Size() int64 {
	return r.size
}
