package storageprovider

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"

	"github.com/flarelabs/flare/internal/storageutil"
)

// Gcs implements storageutil.ObjectHandler on a Google Cloud Storage bucket,
// for hosted deployments archiving saved reports.
type Gcs struct {
	BucketHandle *storage.BucketHandle
}

// Put writes an object to the bucket with name being the path.
func (g *Gcs) Put(ctx context.Context, name string) (io.WriteCloser, error) {
	return g.BucketHandle.Object(name).NewWriter(ctx), nil
}

// Get reads an object from the bucket with name being the path. If the name
// was not found, it returns storageutil.ErrObjectNotFound.
func (g *Gcs) Get(ctx context.Context, name string) (storageutil.ReadSizeCloser, error) {
	rc, err := g.BucketHandle.Object(name).NewReader(ctx)
	if err != nil && errors.Is(err, storage.ErrObjectNotExist) {
		return nil, storageutil.ErrObjectNotFound
	}
	return rc, err
}
