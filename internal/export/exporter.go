package export

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/spanlens/spanlens/internal/engine"
	"github.com/spanlens/spanlens/internal/errors"
	"github.com/spanlens/spanlens/internal/storage"
)

// ExportPrefix is the object storage prefix for all exports.
const ExportPrefix = "exports"

// Artifact describes one uploaded export.
type Artifact struct {
	Format     Format `json:"format"`
	ObjectPath string `json:"object_path"`
	SizeBytes  int64  `json:"size_bytes"`
	ETag       string `json:"etag,omitempty"`
}

// Exporter renders snapshots and uploads them to object storage.
type Exporter struct {
	store storage.ObjectStorage
	opts  Options
}

// NewExporter creates an exporter writing to store.
func NewExporter(store storage.ObjectStorage, opts Options) *Exporter {
	return &Exporter{store: store, opts: opts}
}

// ObjectPath returns the object path of an export of datasetID in format f.
func ObjectPath(datasetID string, f Format) string {
	if datasetID == "" {
		datasetID = "empty"
	}
	return path.Join(ExportPrefix, datasetID, f.FileName())
}

// Export renders snap in every requested format concurrently and uploads the
// results. Artifacts are returned in the order of formats. The first failure
// cancels the remaining renders.
func (x *Exporter) Export(ctx context.Context, snap *engine.Snapshot, formats []Format) ([]Artifact, error) {
	if len(formats) == 0 {
		formats = Formats
	}
	artifacts := make([]Artifact, len(formats))

	g, gctx := errgroup.WithContext(ctx)
	for i, f := range formats {
		i, f := i, f
		g.Go(func() error {
			var (
				a   Artifact
				err error
			)
			if f == FormatSQLite {
				a, err = x.uploadArchive(gctx, snap)
			} else {
				a, err = x.put(gctx, snap, f)
			}
			if err != nil {
				return err
			}
			artifacts[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Printf("Exported dataset %s in %d formats", snap.DatasetID, len(formats))
	return artifacts, nil
}

// List returns the object paths of every stored export of datasetID.
func (x *Exporter) List(ctx context.Context, datasetID string) ([]string, error) {
	objects, err := x.store.ListObjects(ctx, path.Join(ExportPrefix, datasetID))
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeDownloadFailed, "failed to list exports", err)
	}
	return objects, nil
}

// Fetch returns a stored export.
func (x *Exporter) Fetch(ctx context.Context, datasetID string, f Format) ([]byte, error) {
	data, err := x.store.Get(ctx, ObjectPath(datasetID, f))
	if err != nil {
		if stderrors.Is(err, storage.ErrObjectNotFound) {
			return nil, errors.NewStorageError(errors.CodeObjectNotFound,
				fmt.Sprintf("no %s export for dataset %s", f, datasetID), err)
		}
		return nil, errors.NewStorageError(errors.CodeDownloadFailed, "failed to fetch export", err)
	}
	return data, nil
}

// Remove deletes the stored exports of datasetID in the given formats, or in
// every format when none are given, and returns the removed object paths.
// It fails with OBJECT_NOT_FOUND when none of them were stored.
func (x *Exporter) Remove(ctx context.Context, datasetID string, formats []Format) ([]string, error) {
	if len(formats) == 0 {
		formats = Formats
	}
	removed := make([]string, 0, len(formats))
	for _, f := range formats {
		objectPath := ObjectPath(datasetID, f)
		ok, err := x.store.Exists(ctx, objectPath)
		if err != nil {
			return removed, errors.NewStorageError(errors.CodeDownloadFailed,
				fmt.Sprintf("failed to check %s", objectPath), err)
		}
		if !ok {
			continue
		}
		if err := x.store.Delete(ctx, objectPath); err != nil {
			return removed, errors.NewStorageError(errors.CodeDeleteFailed,
				fmt.Sprintf("failed to delete %s", objectPath), err)
		}
		removed = append(removed, objectPath)
	}
	if len(removed) == 0 {
		return nil, errors.NewStorageError(errors.CodeObjectNotFound,
			fmt.Sprintf("no stored exports for dataset %s", datasetID), storage.ErrObjectNotFound)
	}
	log.Printf("Removed %d exports of dataset %s", len(removed), datasetID)
	return removed, nil
}

func (x *Exporter) put(ctx context.Context, snap *engine.Snapshot, f Format) (Artifact, error) {
	var buf bytes.Buffer
	if err := Render(ctx, &buf, snap, f, x.opts); err != nil {
		return Artifact{}, err
	}

	objectPath := ObjectPath(snap.DatasetID, f)
	etag, err := x.store.Put(ctx, objectPath, buf.Bytes())
	if err != nil {
		return Artifact{}, errors.NewStorageError(errors.CodeUploadFailed,
			fmt.Sprintf("failed to upload %s", objectPath), err)
	}
	return Artifact{Format: f, ObjectPath: objectPath, SizeBytes: int64(buf.Len()), ETag: etag}, nil
}

// uploadArchive builds the archive on disk and uploads the file directly.
func (x *Exporter) uploadArchive(ctx context.Context, snap *engine.Snapshot) (Artifact, error) {
	dir, err := os.MkdirTemp(x.opts.TempDir, "spanlens-archive-*")
	if err != nil {
		return Artifact{}, errors.NewExportError(errors.CodeRenderFailed, "failed to create scratch directory", err)
	}
	defer os.RemoveAll(dir)

	info, err := BuildArchive(ctx, filepath.Join(dir, FormatSQLite.FileName()), snap)
	if err != nil {
		return Artifact{}, err
	}

	objectPath := ObjectPath(snap.DatasetID, FormatSQLite)
	if err := x.store.Upload(ctx, info.Path, objectPath); err != nil {
		return Artifact{}, errors.NewStorageError(errors.CodeUploadFailed,
			fmt.Sprintf("failed to upload %s", objectPath), err)
	}
	return Artifact{Format: FormatSQLite, ObjectPath: objectPath, SizeBytes: info.SizeBytes}, nil
}
