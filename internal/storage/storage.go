// Package storage provides object storage for rendered exports.
package storage

import (
	"context"
	"errors"
	"mime"
	"path"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage abstracts object storage operations.
// Implementations include S3 and the local filesystem.
type ObjectStorage interface {
	// Put stores body at objectPath and returns its ETag.
	Put(ctx context.Context, objectPath string, body []byte) (string, error)

	// Upload uploads a local file to objectPath.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Get returns the content of objectPath.
	Get(ctx context.Context, objectPath string) ([]byte, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// ContentType guesses the MIME type of an object from its extension.
func ContentType(objectPath string) string {
	switch path.Ext(objectPath) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	case ".svg":
		return "image/svg+xml"
	case ".sqlite", ".db":
		return "application/vnd.sqlite3"
	}
	if t := mime.TypeByExtension(path.Ext(objectPath)); t != "" {
		return t
	}
	return "application/octet-stream"
}
