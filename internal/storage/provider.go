// Package storage defines the blob store that archives fetched pages.
// Implementations live in the gcs, local, and memory subpackages.
package storage

import (
	"context"
	"path"
	"strings"
)

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// PagePath builds "<prefix>/<instance>/<task id>.html" with an optional prefix.
func PagePath(prefix, instanceID, taskID string) string {
	prefix = strings.Trim(prefix, "/")
	name := taskID + ".html"
	if prefix == "" {
		return path.Join(instanceID, name)
	}
	return path.Join(prefix, instanceID, name)
}
