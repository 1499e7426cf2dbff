package pbstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"raffle-system/internal/services/store"

	"github.com/pocketbase/pocketbase/core"
)

var ErrInvalidFileKey = errors.New("files: invalid bucket or key")

// Files keeps uploads in the PocketBase filesystem (local disk or S3,
// whatever the app settings say) under "<bucket>/<key>".
type Files struct {
	app     core.App
	baseURL string
	buckets map[string]bool
}

var _ store.FileStore = (*Files)(nil)

func NewFiles(app core.App, publicURL string, buckets ...string) *Files {
	allowed := make(map[string]bool, len(buckets))
	for _, b := range buckets {
		allowed[b] = true
	}
	return &Files{
		app:     app,
		baseURL: strings.TrimRight(publicURL, "/"),
		buckets: allowed,
	}
}

func (f *Files) Upload(_ context.Context, bucket, key string, data []byte) (string, error) {
	fileKey, err := f.fileKey(bucket, key)
	if err != nil {
		return "", err
	}

	fsys, err := f.app.NewFilesystem()
	if err != nil {
		return "", fmt.Errorf("open filesystem: %w", err)
	}
	defer fsys.Close()

	if err := fsys.Upload(data, fileKey); err != nil {
		return "", fmt.Errorf("upload %s: %w", fileKey, err)
	}
	return f.URL(bucket, key), nil
}

func (f *Files) URL(bucket, key string) string {
	return f.baseURL + "/api/v1/files/" + bucket + "/" + key
}

func (f *Files) Serve(res http.ResponseWriter, req *http.Request, bucket, key string) error {
	fileKey, err := f.fileKey(bucket, key)
	if err != nil {
		return err
	}

	fsys, err := f.app.NewFilesystem()
	if err != nil {
		return fmt.Errorf("open filesystem: %w", err)
	}
	defer fsys.Close()

	return fsys.Serve(res, req, fileKey, path.Base(key))
}

func (f *Files) fileKey(bucket, key string) (string, error) {
	if !f.buckets[bucket] || key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return "", ErrInvalidFileKey
	}
	return path.Join(bucket, key), nil
}
