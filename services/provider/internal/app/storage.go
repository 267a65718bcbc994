package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"charchat/pkg/provider"
	"charchat/pkg/storage"
)

const publicObjectPath = "/storage/v1/object/public/"

// StoredObject is the result of an upload.
type StoredObject struct {
	Key string
	URL string
}

// UploadObject stores an object under bucket/path. The path must start with
// the caller's id.
func (a *App) UploadObject(ctx context.Context, user provider.User, bucket, path, contentType string, r io.Reader, size int64) (StoredObject, error) {
	if a.objects == nil {
		return StoredObject{}, ErrStorageDisabled
	}
	key, segments, err := a.objectKey(bucket, path)
	if err != nil {
		return StoredObject{}, err
	}
	if segments[0] != user.ID {
		return StoredObject{}, ErrRowLevelSecurity
	}
	if size > a.maxObjectBytes {
		return StoredObject{}, ErrObjectTooLarge
	}
	if size < 0 {
		data, err := io.ReadAll(io.LimitReader(r, a.maxObjectBytes+1))
		if err != nil {
			return StoredObject{}, fmt.Errorf("read object: %w", err)
		}
		if int64(len(data)) > a.maxObjectBytes {
			return StoredObject{}, ErrObjectTooLarge
		}
		r, size = bytes.NewReader(data), int64(len(data))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := a.objects.Put(ctx, key, r, size, contentType); err != nil {
		return StoredObject{}, fmt.Errorf("put object: %w", err)
	}
	return StoredObject{Key: key, URL: a.publicObjectURL(bucket, segments)}, nil
}

// OpenObject reads a public object.
func (a *App) OpenObject(ctx context.Context, bucket, path string) (io.ReadCloser, storage.ObjectInfo, error) {
	if a.objects == nil {
		return nil, storage.ObjectInfo{}, ErrStorageDisabled
	}
	key, _, err := a.objectKey(bucket, path)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	return a.objects.Get(ctx, key)
}

func (a *App) objectKey(bucket, path string) (string, []string, error) {
	if _, ok := a.buckets[bucket]; !ok {
		return "", nil, ErrBucketNotFound
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for _, s := range segments {
		if s == "" || s == "." || s == ".." {
			return "", nil, ErrInvalidObjectPath
		}
	}
	return bucket + "/" + strings.Join(segments, "/"), segments, nil
}

func (a *App) publicObjectURL(bucket string, segments []string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return a.publicURL + publicObjectPath + url.PathEscape(bucket) + "/" + strings.Join(escaped, "/")
}

// removeObjects deletes the objects behind public URLs this provider issued
// to user. Other URLs are left alone. Failures are logged only.
func (a *App) removeObjects(ctx context.Context, user provider.User, urls []string) {
	for _, raw := range urls {
		rest, ok := strings.CutPrefix(raw, a.publicURL+publicObjectPath)
		if !ok {
			continue
		}
		parts := strings.Split(rest, "/")
		for i, part := range parts {
			unescaped, err := url.PathUnescape(part)
			if err != nil {
				parts = nil
				break
			}
			parts[i] = unescaped
		}
		if len(parts) < 2 {
			continue
		}
		key, segments, err := a.objectKey(parts[0], strings.Join(parts[1:], "/"))
		if err != nil || segments[0] != user.ID {
			continue
		}
		if err := a.objects.Delete(ctx, key); err != nil {
			slog.Warn("failed to delete object", "key", key, "err", err)
		}
	}
}
