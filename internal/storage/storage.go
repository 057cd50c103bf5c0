// Package storage uploads message attachments and hands back a URL the
// other participant can fetch.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

var ErrNotConfigured = errors.New("attachment storage is not configured")

type FileStore interface {
	Put(ctx context.Context, objectPath, contentType string, data []byte) (string, error)
}

// ObjectPath builds a collision-free object name under the property's folder,
// keeping the original extension so downloads open with the right app.
func ObjectPath(propertyID uint64, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("messages/%d/%s%s", propertyID, uuid.NewString(), ext)
}

type GCSStore struct {
	client *storage.Client
	bucket string
}

func NewGCSStore(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, ErrNotConfigured
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("init storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Put writes the object with a firebase download token and returns its
// tokenised download URL.
func (s *GCSStore) Put(ctx context.Context, objectPath, contentType string, data []byte) (string, error) {
	token := uuid.NewString()
	w := s.client.Bucket(s.bucket).Object(objectPath).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{
		"firebaseStorageDownloadTokens": token,
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write %s: %w", objectPath, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", objectPath, err)
	}
	return DownloadURL(s.bucket, objectPath, token), nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func DownloadURL(bucket, objectPath, token string) string {
	return fmt.Sprintf("https://firebasestorage.googleapis.com/v0/b/%s/o/%s?alt=media&token=%s",
		bucket, url.PathEscape(objectPath), token)
}

// Disabled rejects every upload; it stands in when no bucket is configured so
// text and location messages keep working.
type Disabled struct{}

func (Disabled) Put(context.Context, string, string, []byte) (string, error) {
	return "", ErrNotConfigured
}
