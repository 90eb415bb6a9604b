package supabase

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Storage returns the object storage client.
func (c *Client) Storage() *StorageClient {
	return &StorageClient{client: c}
}

// StorageClient wraps /storage/v1.
type StorageClient struct {
	client *Client
}

// From selects a bucket.
func (s *StorageClient) From(bucket string) *BucketClient {
	return &BucketClient{client: s.client, bucket: bucket}
}

// BucketClient operates on one bucket.
type BucketClient struct {
	client *Client
	bucket string
}

func (b *BucketClient) objectURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", b.client.baseURL, b.bucket, strings.TrimPrefix(path, "/"))
}

// Upload stores data at path. upsert replaces an existing object.
func (b *BucketClient) Upload(ctx context.Context, path string, data []byte, contentType string, upsert bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.objectURL(path), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	b.client.setHeaders(req)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Cache-Control", "max-age=3600")
	if upsert {
		req.Header.Set("x-upsert", "true")
	}
	_, err = b.client.do(req)
	return err
}

// Download fetches the object at path.
func (b *BucketClient) Download(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.objectURL(path), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	b.client.setHeaders(req)
	resp, err := b.client.do(req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Delete removes objects.
func (b *BucketClient) Delete(ctx context.Context, paths []string) error {
	req, err := b.client.newRequest(ctx, http.MethodDelete,
		fmt.Sprintf("%s/storage/v1/object/%s", b.client.baseURL, b.bucket),
		map[string][]string{"prefixes": paths})
	if err != nil {
		return err
	}
	_, err = b.client.do(req)
	return err
}

// GetPublicURL returns the public URL for path in a public bucket.
func (b *BucketClient) GetPublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", b.client.baseURL, b.bucket, strings.TrimPrefix(path, "/"))
}
