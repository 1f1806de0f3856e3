package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds S3/MinIO client configuration.
type Config struct {
	Endpoint        string // "localhost:9000" for MinIO
	Bucket          string // "doclens"
	Prefix          string // optional key prefix, e.g. "prod"
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// Client stores JSON objects and exported files in an S3-compatible bucket.
type Client struct {
	minioClient *minio.Client
	bucket      string
	prefix      string
}

// New creates a new S3/MinIO client.
func New(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	minioClient, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Client{
		minioClient: minioClient,
		bucket:      config.Bucket,
		prefix:      strings.Trim(config.Prefix, "/"),
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.minioClient.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}

	err = c.minioClient.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
	if err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func (c *Client) objectName(collection, key string) string {
	return path.Join(c.prefix, collection, key+".json")
}

func (c *Client) collectionPrefix(collection string) string {
	return path.Join(c.prefix, collection) + "/"
}

// Put writes v as JSON under collection/key.
func (c *Client) Put(ctx context.Context, collection, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", collection, key, err)
	}
	return c.PutObject(ctx, c.objectName(collection, key), data, "application/json")
}

// Get reads collection/key into v. Missing objects return ErrNotFound.
func (c *Client) Get(ctx context.Context, collection, key string, v any) error {
	data, err := c.GetObject(ctx, c.objectName(collection, key))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s/%s: %w", collection, key, err)
	}
	return nil
}

// Delete removes collection/key. Removing a missing key is not an error.
func (c *Client) Delete(ctx context.Context, collection, key string) error {
	err := c.minioClient.RemoveObject(ctx, c.bucket, c.objectName(collection, key), minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, key, err)
	}
	return nil
}

// Keys lists the keys stored in a collection.
func (c *Client) Keys(ctx context.Context, collection string) ([]string, error) {
	var keys []string
	objectCh := c.minioClient.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    c.collectionPrefix(collection),
		Recursive: true,
	})

	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", object.Err)
		}
		if strings.HasSuffix(object.Key, ".json") {
			keys = append(keys, strings.TrimSuffix(path.Base(object.Key), ".json"))
		}
	}
	return keys, nil
}

// DeleteAll removes every object in a collection.
func (c *Client) DeleteAll(ctx context.Context, collection string) error {
	objectCh := c.minioClient.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    c.collectionPrefix(collection),
		Recursive: true,
	})
	for result := range c.minioClient.RemoveObjects(ctx, c.bucket, objectCh, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			return fmt.Errorf("failed to delete %s: %w", result.ObjectName, result.Err)
		}
	}
	return nil
}

// PutObject uploads raw bytes, e.g. an exported workbook.
func (c *Client) PutObject(ctx context.Context, name string, data []byte, contentType string) error {
	_, err := c.minioClient.PutObject(ctx, c.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", name, err)
	}
	return nil
}

// GetObject downloads raw bytes. Missing objects return ErrNotFound.
func (c *Client) GetObject(ctx context.Context, name string) ([]byte, error) {
	object, err := c.minioClient.GetObject(ctx, c.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", name, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
