// Package s3 implements an artifact store on S3-compatible object storage
// (AWS S3, MinIO, GCS interoperability endpoints).
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/seantiz/factory-scheduler/internal/artifact"
)

// Scheme is the URI scheme served by Store.
const Scheme = "s3"

// noSuchKey and noSuchBucket are the S3 error codes for missing objects.
const (
	noSuchKey    = "NoSuchKey"
	noSuchBucket = "NoSuchBucket"
)

// Config holds connection settings for the object store.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Compile-time interface satisfaction check.
var (
	_ artifact.Store   = (*Store)(nil)
	_ artifact.Locator = (*Store)(nil)
)

// Store reads and writes artifacts through the MinIO client.
type Store struct {
	client *minio.Client
	region string
}

// New connects to the object store described by cfg.
func New(cfg Config) (*Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &Store{client: client, region: cfg.Region}, nil
}

func (s *Store) Scheme() string { return Scheme }

// Locate returns the object URL of path on the configured endpoint.
func (s *Store) Locate(path string) (string, error) {
	p, err := artifact.Resolve(path, Scheme)
	if err != nil {
		return "", err
	}
	u := *s.client.EndpointURL()
	u.Path = "/" + p.Bucket + "/" + p.Key
	return u.String(), nil
}

// EnsureBucket creates bucket if it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", bucket, err)
	}
	return nil
}

func (s *Store) Upload(ctx context.Context, path string, data []byte, overwrite bool) error {
	p, err := artifact.Resolve(path, Scheme)
	if err != nil {
		return err
	}
	if !overwrite {
		exists, err := s.stat(ctx, p)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", artifact.ErrExists, p)
		}
	}
	_, err = s.client.PutObject(ctx, p.Bucket, p.Key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType(p.Key)})
	if err != nil {
		return fmt.Errorf("put %s: %w", p, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	p, err := artifact.Resolve(path, Scheme)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, p.Bucket, p.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.translate(p, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.translate(p, err)
	}
	return data, nil
}

func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	p, err := artifact.Resolve(path, Scheme)
	if err != nil {
		return false, err
	}
	return s.stat(ctx, p)
}

func (s *Store) Delete(ctx context.Context, path string) error {
	p, err := artifact.Resolve(path, Scheme)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, p.Bucket, p.Key, minio.RemoveObjectOptions{}); err != nil {
		return s.translate(p, err)
	}
	return nil
}

func (s *Store) stat(ctx context.Context, p artifact.Path) (bool, error) {
	_, err := s.client.StatObject(ctx, p.Bucket, p.Key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", p, err)
}

func (s *Store) translate(p artifact.Path, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", artifact.ErrNotFound, p)
	}
	return fmt.Errorf("%s: %w", p, err)
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == noSuchKey || code == noSuchBucket
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".csv"):
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
