package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/kiranshivaraju/picflow/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const S3BackendName = "s3"

// S3Backend stores files in an S3-compatible bucket. Its tokens are object keys.
type S3Backend struct {
	client    *minio.Client
	bucket    string
	region    string
	urlExpiry time.Duration
}

// NewS3Backend creates a minio client for the configured endpoint.
func NewS3Backend(cfg config.S3Config) (*S3Backend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &S3Backend{
		client:    client,
		bucket:    cfg.Bucket,
		region:    cfg.Region,
		urlExpiry: cfg.URLExpiry,
	}, nil
}

func (b *S3Backend) Name() string { return S3BackendName }

// EnsureBucket creates the bucket if it does not exist yet.
func (b *S3Backend) EnsureBucket(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", b.bucket, err)
	}
	if exists {
		return nil
	}
	if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{Region: b.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", b.bucket, err)
	}
	return nil
}

func (b *S3Backend) Save(ctx context.Context, r io.Reader, filename, contentType string) (string, error) {
	key := objectName(filename)
	_, err := b.client.PutObject(ctx, b.bucket, key, r, -1, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return key, nil
}

func (b *S3Backend) Delete(ctx context.Context, token string) error {
	if err := b.client.RemoveObject(ctx, b.bucket, token, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", token, err)
	}
	return nil
}

func (b *S3Backend) URL(ctx context.Context, token string) (string, error) {
	u, err := b.client.PresignedGetObject(ctx, b.bucket, token, b.urlExpiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign object %s: %w", token, err)
	}
	return u.String(), nil
}

func (b *S3Backend) Download(ctx context.Context, token string) (string, error) {
	tmp, err := os.CreateTemp("", "picflow-*"+path.Ext(token))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	tmp.Close()

	if err := b.client.FGetObject(ctx, b.bucket, token, name, minio.GetObjectOptions{}); err != nil {
		os.Remove(name)
		if isNoSuchKey(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, token)
		}
		return "", fmt.Errorf("download object %s: %w", token, err)
	}
	return name, nil
}

func (b *S3Backend) Exists(ctx context.Context, token string) (bool, error) {
	_, err := b.client.StatObject(ctx, b.bucket, token, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", token, err)
	}
	return true, nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return true
	}
	return errors.Is(err, ErrNotFound)
}
