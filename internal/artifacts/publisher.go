// Package artifacts publishes per-run artifact directories to object storage.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Publisher copies a local artifact directory somewhere durable.
type Publisher interface {
	Publish(ctx context.Context, dir, prefix string) error
}

// NopPublisher keeps artifacts local only.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, string) error { return nil }

// Config describes an S3-compatible endpoint.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Enabled reports whether publication was configured at all.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("artifact endpoint is required (env: ARTIFACT_S3_ENDPOINT)")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("artifact bucket is required (env: ARTIFACT_S3_BUCKET)")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return errors.New("artifact credentials are required (env: ARTIFACT_S3_ACCESS_KEY, ARTIFACT_S3_SECRET_KEY)")
	}
	return nil
}

// objectClient is the subset of *minio.Client used for publication.
type objectClient interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinIOPublisher uploads artifacts to an S3-compatible bucket.
type MinIOPublisher struct {
	client objectClient
	bucket string
	logger *slog.Logger
}

// NewMinIOPublisher connects to the endpoint and creates the bucket when missing.
func NewMinIOPublisher(ctx context.Context, cfg Config, logger *slog.Logger) (*MinIOPublisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	return newPublisher(ctx, client, cfg, logger)
}

func newPublisher(ctx context.Context, client objectClient, cfg Config, logger *slog.Logger) (*MinIOPublisher, error) {
	if err := ensureBucket(ctx, client, cfg.Bucket, cfg.Region); err != nil {
		return nil, fmt.Errorf("ensure artifact bucket: %w", err)
	}
	return &MinIOPublisher{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Publish uploads every regular file below dir to {bucket}/{prefix}/{relative path}.
func (p *MinIOPublisher) Publish(ctx context.Context, dir, prefix string) error {
	uploaded := 0
	err := filepath.WalkDir(dir, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, filePath)
		if err != nil {
			return err
		}
		key := ObjectKey(prefix, rel)

		opts := minio.PutObjectOptions{ContentType: ContentType(filePath)}
		if _, err := p.client.FPutObject(ctx, p.bucket, key, filePath, opts); err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
		uploaded++
		return nil
	})
	if err != nil {
		return err
	}

	p.logger.Info("artifacts published", "bucket", p.bucket, "prefix", prefix, "files", uploaded)
	return nil
}

// ObjectKey joins prefix and a local relative path into a slash-separated key.
func ObjectKey(prefix, rel string) string {
	return strings.TrimPrefix(path.Join(strings.Trim(prefix, "/"), filepath.ToSlash(rel)), "/")
}

var knownTypes = map[string]string{
	".zip":  "application/zip",
	".json": "application/json",
	".csv":  "text/csv",
	".log":  "text/plain",
}

// ContentType guesses a MIME type from the file extension.
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := knownTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

func ensureBucket(ctx context.Context, client objectClient, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
