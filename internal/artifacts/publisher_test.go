package artifacts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/minio/minio-go/v7"
)

type mockObjectClient struct {
	exists    bool
	existsErr error
	made      []string
	putErr    error
	puts      map[string]string // key -> content type
}

func (m *mockObjectClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return m.exists, m.existsErr
}

func (m *mockObjectClient) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	m.made = append(m.made, bucket)
	return nil
}

func (m *mockObjectClient) FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if m.putErr != nil {
		return minio.UploadInfo{}, m.putErr
	}
	if m.puts == nil {
		m.puts = make(map[string]string)
	}
	m.puts[object] = opts.ContentType
	return minio.UploadInfo{Bucket: bucket, Key: object}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"complete", Config{Endpoint: "localhost:9000", Bucket: "runs", AccessKey: "a", SecretKey: "s"}, false},
		{"missing endpoint", Config{Bucket: "runs", AccessKey: "a", SecretKey: "s"}, true},
		{"missing bucket", Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s"}, true},
		{"missing credentials", Config{Endpoint: "localhost:9000", Bucket: "runs"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewPublisher_CreatesMissingBucket(t *testing.T) {
	client := &mockObjectClient{exists: false}

	_, err := newPublisher(context.Background(), client, Config{Bucket: "runs"}, discardLogger())
	if err != nil {
		t.Fatalf("newPublisher failed: %v", err)
	}
	if len(client.made) != 1 || client.made[0] != "runs" {
		t.Errorf("expected bucket runs to be created, got %v", client.made)
	}
}

func TestNewPublisher_ExistingBucket(t *testing.T) {
	client := &mockObjectClient{exists: true}

	if _, err := newPublisher(context.Background(), client, Config{Bucket: "runs"}, discardLogger()); err != nil {
		t.Fatalf("newPublisher failed: %v", err)
	}
	if len(client.made) != 0 {
		t.Errorf("expected no bucket creation, got %v", client.made)
	}
}

func TestNewPublisher_BucketCheckFails(t *testing.T) {
	client := &mockObjectClient{existsErr: errors.New("unreachable")}

	if _, err := newPublisher(context.Background(), client, Config{Bucket: "runs"}, discardLogger()); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestPublish_UploadsEveryFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "run_metadata.json"))
	writeFile(t, filepath.Join(dir, "repo_42.zip"))
	writeFile(t, filepath.Join(dir, "energy_01-01-2026_10-00-00", "cpu_total.csv"))

	client := &mockObjectClient{exists: true}
	p, err := newPublisher(context.Background(), client, Config{Bucket: "runs"}, discardLogger())
	if err != nil {
		t.Fatalf("newPublisher failed: %v", err)
	}

	if err := p.Publish(context.Background(), dir, "2026-01-01_10-00-00/repo_ci_1"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	want := map[string]string{
		"2026-01-01_10-00-00/repo_ci_1/run_metadata.json":                         "application/json",
		"2026-01-01_10-00-00/repo_ci_1/repo_42.zip":                               "application/zip",
		"2026-01-01_10-00-00/repo_ci_1/energy_01-01-2026_10-00-00/cpu_total.csv": "text/csv",
	}
	if len(client.puts) != len(want) {
		keys := make([]string, 0, len(client.puts))
		for k := range client.puts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		t.Fatalf("expected %d uploads, got %v", len(want), keys)
	}
	for key, ct := range want {
		got, ok := client.puts[key]
		if !ok {
			t.Errorf("missing upload %s", key)
			continue
		}
		if got != ct {
			t.Errorf("%s: expected content type %s, got %s", key, ct, got)
		}
	}
}

func TestPublish_UploadError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "run_metadata.json"))

	client := &mockObjectClient{exists: true, putErr: errors.New("denied")}
	p, _ := newPublisher(context.Background(), client, Config{Bucket: "runs"}, discardLogger())

	if err := p.Publish(context.Background(), dir, "x"); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix, rel, want string
	}{
		{"batch/item", "a.zip", "batch/item/a.zip"},
		{"/batch/item/", "sub/a.csv", "batch/item/sub/a.csv"},
		{"", "a.zip", "a.zip"},
	}
	for _, tt := range tests {
		if got := ObjectKey(tt.prefix, tt.rel); got != tt.want {
			t.Errorf("ObjectKey(%q, %q) = %q, want %q", tt.prefix, tt.rel, got, tt.want)
		}
	}
}

func TestContentType_Fallback(t *testing.T) {
	if got := ContentType("blob.unknownext"); got != "application/octet-stream" {
		t.Errorf("expected octet-stream fallback, got %s", got)
	}
}
