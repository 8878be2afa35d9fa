//go:build integration

package s3_test

import (
	"context"
	"errors"
	"testing"

	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"

	"github.com/xraph/mediaflow/artifact"
	"github.com/xraph/mediaflow/artifact/s3"
)

// setupStore starts a MinIO container and returns a Store with its bucket
// created.
func setupStore(t *testing.T) *s3.Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcminio.Run(ctx, "minio/minio:RELEASE.2024-01-16T16-07-38Z")
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	endpoint, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	s, err := s3.New(ctx, s3.Config{
		Endpoint:  endpoint,
		AccessKey: container.Username,
		SecretKey: container.Password,
		Bucket:    "mediaflow-test",
		Prefix:    "artifacts",
	})
	if err != nil {
		t.Fatalf("s3.New: %v", err)
	}
	if err := s.EnsureBucket(ctx); err != nil {
		t.Fatalf("EnsureBucket: %v", err)
	}
	// A second call finds the bucket.
	if err := s.EnsureBucket(ctx); err != nil {
		t.Fatalf("EnsureBucket again: %v", err)
	}
	return s
}

func TestStore_PutGet(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if err := artifact.PutBytes(ctx, s, "videos/talk.mp4", []byte("frames"), "video/mp4"); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	got, err := artifact.ReadAll(ctx, s, "videos/talk.mp4")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "frames" {
		t.Fatalf("got %q", got)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := setupStore(t)

	_, err := s.Get(context.Background(), "videos/missing.mp4")
	if !errors.Is(err, artifact.ErrNotFound) {
		t.Fatalf("Get err = %v, want ErrNotFound", err)
	}
}
