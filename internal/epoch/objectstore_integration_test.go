//go:build integration
// +build integration

package epoch

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestObjectStore_PutGetList(t *testing.T) {
	endpoint := strings.TrimSpace(os.Getenv("LOCKWARDEN_TEST_S3_ENDPOINT"))
	if endpoint == "" {
		t.Skip("LOCKWARDEN_TEST_S3_ENDPOINT not set")
	}
	s, err := NewObjectStore(S3Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("LOCKWARDEN_TEST_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("LOCKWARDEN_TEST_S3_SECRET_KEY"),
		Bucket:    "lockwarden-test",
	})
	if err != nil {
		t.Fatalf("new object store: %v", err)
	}
	ctx := context.Background()
	project := "it-" + mustEpoch(t, testGraph(t, "demo", "1.0.0"), Inputs{}).ID

	e := mustEpoch(t, testGraph(t, project, "1.0.0"), Inputs{})
	if err := s.Put(ctx, e); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, e); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, err := s.Get(ctx, project, e.ID)
	if err != nil || got.GraphDigest != e.GraphDigest {
		t.Fatalf("get = %+v, %v", got, err)
	}
	all, err := s.List(ctx, project)
	if err != nil || len(all) != 1 {
		t.Fatalf("list = %d, %v", len(all), err)
	}
	if _, err := s.Get(ctx, project, "00000000-0000-4000-8000-000000000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
