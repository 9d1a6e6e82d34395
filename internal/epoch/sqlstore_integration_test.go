//go:build integration
// +build integration

package epoch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("LOCKWARDEN_TEST_DSN"))
	if dsn == "" {
		t.Skip("LOCKWARDEN_TEST_DSN not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Exec("DROP TABLE IF EXISTS lockwarden_epochs").Error; err != nil {
		t.Fatalf("reset db: %v", err)
	}
	return db
}

func TestSQLStore_PutGetList(t *testing.T) {
	ctx := context.Background()
	s := NewSQLStore(setupTestDB(t))
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	e := mustEpoch(t, testGraph(t, "demo", "1.0.0"), Inputs{ConfigDigest: "cfg"})
	if err := s.Put(ctx, e); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, e); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	got, err := s.Get(ctx, "demo", e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.GraphDigest != e.GraphDigest || got.ConfigDigest != "cfg" {
		t.Fatalf("unexpected epoch: %+v", got)
	}
	if !bytes.Equal(got.Snapshot, e.Snapshot) {
		t.Fatalf("snapshot bytes were rewritten by the database")
	}

	all, err := s.List(ctx, "demo")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 || all[0].ID != e.ID {
		t.Fatalf("unexpected list: %d", len(all))
	}
	if _, err := s.Get(ctx, "other", e.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
