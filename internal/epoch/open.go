package epoch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
)

// Options selects and configures the epoch backends.
type Options struct {
	// Dir is the filesystem store root, used when DSN is empty.
	Dir string

	// DSN selects the Postgres store.
	DSN string

	// S3, when an endpoint is set, mirrors every epoch to object storage.
	S3 S3Config

	CacheSize int
	Logger    *log.Logger
}

// Open builds the configured store: Postgres or filesystem as the primary,
// optionally mirrored to object storage, behind an LRU read cache.
func Open(ctx context.Context, opts Options) (*CachedStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	var primary Store
	if dsn := strings.TrimSpace(opts.DSN); dsn != "" {
		s, err := OpenSQLStore(ctx, dsn)
		if err != nil {
			return nil, err
		}
		logger.Printf("epoch store backend=postgres")
		primary = s
	} else {
		s, err := NewFileStore(opts.Dir)
		if err != nil {
			return nil, err
		}
		logger.Printf("epoch store backend=file dir=%s", opts.Dir)
		primary = s
	}

	if strings.TrimSpace(opts.S3.Endpoint) != "" {
		archive, err := NewObjectStore(opts.S3)
		if err != nil {
			return nil, err
		}
		logger.Printf("epoch archive backend=s3 endpoint=%s bucket=%s", opts.S3.Endpoint, opts.S3.Bucket)
		primary = &MirroredStore{Primary: primary, Archive: archive, Logger: logger}
	}
	return NewCachedStore(primary, opts.CacheSize)
}

// MirroredStore writes to Primary and then Archive. Reads come from Primary
// and fall back to Archive for epochs the primary does not have.
type MirroredStore struct {
	Primary Store
	Archive Store
	Logger  *log.Logger
}

func (m *MirroredStore) Put(ctx context.Context, e Epoch) error {
	if err := m.Primary.Put(ctx, e); err != nil {
		return err
	}
	if err := m.Archive.Put(ctx, e); err != nil && !errors.Is(err, ErrExists) {
		return fmt.Errorf("archive epoch %s: %w", e.ID, err)
	}
	return nil
}

func (m *MirroredStore) Get(ctx context.Context, projectID, id string) (Epoch, error) {
	e, err := m.Primary.Get(ctx, projectID, id)
	if errors.Is(err, ErrNotFound) {
		if m.Logger != nil {
			m.Logger.Printf("epoch %s not in primary store, reading archive", id)
		}
		return m.Archive.Get(ctx, projectID, id)
	}
	return e, err
}

func (m *MirroredStore) List(ctx context.Context, projectID string) ([]Epoch, error) {
	return m.Primary.List(ctx, projectID)
}
