package epoch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EpochModel struct {
	ID             string    `gorm:"type:uuid;primaryKey"`
	ProjectID      string    `gorm:"index;not null"`
	CreatedAt      time.Time `gorm:"index;not null"`
	LockfileDigest string    `gorm:"not null"`
	VendorDigest   string
	ConfigDigest   string
	GraphDigest    string  `gorm:"index;not null"`
	PreviousID     *string `gorm:"type:uuid"`
	Snapshot       []byte  `gorm:"type:bytea;not null"`
}

func (EpochModel) TableName() string {
	return "lockwarden_epochs"
}

func toModel(e Epoch) EpochModel {
	return EpochModel{
		ID:             e.ID,
		ProjectID:      e.ProjectID,
		CreatedAt:      e.CreatedAt,
		LockfileDigest: e.LockfileDigest,
		VendorDigest:   e.VendorDigest,
		ConfigDigest:   e.ConfigDigest,
		GraphDigest:    e.GraphDigest,
		PreviousID:     e.PreviousID,
		Snapshot:       append([]byte(nil), e.Snapshot...),
	}
}

func fromModel(m EpochModel) (Epoch, error) {
	e := Epoch{
		ID:             m.ID,
		ProjectID:      m.ProjectID,
		CreatedAt:      m.CreatedAt.UTC(),
		LockfileDigest: m.LockfileDigest,
		VendorDigest:   m.VendorDigest,
		ConfigDigest:   m.ConfigDigest,
		GraphDigest:    m.GraphDigest,
		PreviousID:     m.PreviousID,
		Snapshot:       m.Snapshot,
	}
	if err := e.Validate(); err != nil {
		return Epoch{}, fmt.Errorf("invalid epoch %s in database: %w", m.ID, err)
	}
	return e, nil
}

// SQLStore keeps epochs in Postgres. Rows are inserted once and never
// updated.
type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

// OpenSQLStore connects to dsn and creates the epoch table if needed.
func OpenSQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := NewSQLStore(gdb)
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&EpochModel{}); err != nil {
		return fmt.Errorf("migrate epochs: %w", err)
	}
	return nil
}

func (s *SQLStore) Put(ctx context.Context, e Epoch) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid epoch: %w", err)
	}
	model := toModel(e)
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrExists, e.ID)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, projectID, id string) (Epoch, error) {
	var model EpochModel
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND id = ?", projectID, id).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Epoch{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Epoch{}, err
	}
	return fromModel(model)
}

func (s *SQLStore) List(ctx context.Context, projectID string) ([]Epoch, error) {
	var models []EpochModel
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]Epoch, 0, len(models))
	for _, m := range models {
		e, err := fromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	sortEpochs(out)
	return out, nil
}
