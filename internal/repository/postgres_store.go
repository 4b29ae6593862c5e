package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/models"
)

// submissionRow is the PostgreSQL table layout. Timestamps are kept as the
// RFC3339 strings the record carries.
type submissionRow struct {
	SubmissionID string            `gorm:"column:submission_id;primaryKey;size:128"`
	Source       string            `gorm:"column:source;size:32;not null"`
	Status       string            `gorm:"column:status;size:16;not null;index"`
	Payload      datatypes.JSONMap `gorm:"column:payload;type:jsonb;not null"`
	Revision     int               `gorm:"column:revision;not null"`
	Created      string            `gorm:"column:created_at;size:40;not null"`
	Updated      string            `gorm:"column:updated_at;size:40;not null"`
	Decided      string            `gorm:"column:decided_at;size:40;not null;default:''"`
}

func (submissionRow) TableName() string { return "submissions" }

// PostgresStore stores records in PostgreSQL through gorm.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects to dsn and migrates the submissions table.
func NewPostgresStore(ctx context.Context, dsn string, maxOpen, maxIdle int) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: get sql.DB: %w", err)
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	if err := db.WithContext(ctx).AutoMigrate(&submissionRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, sub *models.Submission) error {
	row := submissionRow{
		SubmissionID: sub.ID,
		Source:       string(sub.Source),
		Status:       string(sub.Status),
		Payload:      datatypes.JSONMap(sub.Payload),
		Revision:     sub.Revision,
		Created:      sub.CreatedAt,
		Updated:      sub.UpdatedAt,
		Decided:      sub.DecidedAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "submission_id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("postgres: upsert %s: %w", sub.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Submission, error) {
	var row submissionRow
	err := s.db.WithContext(ctx).Where("submission_id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %s: %w", id, err)
	}
	return &models.Submission{
		ID:        row.SubmissionID,
		Source:    models.Source(row.Source),
		Status:    models.Status(row.Status),
		Payload:   map[string]any(row.Payload),
		Revision:  row.Revision,
		CreatedAt: row.Created,
		UpdatedAt: row.Updated,
		DecidedAt: row.Decided,
	}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
