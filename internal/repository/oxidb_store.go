package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/db"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/models"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/oxidb"
)

const SubmissionsCollection = "fravik_submissions"

// OxiDBStore stores records as documents in an OxiDB collection.
type OxiDBStore struct {
	pool *db.Pool
}

// NewOxiDBStore connects a pool to host:port and ensures the unique
// submissionId index.
func NewOxiDBStore(ctx context.Context, host string, port, poolSize int, logger *zap.Logger) (*OxiDBStore, error) {
	pool, err := db.NewPool(ctx, host, port, poolSize, 10*time.Second, logger)
	if err != nil {
		return nil, err
	}
	s := &OxiDBStore{pool: pool}
	if err := s.EnsureIndexes(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *OxiDBStore) EnsureIndexes(ctx context.Context) error {
	err := s.pool.Get().CreateUniqueIndex(ctx, SubmissionsCollection, "submissionId")
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "exist") {
		return fmt.Errorf("oxidb: create index: %w", err)
	}
	return nil
}

func (s *OxiDBStore) Upsert(ctx context.Context, sub *models.Submission) error {
	doc, err := submissionToDoc(sub)
	if err != nil {
		return err
	}
	c := s.pool.Get()
	query := map[string]any{"submissionId": sub.ID}

	existing, err := c.FindOne(ctx, SubmissionsCollection, query)
	if err != nil {
		return fmt.Errorf("oxidb: find %s: %w", sub.ID, err)
	}
	if existing == nil {
		_, err = c.Insert(ctx, SubmissionsCollection, doc)
		var dup *oxidb.DuplicateKeyError
		if !errors.As(err, &dup) {
			if err != nil {
				return fmt.Errorf("oxidb: insert %s: %w", sub.ID, err)
			}
			return nil
		}
		// lost an insert race; fall through to update
	}
	if _, err := c.UpdateOne(ctx, SubmissionsCollection, query, map[string]any{"$set": doc}); err != nil {
		return fmt.Errorf("oxidb: update %s: %w", sub.ID, err)
	}
	return nil
}

func (s *OxiDBStore) Get(ctx context.Context, id string) (*models.Submission, error) {
	doc, err := s.pool.Get().FindOne(ctx, SubmissionsCollection, map[string]any{"submissionId": id})
	if err != nil {
		return nil, fmt.Errorf("oxidb: get %s: %w", id, err)
	}
	if doc == nil {
		return nil, nil
	}
	return docToSubmission(doc)
}

func (s *OxiDBStore) Ping(ctx context.Context) error {
	_, err := s.pool.Get().Ping(ctx)
	return err
}

func (s *OxiDBStore) Close() error {
	s.pool.Close()
	return nil
}
