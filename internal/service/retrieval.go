package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/models"
)

var ErrSubmissionNotFound = errors.New("submission not found")

// RetrievalService reads stored submissions for case handlers.
type RetrievalService struct {
	store Store
}

func NewRetrievalService(store Store) *RetrievalService {
	return &RetrievalService{store: store}
}

// Get returns the latest merged record for id.
func (s *RetrievalService) Get(ctx context.Context, id string) (*models.Submission, error) {
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get submission %s: %w", id, err)
	}
	if sub == nil {
		return nil, ErrSubmissionNotFound
	}
	return sub, nil
}
