package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/idempotency"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/models"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/repository"
)

const (
	testHandlerEmail = "miljoradgiver@example.no"
	testBaseURL      = "https://skjema.example.no/"
)

type fakeCases struct {
	mu       sync.Mutex
	uploads  []string
	comments []caseComment
	statuses map[string]models.CaseStatus
	fail     string
}

type caseComment struct {
	CaseID string
	Text   string
	Docs   []string
}

func (f *fakeCases) UploadDocument(_ context.Context, caseID string, doc *models.Document) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail == "upload" {
		return "", errors.New("catenda unavailable")
	}
	f.uploads = append(f.uploads, caseID+"/"+doc.FileName)
	return fmt.Sprintf("doc-%d", len(f.uploads)), nil
}

func (f *fakeCases) PostComment(_ context.Context, caseID, text string, docs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail == "comment" {
		return errors.New("comment rejected")
	}
	f.comments = append(f.comments, caseComment{CaseID: caseID, Text: text, Docs: docs})
	return nil
}

func (f *fakeCases) SetStatus(_ context.Context, caseID string, status models.CaseStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses == nil {
		f.statuses = make(map[string]models.CaseStatus)
	}
	f.statuses[caseID] = status
	return nil
}

type fakeMailer struct {
	mu     sync.Mutex
	sent   []models.Email
	failTo string
}

func (f *fakeMailer) Send(_ context.Context, msg models.Email) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTo != "" && strings.Join(msg.To, ",") == f.failTo {
		return errors.New("smtp down")
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeRenderer struct {
	calls int
	err   error
}

func (f *fakeRenderer) Render(_ context.Context, sub *models.Submission) (*models.Document, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &models.Document{FileName: "fravik-" + sub.ID + ".pdf", ContentType: "application/pdf", Data: []byte("%PDF")}, nil
}

// failingStore wraps a store and fails writes while failUpsert is set.
type failingStore struct {
	*repository.MemoryStore
	failUpsert bool
	failGet    bool
	upserts    int
}

func (s *failingStore) Upsert(ctx context.Context, sub *models.Submission) error {
	s.upserts++
	if s.failUpsert {
		return errors.New("disk full")
	}
	return s.MemoryStore.Upsert(ctx, sub)
}

func (s *failingStore) Get(ctx context.Context, id string) (*models.Submission, error) {
	if s.failGet {
		return nil, errors.New("connection reset")
	}
	return s.MemoryStore.Get(ctx, id)
}

type brokenGuard struct{}

func (brokenGuard) Claim(context.Context, string) (bool, error) { return false, errors.New("redis down") }
func (brokenGuard) Release(context.Context, string) error       { return nil }

type harness struct {
	store    *failingStore
	cases    *fakeCases
	mail     *fakeMailer
	renderer *fakeRenderer
	intake   *IntakeService
	retrieve *RetrievalService
}

var testNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newHarness(opts ...IntakeOption) *harness {
	h := &harness{
		store:    &failingStore{MemoryStore: repository.NewMemoryStore()},
		cases:    &fakeCases{},
		mail:     &fakeMailer{},
		renderer: &fakeRenderer{},
	}
	router := NewNotificationRouter(h.cases, h.mail, testHandlerEmail, testBaseURL, zap.NewNop())
	opts = append([]IntakeOption{
		WithClock(func() time.Time { return testNow }),
		WithGuard(idempotency.NewMemoryGuard(time.Hour)),
	}, opts...)
	h.intake = NewIntakeService(h.store, h.renderer, router, zap.NewNop(), opts...)
	h.retrieve = NewRetrievalService(h.store)
	return h
}
