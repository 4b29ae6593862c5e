package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/metrics"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/models"
)

// Store persists submission records. Get returns (nil, nil) when absent.
type Store interface {
	Upsert(ctx context.Context, sub *models.Submission) error
	Get(ctx context.Context, id string) (*models.Submission, error)
}

// Renderer produces the summary document for a record.
type Renderer interface {
	Render(ctx context.Context, sub *models.Submission) (*models.Document, error)
}

// DuplicateGuard remembers accepted idempotency keys.
type DuplicateGuard interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Dispatcher delivers one notification.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// Stage names the intake step a failure happened in.
type Stage string

const (
	StageValidation   Stage = "validation"
	StageConflict     Stage = "conflict"
	StageDuplicate    Stage = "duplicate"
	StagePersistence  Stage = "persistence"
	StageRender       Stage = "render"
	StageNotification Stage = "notification"
)

var (
	ErrSourceConflict      = errors.New("submission source cannot change")
	ErrDuplicateSubmission = errors.New("submission with this idempotency key was already received")
)

// IntakeError reports which stage of an intake failed. Failures from the
// render stage on leave the record persisted.
type IntakeError struct {
	Stage        Stage
	SubmissionID string
	Err          error
}

func (e *IntakeError) Error() string {
	if e.SubmissionID == "" {
		return fmt.Sprintf("intake %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("intake %s for %s: %v", e.Stage, e.SubmissionID, e.Err)
}

func (e *IntakeError) Unwrap() error { return e.Err }

// Receipt acknowledges an accepted intake.
type Receipt struct {
	SubmissionID   string        `json:"submissionId"`
	Status         models.Status `json:"status"`
	Kind           models.Kind   `json:"kind"`
	Channel        string        `json:"channel"`
	IdempotencyKey string        `json:"idempotencyKey,omitempty"`
	SubmittedBy    string        `json:"submittedBy,omitempty"`
	SubmittedAt    string        `json:"submittedAt"`
	Created        bool          `json:"created"`
}

// IntakeService accepts submissions: validate, persist, render, notify.
type IntakeService struct {
	store    Store
	renderer Renderer
	notify   Dispatcher
	guard    DuplicateGuard
	logger   *zap.Logger
	now      func() time.Time
}

type IntakeOption func(*IntakeService)

// WithGuard enables duplicate detection on idempotency keys.
func WithGuard(g DuplicateGuard) IntakeOption {
	return func(s *IntakeService) { s.guard = g }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) IntakeOption {
	return func(s *IntakeService) { s.now = now }
}

func NewIntakeService(store Store, renderer Renderer, notify Dispatcher, logger *zap.Logger, opts ...IntakeOption) *IntakeService {
	s := &IntakeService{
		store:    store,
		renderer: renderer,
		notify:   notify,
		logger:   logger.Named("intake"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit runs one intake of raw (the client JSON payload) with the
// uploaded files.
func (s *IntakeService) Submit(ctx context.Context, raw []byte, files []models.Document) (*Receipt, error) {
	app, payload, err := models.ParseApplication(raw)
	if err != nil {
		metrics.IntakeTotal.WithLabelValues("unknown", "unknown", "rejected").Inc()
		return nil, &IntakeError{Stage: StageValidation, Err: err}
	}
	id := app.Meta.SubmissionID
	kind := app.Kind()
	log := s.logger.With(
		zap.String("intake_id", uuid.NewString()),
		zap.String("submission_id", id),
		zap.String("kind", string(kind)),
	)

	receipt, err := s.submit(ctx, log, app, payload, files)
	channel := Channel(app.Route())
	if err != nil {
		var ie *IntakeError
		outcome := "error"
		if errors.As(err, &ie) {
			outcome = string(ie.Stage) + "_failed"
		}
		metrics.IntakeTotal.WithLabelValues(string(kind), channel, outcome).Inc()
		return nil, err
	}
	metrics.IntakeTotal.WithLabelValues(string(kind), channel, "accepted").Inc()
	return receipt, nil
}

func (s *IntakeService) submit(ctx context.Context, log *zap.Logger, app *models.Application, payload map[string]any, files []models.Document) (*Receipt, error) {
	id := app.Meta.SubmissionID
	fail := func(stage Stage, err error) error {
		log.Warn("intake failed", zap.String("stage", string(stage)), zap.Error(err))
		return &IntakeError{Stage: stage, SubmissionID: id, Err: err}
	}

	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fail(StagePersistence, err)
	}
	if existing != nil && existing.Source != app.Meta.Source {
		return nil, fail(StageConflict, fmt.Errorf("%w: stored %q, got %q", ErrSourceConflict, existing.Source, app.Meta.Source))
	}

	claimKey, held := "", false
	if s.guard != nil && app.IdempotencyKey != "" {
		claimKey = id + ":" + string(app.Kind()) + ":" + app.IdempotencyKey
		claimed, err := s.guard.Claim(ctx, claimKey)
		switch {
		case err != nil:
			log.Warn("duplicate guard unavailable, continuing", zap.Error(err))
		case !claimed:
			return nil, fail(StageDuplicate, ErrDuplicateSubmission)
		default:
			held = true
		}
	}

	sub := models.Revise(existing, app, payload, s.now())
	// the key belongs to one request; a form reloaded from the record must
	// not resend it with the next revision
	delete(sub.Payload, "idempotencyKey")
	start := time.Now()
	err = s.store.Upsert(ctx, sub)
	observe(StagePersistence, start)
	if err != nil {
		if held {
			// let the client retry with the same key
			if rerr := s.guard.Release(context.WithoutCancel(ctx), claimKey); rerr != nil {
				log.Warn("release idempotency key", zap.Error(rerr))
			}
		}
		return nil, fail(StagePersistence, err)
	}
	log.Info("submission stored", zap.Int("revision", sub.Revision), zap.String("status", string(sub.Status)))

	merged, err := sub.Application()
	if err != nil {
		return nil, fail(StageRender, err)
	}
	if err := s.renderAndDispatch(ctx, log, sub, merged, app.Kind(), app.Decision(), files); err != nil {
		return nil, err
	}

	return &Receipt{
		SubmissionID:   id,
		Status:         sub.Status,
		Kind:           app.Kind(),
		Channel:        Channel(merged.Route()),
		IdempotencyKey: app.IdempotencyKey,
		SubmittedBy:    merged.ApplicantEmail(),
		SubmittedAt:    sub.UpdatedAt,
		Created:        existing == nil,
	}, nil
}

func (s *IntakeService) renderAndDispatch(ctx context.Context, log *zap.Logger, sub *models.Submission, merged *models.Application, kind models.Kind, decision string, files []models.Document) error {
	start := time.Now()
	doc, err := s.renderer.Render(ctx, sub)
	observe(StageRender, start)
	if err != nil {
		log.Error("render failed, notification skipped", zap.Error(err))
		return &IntakeError{Stage: StageRender, SubmissionID: sub.ID, Err: err}
	}

	start = time.Now()
	err = s.notify.Dispatch(ctx, Notification{
		SubmissionID: sub.ID,
		App:          merged,
		Kind:         kind,
		Decision:     decision,
		Document:     doc,
		Files:        files,
	})
	observe(StageNotification, start)
	if err != nil {
		log.Error("notification failed", zap.String("channel", Channel(merged.Route())), zap.Error(err))
		return &IntakeError{Stage: StageNotification, SubmissionID: sub.ID, Err: err}
	}
	log.Info("submission delivered", zap.String("channel", Channel(merged.Route())))
	return nil
}

// Reprocess renders a stored record again and re-runs its notification,
// without the original uploads.
func (s *IntakeService) Reprocess(ctx context.Context, id string) (*Receipt, error) {
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, &IntakeError{Stage: StagePersistence, SubmissionID: id, Err: err}
	}
	if sub == nil {
		return nil, fmt.Errorf("reprocess %s: %w", id, ErrSubmissionNotFound)
	}
	app, err := sub.Application()
	if err != nil {
		return nil, &IntakeError{Stage: StageRender, SubmissionID: id, Err: err}
	}
	log := s.logger.With(
		zap.String("intake_id", uuid.NewString()),
		zap.String("submission_id", id),
		zap.Bool("reprocess", true),
	)
	if err := s.renderAndDispatch(ctx, log, sub, app, app.Kind(), app.Decision(), nil); err != nil {
		return nil, err
	}
	return &Receipt{
		SubmissionID: id,
		Status:       sub.Status,
		Kind:         app.Kind(),
		Channel:      Channel(app.Route()),
		SubmittedBy:  app.ApplicantEmail(),
		SubmittedAt:  sub.UpdatedAt,
	}, nil
}

func observe(stage Stage, start time.Time) {
	metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
}
