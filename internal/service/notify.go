package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/metrics"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/models"
)

// CaseSystem is the external case handling system cases live in.
type CaseSystem interface {
	UploadDocument(ctx context.Context, caseID string, doc *models.Document) (string, error)
	PostComment(ctx context.Context, caseID, text string, documentIDs []string) error
	SetStatus(ctx context.Context, caseID string, status models.CaseStatus) error
}

// Mailer sends one email.
type Mailer interface {
	Send(ctx context.Context, msg models.Email) error
}

const (
	ChannelCase  = "catenda"
	ChannelEmail = "email"
)

// ErrNoCaseSystem is returned when a case-routed submission arrives and no
// case system is configured.
var ErrNoCaseSystem = errors.New("case system is not configured")

// Notification is everything the router needs for one delivery. App is the
// merged record; Kind and Decision come from the payload that triggered it.
type Notification struct {
	SubmissionID string
	App          *models.Application
	Kind         models.Kind
	Decision     string
	Document     *models.Document
	Files        []models.Document
}

// NotificationRouter delivers a rendered submission to the case system or
// by email, depending on where the submission came from.
type NotificationRouter struct {
	cases        CaseSystem
	mail         Mailer
	handlerEmail string
	baseURL      string
	logger       *zap.Logger
}

func NewNotificationRouter(cases CaseSystem, mail Mailer, handlerEmail, baseURL string, logger *zap.Logger) *NotificationRouter {
	return &NotificationRouter{
		cases:        cases,
		mail:         mail,
		handlerEmail: handlerEmail,
		baseURL:      baseURL,
		logger:       logger.Named("notify"),
	}
}

// ProcessingLink is the URL a case handler opens to work on id.
func ProcessingLink(baseURL, id string) string {
	return strings.TrimRight(baseURL, "/") + "/?mode=process&id=" + url.QueryEscape(id)
}

// Channel names the delivery channel for a route.
func Channel(r models.Route) string {
	if _, ok := r.(models.CaseRoute); ok {
		return ChannelCase
	}
	return ChannelEmail
}

// Dispatch runs exactly one notification path for n.
func (r *NotificationRouter) Dispatch(ctx context.Context, n Notification) error {
	switch route := n.App.Route().(type) {
	case models.CaseRoute:
		return r.toCase(ctx, route.CaseID, n)
	case models.EmailRoute:
		return r.byEmail(ctx, route.Applicant, n)
	default:
		return fmt.Errorf("unhandled route %T", route)
	}
}

func (r *NotificationRouter) toCase(ctx context.Context, caseID string, n Notification) (err error) {
	defer func() { countNotification(ChannelCase, err) }()
	if r.cases == nil {
		return ErrNoCaseSystem
	}

	docID, err := r.cases.UploadDocument(ctx, caseID, n.Document)
	if err != nil {
		return fmt.Errorf("upload document to case %s: %w", caseID, err)
	}

	if n.Kind == models.KindDecision {
		text := fmt.Sprintf("Søknaden er behandlet. Vedtak: %s. Se vedlagt protokoll.", n.Decision)
		if err := r.cases.PostComment(ctx, caseID, text, []string{docID}); err != nil {
			return fmt.Errorf("comment on case %s: %w", caseID, err)
		}
		status := models.CaseOpen
		if approved(n.Decision) {
			status = models.CaseClosed
		}
		if err := r.cases.SetStatus(ctx, caseID, status); err != nil {
			return fmt.Errorf("set status on case %s: %w", caseID, err)
		}
		r.logger.Info("decision posted to case",
			zap.String("submission_id", n.SubmissionID),
			zap.String("case_id", caseID),
			zap.String("status", string(status)),
		)
		return nil
	}

	if err := r.cases.PostComment(ctx, caseID, "Ny fravikssøknad er sendt inn. Se vedlegg.", []string{docID}); err != nil {
		return fmt.Errorf("comment on case %s: %w", caseID, err)
	}
	r.logger.Info("new submission posted to case",
		zap.String("submission_id", n.SubmissionID),
		zap.String("case_id", caseID),
	)
	return nil
}

func (r *NotificationRouter) byEmail(ctx context.Context, applicant string, n Notification) error {
	if n.Kind == models.KindDecision {
		if applicant == "" {
			r.logger.Info("no applicant address, decision email skipped",
				zap.String("submission_id", n.SubmissionID))
			return nil
		}
		return r.send(ctx, n.SubmissionID, models.Email{
			To:          []string{applicant},
			Subject:     fmt.Sprintf("Svar på fravikssøknad: %s", n.App.ProjectName),
			Body:        fmt.Sprintf("Din søknad er behandlet.\nVedtak: %s.\nSe vedlegg for detaljer.", n.Decision),
			Attachments: []models.Document{*n.Document},
		})
	}

	attachments := make([]models.Document, 0, len(n.Files)+1)
	attachments = append(attachments, *n.Document)
	attachments = append(attachments, n.Files...)

	// the receipt is still attempted when the handler email fails
	var errs []error
	if err := r.send(ctx, n.SubmissionID, models.Email{
		To:      []string{r.handlerEmail},
		Subject: fmt.Sprintf("Ny fravikssøknad mottatt: %s", n.App.ProjectName),
		Body: fmt.Sprintf("En ny søknad har kommet inn.\n\nKlikk her for å behandle saken: %s",
			ProcessingLink(r.baseURL, n.SubmissionID)),
		Attachments: attachments,
	}); err != nil {
		errs = append(errs, fmt.Errorf("handler email: %w", err))
	}
	if applicant != "" {
		if err := r.send(ctx, n.SubmissionID, models.Email{
			To:      []string{applicant},
			Subject: "Kvittering på innsendt søknad",
			Body:    "Vi har mottatt din søknad...",
		}); err != nil {
			errs = append(errs, fmt.Errorf("receipt email: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (r *NotificationRouter) send(ctx context.Context, id string, msg models.Email) error {
	err := r.mail.Send(ctx, msg)
	countNotification(ChannelEmail, err)
	if err != nil {
		return err
	}
	r.logger.Info("email sent",
		zap.String("submission_id", id),
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("attachments", len(msg.Attachments)),
	)
	return nil
}

func approved(decision string) bool {
	return strings.EqualFold(strings.TrimSpace(decision), "approved")
}

func countNotification(channel string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.NotificationsTotal.WithLabelValues(channel, outcome).Inc()
}
