package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/models"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/service"
)

// Intake accepts one submission.
type Intake interface {
	Submit(ctx context.Context, raw []byte, files []models.Document) (*service.Receipt, error)
}

// Retriever looks up stored submissions.
type Retriever interface {
	Get(ctx context.Context, id string) (*models.Submission, error)
}

// Limits bounds request sizes.
type Limits struct {
	MaxRequestBytes int64
	MaxFileBytes    int64
}

type SubmissionHandler struct {
	intake   Intake
	retrieve Retriever
	limits   Limits
	logger   *zap.Logger
}

func NewSubmissionHandler(intake Intake, retrieve Retriever, limits Limits, logger *zap.Logger) *SubmissionHandler {
	if limits.MaxRequestBytes <= 0 {
		limits.MaxRequestBytes = 32 << 20
	}
	if limits.MaxFileBytes <= 0 {
		limits.MaxFileBytes = 10 << 20
	}
	return &SubmissionHandler{intake: intake, retrieve: retrieve, limits: limits, logger: logger.Named("http")}
}

// SubmitResponse acknowledges an accepted submission.
type SubmitResponse struct {
	Success        bool   `json:"success"`
	ID             string `json:"id"`
	Status         string `json:"status"`
	Kind           string `json:"kind"`
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	SubmittedBy    string `json:"submittedBy,omitempty"`
	SubmittedAt    string `json:"submittedAt"`
}

// Submit handles POST /api/submit. The payload is the "data" (or
// "application") form field of a multipart request, or a plain JSON body.
func (h *SubmissionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.limits.MaxRequestBytes)

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, http.StatusUnsupportedMediaType, "UnsupportedMediaType", "Content-Type må være multipart/form-data eller application/json")
		return
	}

	var (
		raw   []byte
		files []models.Document
	)
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(h.limits.MaxRequestBytes); err != nil {
			writeError(w, http.StatusBadRequest, "InvalidRequest", "Kunne ikke lese skjemadata: "+err.Error())
			return
		}
		defer r.MultipartForm.RemoveAll()

		data := r.FormValue("data")
		if data == "" {
			data = r.FormValue("application")
		}
		raw = []byte(data)
		if files, err = h.readFiles(r.MultipartForm); err != nil {
			h.writeFileError(w, err)
			return
		}
	case "application/json":
		if raw, err = io.ReadAll(r.Body); err != nil {
			writeError(w, http.StatusBadRequest, "InvalidRequest", "Kunne ikke lese forespørselen: "+err.Error())
			return
		}
	default:
		writeError(w, http.StatusUnsupportedMediaType, "UnsupportedMediaType", "Content-Type må være multipart/form-data eller application/json")
		return
	}

	rc, err := h.intake.Submit(r.Context(), raw, files)
	if err != nil {
		h.writeIntakeError(w, err)
		return
	}

	status := http.StatusOK
	if rc.Created {
		status = http.StatusCreated
	}
	message := "Søknaden er mottatt"
	if rc.Kind == models.KindDecision {
		message = "Vedtaket er registrert"
	}
	writeJSON(w, status, SubmitResponse{
		Success:        true,
		ID:             rc.SubmissionID,
		Status:         string(rc.Status),
		Kind:           string(rc.Kind),
		Message:        message,
		IdempotencyKey: rc.IdempotencyKey,
		SubmittedBy:    rc.SubmittedBy,
		SubmittedAt:    rc.SubmittedAt,
	})
}

type fileTooLargeError struct {
	name  string
	limit int64
}

func (e *fileTooLargeError) Error() string {
	return fmt.Sprintf("Filen %s er for stor (maks %d MB)", e.name, e.limit>>20)
}

// readFiles collects every file part, in field name order.
func (h *SubmissionHandler) readFiles(form *multipart.Form) ([]models.Document, error) {
	fields := make([]string, 0, len(form.File))
	for name := range form.File {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	var docs []models.Document
	for _, name := range fields {
		for _, fh := range form.File[name] {
			if fh.Size > h.limits.MaxFileBytes {
				return nil, &fileTooLargeError{name: fh.Filename, limit: h.limits.MaxFileBytes}
			}
			f, err := fh.Open()
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
			}
			contentType := fh.Header.Get("Content-Type")
			if contentType == "" || contentType == "application/octet-stream" {
				contentType = models.DetectContentType(fh.Filename, data)
			}
			docs = append(docs, models.Document{FileName: fh.Filename, ContentType: contentType, Data: data})
		}
	}
	return docs, nil
}

func (h *SubmissionHandler) writeFileError(w http.ResponseWriter, err error) {
	var tooLarge *fileTooLargeError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusBadRequest, "FileTooLarge", err.Error())
		return
	}
	h.logger.Warn("read uploaded file", zap.Error(err))
	writeError(w, http.StatusBadRequest, "InvalidRequest", "Kunne ikke lese vedlegg")
}

func (h *SubmissionHandler) writeIntakeError(w http.ResponseWriter, err error) {
	var ie *service.IntakeError
	if !errors.As(err, &ie) {
		h.logger.Error("unexpected intake error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "InternalError", "En uventet feil oppstod")
		return
	}

	resp := ErrorResponse{Details: ie.Err.Error(), SubmissionID: ie.SubmissionID}
	var status int
	switch ie.Stage {
	case service.StageValidation:
		status, resp.Error, resp.Message = http.StatusBadRequest, "ValidationError", "Søknaden er ugyldig"
	case service.StageConflict:
		status, resp.Error, resp.Message = http.StatusConflict, "SourceConflict", "Søknaden finnes allerede med en annen kilde"
	case service.StageDuplicate:
		status, resp.Error, resp.Message = http.StatusConflict, "DuplicateSubmission", "Søknaden er allerede mottatt"
	case service.StagePersistence:
		status, resp.Error, resp.Message = http.StatusInternalServerError, "StorageError", "Søknaden kunne ikke lagres"
	case service.StageRender:
		status, resp.Error, resp.Message = http.StatusInternalServerError, "RenderError", "Søknaden er lagret, men dokumentet kunne ikke lages"
	case service.StageNotification:
		status, resp.Error, resp.Message = http.StatusBadGateway, "NotificationError", "Søknaden er lagret, men varsling feilet"
	default:
		status, resp.Error, resp.Message = http.StatusInternalServerError, "InternalError", "En uventet feil oppstod"
	}
	if status >= http.StatusInternalServerError {
		// storage and downstream details stay in the log
		resp.Details = ""
	}
	writeJSON(w, status, resp)
}

// Get handles GET /api/submission?id=... and returns the merged payload.
func (h *SubmissionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "ValidationError", "Parameteren id mangler")
		return
	}
	sub, err := h.retrieve.Get(r.Context(), id)
	if errors.Is(err, service.ErrSubmissionNotFound) {
		writeError(w, http.StatusNotFound, "NotFound", "Søknad ikke funnet")
		return
	}
	if err != nil {
		h.logger.Error("get submission", zap.String("submission_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "StorageError", "Søknaden kunne ikke hentes")
		return
	}
	writeJSON(w, http.StatusOK, sub.Payload)
}
