package models

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseApplication_RequiredMeta(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		problem string
	}{
		{"empty", ``, "payload is empty"},
		{"not json", `{"meta":`, "payload is not a JSON object"},
		{"array", `[1,2]`, "payload is not a JSON object"},
		{"missing source", `{"meta":{"submissionId":"S-1"}}`, "meta.source is required"},
		{"missing id", `{"meta":{"source":"standalone"}}`, "meta.submissionId is required"},
		{"blank id", `{"meta":{"source":"standalone","submissionId":"  "}}`, "meta.submissionId is required"},
		{"no meta", `{"projectName":"x"}`, "meta.source is required"},
		{"catenda without case", `{"meta":{"source":"catenda","submissionId":"S-1"}}`, "meta.externalCaseId is required"},
		{"wrong shape", `{"meta":{"source":"standalone","submissionId":"S-1"},"isUrgent":"yes"}`, "does not match the submission shape"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, payload, err := ParseApplication([]byte(tt.raw))
			require.Error(t, err)
			assert.Nil(t, app)
			assert.Nil(t, payload)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Error(), tt.problem)
		})
	}
}

func TestParseApplication_UnknownSourceAccepted(t *testing.T) {
	app, payload, err := ParseApplication([]byte(`{"meta":{"source":"unknown_value","submissionId":"S-9"},"projectName":"Bjørvika"}`))
	require.NoError(t, err)
	assert.False(t, app.Meta.Source.Known())
	assert.Equal(t, "Bjørvika", payload["projectName"])
}

func TestIsDecision(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"no processing", `{"meta":{"source":"standalone","submissionId":"S-1"}}`, false},
		{"empty processing", `{"meta":{"source":"standalone","submissionId":"S-1"},"processing":{}}`, false},
		{"empty decision", `{"meta":{"source":"standalone","submissionId":"S-1"},"processing":{"projectLeaderDecision":""}}`, false},
		{"approved", `{"meta":{"source":"standalone","submissionId":"S-1"},"processing":{"projectLeaderDecision":"approved"}}`, true},
		{"rejected", `{"meta":{"source":"standalone","submissionId":"S-1"},"processing":{"projectLeaderDecision":"rejected"}}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _, err := ParseApplication([]byte(tt.raw))
			require.NoError(t, err)
			first := app.IsDecision()
			assert.Equal(t, tt.want, first)
			assert.Equal(t, first, app.IsDecision(), "classification must be stable")
		})
	}
}

func TestApprovedIgnoresCaseAndSpace(t *testing.T) {
	app := &Application{Processing: &Processing{ProjectLeaderDecision: " Approved "}}
	assert.True(t, app.Approved())

	app.Processing.ProjectLeaderDecision = "partially_approved"
	assert.False(t, app.Approved())
}

func TestApplicantEmail(t *testing.T) {
	app := &Application{SubmitterEmail: "typed@example.no"}
	assert.Equal(t, "typed@example.no", app.ApplicantEmail())

	app.Meta.User = &UserContext{Email: "signed-in@example.no"}
	assert.Equal(t, "signed-in@example.no", app.ApplicantEmail())

	app.Meta.User.Email = " "
	assert.Equal(t, "typed@example.no", app.ApplicantEmail())

	assert.Equal(t, "", (&Application{}).ApplicantEmail())
}

func TestRoute(t *testing.T) {
	catenda := &Application{Meta: Meta{Source: SourceCatenda, ExternalCaseID: "CASE-1"}}
	assert.Equal(t, CaseRoute{CaseID: "CASE-1"}, catenda.Route())

	for _, src := range []Source{SourceInvited, SourceStandalone, "unknown_value"} {
		app := &Application{Meta: Meta{Source: src}, SubmitterEmail: "a@b.com"}
		assert.Equal(t, EmailRoute{Applicant: "a@b.com"}, app.Route(), "source %q", src)
	}
}

func TestReviseMergesDecisionOverApplication(t *testing.T) {
	created := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	decided := created.Add(48 * time.Hour)

	app, payload, err := ParseApplication([]byte(`{
		"meta":{"source":"invited","submissionId":"S-1"},
		"projectName":"Munch",
		"machines":[{"id":"m1","type":"Gravemaskin"}],
		"processing":{"boiAssessment":"ok","projectLeaderDecision":""}
	}`))
	require.NoError(t, err)
	first := Revise(nil, app, payload, created)
	assert.Equal(t, StatusSubmitted, first.Status)
	assert.Equal(t, 1, first.Revision)
	assert.Empty(t, first.DecidedAt)

	app, payload, err = ParseApplication([]byte(`{
		"meta":{"source":"invited","submissionId":"S-1"},
		"processing":{"projectLeaderDecision":"approved"}
	}`))
	require.NoError(t, err)
	second := Revise(first, app, payload, decided)

	want := map[string]any{
		"meta":        map[string]any{"source": "invited", "submissionId": "S-1"},
		"projectName": "Munch",
		"machines":    []any{map[string]any{"id": "m1", "type": "Gravemaskin"}},
		"processing":  map[string]any{"boiAssessment": "ok", "projectLeaderDecision": "approved"},
	}
	if diff := cmp.Diff(want, second.Payload); diff != "" {
		t.Fatalf("merged payload mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, StatusDecided, second.Status)
	assert.Equal(t, 2, second.Revision)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, decided.Format(time.RFC3339), second.DecidedAt)

	// the stored revision is untouched
	assert.Equal(t, "", first.Payload["processing"].(map[string]any)["projectLeaderDecision"])
}

func TestSubmissionApplicationRoundTrip(t *testing.T) {
	sub := &Submission{Payload: map[string]any{
		"meta":           map[string]any{"source": "catenda", "submissionId": "S-2", "externalCaseId": "CASE-7"},
		"projectName":    "Fjordbyen",
		"submitterEmail": "a@b.com",
	}}
	app, err := sub.Application()
	require.NoError(t, err)
	assert.Equal(t, "CASE-7", app.Meta.ExternalCaseID)
	assert.Equal(t, "Fjordbyen", app.ProjectName)
	assert.Equal(t, KindApplication, app.Kind())
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", DetectContentType("Rapport.PDF", nil))
	assert.Equal(t, "image/png", DetectContentType("bilde.png", nil))
	assert.Equal(t, "application/octet-stream", DetectContentType("blob", nil))
	assert.Equal(t, "text/plain; charset=utf-8", DetectContentType("notes", []byte("hello")))
}
