package models

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Source is the channel a submission originated from. It decides how
// notifications are routed.
type Source string

const (
	SourceCatenda    Source = "catenda"
	SourceInvited    Source = "invited"
	SourceStandalone Source = "standalone"
)

// Known reports whether s is one of the recognised sources.
func (s Source) Known() bool {
	switch s {
	case SourceCatenda, SourceInvited, SourceStandalone:
		return true
	default:
		return false
	}
}

// Kind separates fresh applications from decisions on existing ones.
type Kind string

const (
	KindApplication Kind = "application"
	KindDecision    Kind = "decision"
)

// Meta is the routing envelope sent by the web client.
type Meta struct {
	Source         Source       `json:"source"`
	SubmissionID   string       `json:"submissionId"`
	ExternalCaseID string       `json:"externalCaseId,omitempty"`
	User           *UserContext `json:"user,omitempty"`
}

// UserContext is the signed-in user as seen by the client, if any.
type UserContext struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

type Machine struct {
	ID                    string   `json:"id"`
	Type                  string   `json:"type"`
	OtherType             string   `json:"otherType,omitempty"`
	StartDate             string   `json:"startDate"`
	EndDate               string   `json:"endDate"`
	Reasons               []string `json:"reasons"`
	MarketSurveyConfirmed bool     `json:"marketSurveyConfirmed"`
	SurveyedCompanies     string   `json:"surveyedCompanies"`
	DetailedReasoning     string   `json:"detailedReasoning"`
	ReplacementMachine    string   `json:"replacementMachine"`
	ReplacementFuel       string   `json:"replacementFuel"`
	WorkDescription       string   `json:"workDescription"`
	AlternativeSolutions  string   `json:"alternativeSolutions"`
}

type Infrastructure struct {
	PowerAccessDescription    string `json:"powerAccessDescription"`
	MobileBatteryConsidered   bool   `json:"mobileBatteryConsidered"`
	TemporaryGridConsidered   bool   `json:"temporaryGridConsidered"`
	ProjectSpecificConditions string `json:"projectSpecificConditions"`
	CostAssessment            string `json:"costAssessment"`
	InfrastructureReplacement string `json:"infrastructureReplacement"`
	AlternativeMethods        string `json:"alternativeMethods"`
}

// MachineDecision is the working group's verdict on a single machine.
type MachineDecision struct {
	Decision string `json:"decision"`
	Comment  string `json:"comment,omitempty"`
}

// Processing holds the internal review trail. A non-empty
// ProjectLeaderDecision turns the payload into a decision.
type Processing struct {
	Status                     string                     `json:"status,omitempty"`
	BOIReviewedBy              string                     `json:"boiReviewedBy,omitempty"`
	BOIReviewedAt              string                     `json:"boiReviewedAt,omitempty"`
	BOIDocumentationSufficient string                     `json:"boiDocumentationSufficient,omitempty"`
	BOIAssessment              string                     `json:"boiAssessment,omitempty"`
	BOIRecommendation          string                     `json:"boiRecommendation,omitempty"`
	PLReviewedBy               string                     `json:"plReviewedBy,omitempty"`
	PLReviewedAt               string                     `json:"plReviewedAt,omitempty"`
	PLDocumentationSufficient  string                     `json:"plDocumentationSufficient,omitempty"`
	PLAssessment               string                     `json:"plAssessment,omitempty"`
	PLRecommendation           string                     `json:"plRecommendation,omitempty"`
	GroupReviewedBy            string                     `json:"groupReviewedBy,omitempty"`
	GroupReviewedAt            string                     `json:"groupReviewedAt,omitempty"`
	GroupAssessment            string                     `json:"groupAssessment,omitempty"`
	GroupRecommendation        string                     `json:"groupRecommendation,omitempty"`
	MachineDecisions           map[string]MachineDecision `json:"machineDecisions,omitempty"`
	OwnerAgreesWithGroup       string                     `json:"ownerAgreesWithGroup,omitempty"`
	OwnerJustification         string                     `json:"ownerJustification,omitempty"`
	OwnerDecidedBy             string                     `json:"ownerDecidedBy,omitempty"`
	OwnerDecidedAt             string                     `json:"ownerDecidedAt,omitempty"`
	ProjectLeaderDecision      string                     `json:"projectLeaderDecision"`
}

// Application is the typed view of a client payload.
type Application struct {
	Meta                    Meta            `json:"meta"`
	IdempotencyKey          string          `json:"idempotencyKey,omitempty"`
	ProjectName             string          `json:"projectName"`
	ProjectNumber           string          `json:"projectNumber"`
	MainContractor          string          `json:"mainContractor"`
	FrameworkAgreement      string          `json:"frameworkAgreement,omitempty"`
	ContractBasis           string          `json:"contractBasis"`
	SubmittedBy             string          `json:"submittedBy"`
	SubmitterName           string          `json:"submitterName"`
	SubmitterEmail          string          `json:"submitterEmail,omitempty"`
	PrimaryDriver           string          `json:"primaryDriver"`
	Deadline                string          `json:"deadline"`
	ApplicationType         string          `json:"applicationType"`
	IsUrgent                bool            `json:"isUrgent"`
	UrgencyReason           string          `json:"urgencyReason"`
	Machines                []Machine       `json:"machines,omitempty"`
	Infrastructure          *Infrastructure `json:"infrastructure,omitempty"`
	MitigatingMeasures      string          `json:"mitigatingMeasures"`
	ConsequencesOfRejection string          `json:"consequencesOfRejection"`
	AdvisorAssessment       string          `json:"advisorAssessment"`
	SubmittedAt             string          `json:"submittedAt,omitempty"`
	LastUpdatedAt           string          `json:"lastUpdatedAt,omitempty"`
	Processing              *Processing     `json:"processing,omitempty"`
}

// ParseApplication decodes and validates a raw client payload. It returns
// the typed view together with the generic object that gets persisted.
func ParseApplication(raw []byte) (*Application, map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil, &ValidationError{Problems: []string{"payload is empty"}}
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, &ValidationError{Problems: []string{"payload is not a JSON object: " + err.Error()}}
	}
	var app Application
	if err := json.Unmarshal(raw, &app); err != nil {
		return nil, nil, &ValidationError{Problems: []string{"payload does not match the submission shape: " + err.Error()}}
	}
	if err := app.Validate(); err != nil {
		return nil, nil, err
	}
	return &app, payload, nil
}

// Validate checks the fields routing depends on.
func (a *Application) Validate() error {
	var problems []string
	if strings.TrimSpace(string(a.Meta.Source)) == "" {
		problems = append(problems, "meta.source is required")
	}
	if strings.TrimSpace(a.Meta.SubmissionID) == "" {
		problems = append(problems, "meta.submissionId is required")
	}
	if a.Meta.Source == SourceCatenda && strings.TrimSpace(a.Meta.ExternalCaseID) == "" {
		problems = append(problems, "meta.externalCaseId is required for source catenda")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// IsDecision reports whether the payload records a project leader decision.
func (a *Application) IsDecision() bool {
	return a.Processing != nil && a.Processing.ProjectLeaderDecision != ""
}

func (a *Application) Kind() Kind {
	if a.IsDecision() {
		return KindDecision
	}
	return KindApplication
}

// Decision returns the project leader decision, or "" for applications.
func (a *Application) Decision() string {
	if a.Processing == nil {
		return ""
	}
	return a.Processing.ProjectLeaderDecision
}

// Approved reports whether the decision grants the exemption.
func (a *Application) Approved() bool {
	return strings.EqualFold(strings.TrimSpace(a.Decision()), "approved")
}

// ApplicantEmail prefers the signed-in user's address over the typed one.
func (a *Application) ApplicantEmail() string {
	if a.Meta.User != nil {
		if email := strings.TrimSpace(a.Meta.User.Email); email != "" {
			return email
		}
	}
	return strings.TrimSpace(a.SubmitterEmail)
}

// ValidationError lists what is wrong with an incoming payload.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid payload: " + strings.Join(e.Problems, "; ")
}
