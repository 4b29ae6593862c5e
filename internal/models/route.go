package models

// Route is the notification channel a submission is sent through. The only
// implementations are CaseRoute and EmailRoute.
type Route interface {
	route()
}

// CaseRoute delivers to a case in the external case system.
type CaseRoute struct {
	CaseID string
}

// EmailRoute delivers by email. Applicant is empty when no address is known.
type EmailRoute struct {
	Applicant string
}

func (CaseRoute) route()  {}
func (EmailRoute) route() {}

// Route resolves the channel for a. Unrecognised sources go by email so a
// person sees them.
func (a *Application) Route() Route {
	switch a.Meta.Source {
	case SourceCatenda:
		return CaseRoute{CaseID: a.Meta.ExternalCaseID}
	case SourceInvited, SourceStandalone:
		return EmailRoute{Applicant: a.ApplicantEmail()}
	default:
		return EmailRoute{Applicant: a.ApplicantEmail()}
	}
}

// CaseStatus is the topic status set in the case system.
type CaseStatus string

const (
	CaseOpen   CaseStatus = "Open"
	CaseClosed CaseStatus = "Closed"
)

// Email is an outgoing message.
type Email struct {
	To          []string
	Subject     string
	Body        string
	Attachments []Document
}
