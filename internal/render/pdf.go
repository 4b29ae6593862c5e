// Package render turns a stored submission into the PDF summary that is
// attached to every notification.
package render

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/models"
)

const dash = "-"

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// PDFRenderer lays out a submission on A4 pages.
type PDFRenderer struct {
	now func() time.Time
	loc *time.Location
}

type Option func(*PDFRenderer)

// WithClock fixes the generation time printed in the footer.
func WithClock(now func() time.Time) Option {
	return func(r *PDFRenderer) { r.now = now }
}

func NewPDFRenderer(opts ...Option) *PDFRenderer {
	loc, err := time.LoadLocation("Europe/Oslo")
	if err != nil {
		loc = time.UTC
	}
	r := &PDFRenderer{now: time.Now, loc: loc}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FileName is the attachment name used for the summary of id.
func FileName(id string) string {
	return "fravik-" + unsafeFileChars.ReplaceAllString(id, "_") + ".pdf"
}

// Render produces the summary document for sub.
func (r *PDFRenderer) Render(ctx context.Context, sub *models.Submission) (*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	app, err := sub.Application()
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", sub.ID, err)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	d := &page{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor(""), loc: r.loc}

	title := "Fraviksøknad - " + orDefault(app.ProjectName, "Uten tittel")
	pdf.SetTitle(title, true)
	pdf.SetAuthor("Oslo Kommune", true)
	pdf.SetCreationDate(r.now())
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AliasNbPages("")

	generated := r.now().In(r.loc).Format("02.01.2006 kl. 15:04")
	pdf.SetHeaderFunc(d.header)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "", 8)
		pdf.SetTextColor(110, 110, 110)
		pdf.CellFormat(0, 5, d.tr(fmt.Sprintf("Generert %s | %s | Side %d av {nb}",
			generated, orDefault(app.SubmitterName, "Ukjent"), pdf.PageNo())), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	d.projectInfo(app, sub)
	d.details(app)
	d.machines(app)
	d.infrastructure(app)
	d.consequences(app)
	d.processing(app)

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("render %s: %w", sub.ID, err)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render %s: %w", sub.ID, err)
	}
	return &models.Document{
		FileName:    FileName(sub.ID),
		ContentType: "application/pdf",
		Data:        buf.Bytes(),
	}, nil
}

// page wraps the layout primitives the sections share.
type page struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
	loc *time.Location
	row int
}

func (d *page) header() {
	d.pdf.SetFont("Helvetica", "B", 11)
	d.pdf.SetTextColor(0, 42, 110)
	d.pdf.CellFormat(0, 6, d.tr("Fraviksøknad - Utslippsfri byggeplass"), "", 0, "L", false, 0, "")
	d.pdf.SetFont("Helvetica", "", 9)
	d.pdf.CellFormat(0, 6, "Oslo Kommune", "", 1, "R", false, 0, "")
	d.pdf.SetDrawColor(0, 42, 110)
	x, y := d.pdf.GetXY()
	d.pdf.Line(x, y+1, 195, y+1)
	d.pdf.Ln(5)
	d.pdf.SetTextColor(0, 0, 0)
}

func (d *page) title(s string) {
	d.pdf.SetFont("Helvetica", "B", 16)
	d.pdf.MultiCell(0, 8, d.tr(s), "", "L", false)
	d.pdf.Ln(2)
}

func (d *page) section(s string) {
	d.pdf.Ln(4)
	d.pdf.SetFont("Helvetica", "B", 13)
	d.pdf.SetTextColor(0, 42, 110)
	d.pdf.MultiCell(0, 7, d.tr(s), "B", "L", false)
	d.pdf.SetTextColor(0, 0, 0)
	d.pdf.Ln(2)
	d.row = 0
}

func (d *page) subsection(s string) {
	d.pdf.Ln(2)
	d.pdf.SetFont("Helvetica", "B", 11)
	d.pdf.MultiCell(0, 6, d.tr(s), "", "L", false)
	d.row = 0
}

// field prints a label/value table row with alternating shading.
func (d *page) field(label, value string) {
	striped := d.row%2 == 1
	d.row++
	d.pdf.SetFillColor(240, 243, 248)
	d.pdf.SetFont("Helvetica", "B", 9)
	d.pdf.CellFormat(60, 6, d.tr(label), "", 0, "L", striped, 0, "")
	d.pdf.SetFont("Helvetica", "", 9)
	d.pdf.MultiCell(0, 6, d.tr(orDefault(value, dash)), "", "L", striped)
}

// block prints a titled free-text paragraph, skipping empty content.
func (d *page) block(title, content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	d.pdf.Ln(1)
	d.pdf.SetFont("Helvetica", "B", 9)
	d.pdf.MultiCell(0, 5, d.tr(title), "", "L", false)
	d.pdf.SetFont("Helvetica", "", 9)
	d.pdf.MultiCell(0, 5, d.tr(content), "", "L", false)
}

func (d *page) projectInfo(app *models.Application, sub *models.Submission) {
	d.title(orDefault(app.ProjectName, "Uten tittel"))
	if app.IsUrgent {
		d.pdf.SetFont("Helvetica", "B", 9)
		d.pdf.SetFillColor(200, 30, 30)
		d.pdf.SetTextColor(255, 255, 255)
		d.pdf.CellFormat(40, 6, "HASTEBEHANDLING", "", 1, "C", true, 0, "")
		d.pdf.SetTextColor(0, 0, 0)
		d.pdf.Ln(2)
	}
	d.field("Søknads-ID:", sub.ID)
	d.field("Prosjektnummer:", app.ProjectNumber)
	d.field("Hovedentreprenør:", app.MainContractor)
	d.field("Rammeavtale:", app.FrameworkAgreement)
	d.field("Navn på innsender:", app.SubmitterName)
	d.field("Frist for svar:", app.Deadline)
	if app.SubmittedAt != "" {
		d.field("Innsendt:", d.timestamp(app.SubmittedAt))
	}
	if app.LastUpdatedAt != "" {
		d.field("Sist oppdatert:", d.timestamp(app.LastUpdatedAt))
	}
}

func (d *page) details(app *models.Application) {
	d.section("Søknadsdetaljer")
	d.field("Søknadstype", applicationTypeLabel(app.ApplicationType))
	d.field("Hovedårsak", app.PrimaryDriver)
	if app.IsUrgent {
		d.block("Begrunnelse for hastebehandling:", app.UrgencyReason)
	}
}

func (d *page) machines(app *models.Application) {
	if len(app.Machines) == 0 {
		return
	}
	d.section("Maskiner")
	for i, m := range app.Machines {
		d.subsection(fmt.Sprintf("Maskin %d: %s", i+1, machineTypeLabel(m)))
		d.field("Periode", fmt.Sprintf("%s til %s", orDefault(m.StartDate, dash), orDefault(m.EndDate, dash)))
		d.field("Årsak", strings.Join(m.Reasons, ", "))
		d.field("Markedsundersøkelse bekreftet", yesNo(m.MarketSurveyConfirmed))
		if m.MarketSurveyConfirmed {
			d.field("Undersøkte leverandører", m.SurveyedCompanies)
		}
		d.field("Erstatningsmaskin", m.ReplacementMachine)
		d.field("Drivstoff", m.ReplacementFuel)
		d.block("Detaljert begrunnelse:", m.DetailedReasoning)
		d.block("Arbeidsbeskrivelse:", m.WorkDescription)
		d.block("Alternative løsninger vurdert:", m.AlternativeSolutions)
	}
}

func (d *page) infrastructure(app *models.Application) {
	inf := app.Infrastructure
	if inf == nil || app.ApplicationType != "infrastructure" {
		return
	}
	d.section("Elektrisk infrastruktur")
	d.field("Mobilbatteri vurdert", yesNo(inf.MobileBatteryConsidered))
	d.field("Midlertidig nettilkobling vurdert", yesNo(inf.TemporaryGridConsidered))
	d.block("Beskrivelse av strømtilgang:", inf.PowerAccessDescription)
	d.block("Prosjektspesifikke forhold:", inf.ProjectSpecificConditions)
	d.block("Kostnadsvurdering:", inf.CostAssessment)
	d.block("Erstatningsløsning:", inf.InfrastructureReplacement)
	d.block("Alternative metoder:", inf.AlternativeMethods)
}

func (d *page) consequences(app *models.Application) {
	d.section("Konsekvenser og avbøtende tiltak")
	d.block("Avbøtende tiltak:", app.MitigatingMeasures)
	d.block("Konsekvenser ved avslag:", app.ConsequencesOfRejection)
	if app.AdvisorAssessment != "" {
		d.section("Rådgivers vurdering")
		d.block("Vurdering fra rådgiver:", app.AdvisorAssessment)
	}
}

func (d *page) processing(app *models.Application) {
	p := app.Processing
	if p == nil {
		return
	}
	if p.BOIAssessment == "" && p.PLAssessment == "" && p.GroupAssessment == "" &&
		p.OwnerAgreesWithGroup == "" && p.ProjectLeaderDecision == "" {
		return
	}
	d.section("Saksbehandling (Intern)")
	if p.Status != "" {
		d.field("Status:", statusLabel(p.Status))
	}
	if p.BOIAssessment != "" {
		d.subsection("Vurdering fra BOI-rådgiver")
		d.field("Dokumentasjon tilstrekkelig?", yesNoText(p.BOIDocumentationSufficient))
		d.field("Anbefaling", recommendationLabel(p.BOIRecommendation))
		d.field("Vurdert", reviewed(p.BOIReviewedBy, d.timestamp(p.BOIReviewedAt)))
		d.block("Vurdering:", p.BOIAssessment)
	}
	if p.PLAssessment != "" {
		d.subsection("Vurdering fra prosjektleder")
		d.field("Dokumentasjon tilstrekkelig?", yesNoText(p.PLDocumentationSufficient))
		d.field("Anbefaling", recommendationLabel(p.PLRecommendation))
		d.field("Vurdert", reviewed(p.PLReviewedBy, d.timestamp(p.PLReviewedAt)))
		d.block("Vurdering:", p.PLAssessment)
	}
	if p.GroupAssessment != "" {
		d.subsection("Arbeidsgruppens innstilling")
		d.field("Innstilling", recommendationLabel(p.GroupRecommendation))
		d.field("Vurdert", reviewed(p.GroupReviewedBy, d.timestamp(p.GroupReviewedAt)))
		d.block("Begrunnelse:", p.GroupAssessment)
	}
	if p.OwnerAgreesWithGroup != "" {
		d.subsection("Prosjekteiers beslutning")
		d.field("Enig med arbeidsgruppen?", yesNoText(p.OwnerAgreesWithGroup))
		d.field("Besluttet", reviewed(p.OwnerDecidedBy, d.timestamp(p.OwnerDecidedAt)))
		d.block("Begrunnelse:", p.OwnerJustification)
	}
	if p.ProjectLeaderDecision != "" {
		d.subsection("Vedtak")
		d.field("Prosjektleders vedtak", recommendationLabel(p.ProjectLeaderDecision))
	}
}

func (d *page) timestamp(iso string) string {
	if iso == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return iso
	}
	return t.In(d.loc).Format("02.01.2006 kl. 15:04")
}

func reviewed(by, at string) string {
	switch {
	case by != "" && at != "":
		return by + ", " + at
	case by != "":
		return by
	default:
		return at
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "Ja"
	}
	return "Nei"
}

func yesNoText(s string) string {
	switch s {
	case "yes":
		return "Ja"
	case "no":
		return "Nei"
	default:
		return dash
	}
}

func applicationTypeLabel(t string) string {
	switch t {
	case "machine":
		return "Spesifikk maskin / kjøretøy"
	case "infrastructure":
		return "Elektrisk infrastruktur på byggeplass"
	default:
		return t
	}
}

func machineTypeLabel(m models.Machine) string {
	if m.Type == "Annet" && m.OtherType != "" {
		return "Annet: " + m.OtherType
	}
	return orDefault(m.Type, dash)
}

func recommendationLabel(rec string) string {
	switch strings.ToLower(strings.TrimSpace(rec)) {
	case "approved":
		return "Godkjent"
	case "partially_approved":
		return "Delvis godkjent"
	case "rejected":
		return "Avslått"
	case "":
		return dash
	default:
		return rec
	}
}

func statusLabel(status string) string {
	labels := map[string]string{
		"submitted":               "Innsendt",
		"awaiting_boi_review":     "Venter på BOI-vurdering",
		"awaiting_ent_revision":   "Venter på oppdatering fra ENT",
		"awaiting_pl_review":      "Venter på prosjektleder-vurdering",
		"awaiting_group_review":   "Venter på arbeidsgruppens vurdering",
		"awaiting_owner_decision": "Venter på prosjekteiers beslutning",
		"approved":                "Godkjent",
		"partially_approved":      "Delvis godkjent",
		"rejected":                "Avslått",
	}
	if l, ok := labels[status]; ok {
		return l
	}
	return status
}
