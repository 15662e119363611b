package report

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/signintech/gopdf"

	"medical-interview-agent/internal/consultation"
	"medical-interview-agent/internal/observability"
)

type TelegramClient interface {
	SendMessage(chatID int64, text string) error
	SendDocument(chatID int64, fileData []byte, fileName string) error
}

// DejaVuSans covers Cyrillic and Latin; Alpine and Debian put it in different places.
var defaultFontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

type Service struct {
	tgClient     TelegramClient
	doctorChatID int64
	fontPaths    []string
}

func NewService(tg TelegramClient, doctorChatID int64) *Service {
	return &Service{
		tgClient:     tg,
		doctorChatID: doctorChatID,
		fontPaths:    defaultFontPaths,
	}
}

// SendDoctorReport sends the PDF report, or a plain-text message when no font is available.
func (s *Service) SendDoctorReport(ctx context.Context, c consultation.Snapshot) error {
	log := observability.LoggerFromContext(ctx).With("consultation_id", c.ID, "chat_id", s.doctorChatID)
	if s.tgClient == nil || s.doctorChatID == 0 {
		log.Warn("doctor chat not configured, report skipped")
		return nil
	}

	pdfData, err := s.renderPDF(c)
	if err != nil {
		log.Warn("pdf rendering failed, sending text report", "error", err)
		return s.tgClient.SendMessage(s.doctorChatID, TextReport(c))
	}

	fileName := fmt.Sprintf("report_%s.pdf", c.ID.String())
	if err := s.tgClient.SendDocument(s.doctorChatID, pdfData, fileName); err != nil {
		return fmt.Errorf("send pdf report: %w", err)
	}
	log.Info("pdf report sent")
	return nil
}

type qaPair struct {
	Question string
	Answer   string
}

// interviewPairs lines up the i-th asked question with the i-th answer.
func interviewPairs(c consultation.Snapshot) []qaPair {
	pairs := make([]qaPair, 0, len(c.AskedQuestions))
	for i, q := range c.AskedQuestions {
		p := qaPair{Question: q}
		if i < len(c.Answers) {
			p.Answer = c.Answers[i]
		}
		pairs = append(pairs, p)
	}
	return pairs
}

func percent(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.0f%%", *v)
}

// TextReport renders the report as plain text.
func TextReport(c consultation.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Clinical interview report\nPatient: %s\nConsultation: %s\n", c.PatientID, c.ID)
	fmt.Fprintf(&b, "Risk of progression: %s, confidence: %s\n\n", percent(c.RiskScore), percent(c.Confidence))
	if c.InitialSymptoms != "" {
		fmt.Fprintf(&b, "Presenting symptoms: %s\n\n", c.InitialSymptoms)
	}
	for i, p := range interviewPairs(c) {
		fmt.Fprintf(&b, "Q%d: %s\nA: %s\n", i+1, p.Question, p.Answer)
	}
	if c.Summary != "" {
		fmt.Fprintf(&b, "\nSummary:\n%s\n", c.Summary)
	}
	if r := c.LastStructuredReport; r != nil {
		if len(r.WarningSigns) > 0 {
			fmt.Fprintf(&b, "\nWarning signs: %s\n", strings.Join(r.WarningSigns, "; "))
		}
		if len(r.DifferentialDiagnosis) > 0 {
			fmt.Fprintf(&b, "Differential diagnosis: %s\n", strings.Join(r.DifferentialDiagnosis, "; "))
		}
	}
	return b.String()
}

type pdfWriter struct {
	pdf *gopdf.GoPdf
	err error
}

func (w *pdfWriter) font(size int) {
	if w.err == nil {
		w.err = w.pdf.SetFont("DejaVu", "", size)
	}
}

func (w *pdfWriter) paragraph(text string, lineHeight float64) {
	if w.err != nil {
		return
	}
	lines, err := w.pdf.SplitText(text, 500)
	if err != nil {
		w.err = err
		return
	}
	for _, l := range lines {
		if w.pdf.GetY() > 780 {
			w.pdf.AddPage()
		}
		if err := w.pdf.Cell(nil, l); err != nil {
			w.err = err
			return
		}
		w.pdf.Br(lineHeight)
	}
}

func (w *pdfWriter) heading(text string) {
	w.pdf.Br(10)
	w.font(14)
	w.paragraph(text, 18)
	w.font(11)
}

func (s *Service) renderPDF(c consultation.Snapshot) ([]byte, error) {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	var fontErr error
	fontLoaded := false
	for _, path := range s.fontPaths {
		if err := pdf.AddTTFFont("DejaVu", path); err == nil {
			fontLoaded = true
			break
		} else {
			fontErr = err
		}
	}
	if !fontLoaded {
		return nil, fmt.Errorf("failed to load font for PDF: %w", fontErr)
	}

	w := &pdfWriter{pdf: &pdf}
	w.font(20)
	w.paragraph("Clinical interview report", 30)

	w.font(12)
	w.paragraph(fmt.Sprintf("Date: %s", time.Now().Format("02.01.2006 15:04")), 15)
	w.paragraph(fmt.Sprintf("Patient ID: %s", c.PatientID), 15)
	w.paragraph(fmt.Sprintf("Risk of progression: %s   Confidence: %s", percent(c.RiskScore), percent(c.Confidence)), 15)

	if c.InitialSymptoms != "" {
		w.heading("Presenting symptoms")
		w.paragraph(c.InitialSymptoms, 13)
	}

	w.heading("Interview")
	for i, p := range interviewPairs(c) {
		w.paragraph(fmt.Sprintf("Q%d. %s", i+1, p.Question), 13)
		w.paragraph("- "+p.Answer, 13)
	}

	if c.Summary != "" {
		w.heading("Summary and recommendations")
		w.paragraph(c.Summary, 13)
	}
	if r := c.LastStructuredReport; r != nil {
		if len(r.WarningSigns) > 0 {
			w.heading("Warning signs")
			for _, ws := range r.WarningSigns {
				w.paragraph("- "+ws, 13)
			}
		}
		if len(r.DifferentialDiagnosis) > 0 {
			w.heading("Differential diagnosis")
			for _, d := range r.DifferentialDiagnosis {
				w.paragraph("- "+d, 13)
			}
		}
	}
	if w.err != nil {
		return nil, w.err
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}
