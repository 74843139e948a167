package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/signintech/gopdf"

	"drcare/internal/session"
)

var (
	ErrFontUnavailable = errors.New("no usable TTF font for PDF export")
	ErrSharingDisabled = errors.New("doctor sharing is not configured")
)

// DejaVuSans covers Latin and Cyrillic; these are the usual install paths.
var defaultFontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

const (
	pageMargin  = 40.0
	textWidth   = 515.0
	pageBottom  = 800.0
	lineHeight  = 14.0
	contentType = "application/pdf"
)

// Document is a downloadable export.
type Document struct {
	Name        string
	ContentType string
	Data        []byte
}

type DocumentSender interface {
	SendDocument(chatID int64, fileData []byte, fileName string) error
}

type Service struct {
	fontPaths    []string
	sender       DocumentSender
	doctorChatID int64
	log          zerolog.Logger
}

// NewService builds the exporter. fontPath, when set, is tried before the
// system DejaVu paths. sender may be nil, which disables ShareRecord.
func NewService(fontPath string, sender DocumentSender, doctorChatID int64, log zerolog.Logger) *Service {
	paths := defaultFontPaths
	if fontPath != "" {
		paths = append([]string{fontPath}, defaultFontPaths...)
	}
	return &Service{
		fontPaths:    paths,
		sender:       sender,
		doctorChatID: doctorChatID,
		log:          log.With().Str("component", "report").Logger(),
	}
}

// RecordPDF renders one history record.
func (s *Service) RecordPDF(rec session.Record) (Document, error) {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.SetMargins(pageMargin, pageMargin, pageMargin, pageMargin)
	pdf.AddPage()

	if err := s.loadFont(&pdf); err != nil {
		return Document{}, err
	}
	w := &pdfWriter{pdf: &pdf}

	w.line(20, "Dr.Care Medical Report")
	w.gap(10)
	w.line(10, fmt.Sprintf("Date: %s %s", rec.Date, rec.Time))
	w.line(10, "Type: "+rec.RecordType)
	w.gap(10)

	w.line(14, "Patient")
	p := rec.Patient
	w.line(11, "Name: "+p.Name)
	w.line(11, fmt.Sprintf("Age: %d", p.Age))
	w.line(11, fmt.Sprintf("Weight: %gkg  Height: %gcm", p.Weight, p.Height))
	w.line(11, "Blood Group: "+p.BloodGroup)
	w.gap(10)

	w.line(14, "Symptoms / Query")
	w.paragraph(11, rec.Symptoms)
	w.gap(10)

	w.line(14, "AI Analysis")
	w.paragraph(11, rec.Diagnosis)
	w.gap(20)

	w.line(9, "Generated by Dr.Care. This report does not replace a consultation with a doctor.")
	if w.err != nil {
		return Document{}, fmt.Errorf("failed to render PDF: %w", w.err)
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return Document{}, fmt.Errorf("failed to write PDF: %w", err)
	}
	return Document{
		Name:        recordFileName(rec),
		ContentType: contentType,
		Data:        buf.Bytes(),
	}, nil
}

// ShareRecord sends the record's PDF to the configured doctor chat.
func (s *Service) ShareRecord(ctx context.Context, rec session.Record) error {
	if s.sender == nil || s.doctorChatID == 0 {
		return ErrSharingDisabled
	}
	doc, err := s.RecordPDF(rec)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.log.Info().Str("record", rec.ID).Int64("chat", s.doctorChatID).Msg("sending record to doctor")
	if err := s.sender.SendDocument(s.doctorChatID, doc.Data, doc.Name); err != nil {
		return fmt.Errorf("send record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Service) loadFont(pdf *gopdf.GoPdf) error {
	var lastErr error
	for _, path := range s.fontPaths {
		if err := pdf.AddTTFFont("DejaVu", path); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	s.log.Error().Err(lastErr).Strs("paths", s.fontPaths).Msg("no PDF font found")
	return fmt.Errorf("%w: %v", ErrFontUnavailable, lastErr)
}

func recordFileName(rec session.Record) string {
	id := rec.ID
	if len(id) > 8 {
		id = id[:8]
	}
	kind := strings.ToLower(strings.ReplaceAll(rec.RecordType, " ", "_"))
	if id == "" {
		return fmt.Sprintf("drcare_%s.pdf", kind)
	}
	return fmt.Sprintf("drcare_%s_%s.pdf", kind, id)
}

// pdfWriter keeps the first error so rendering code reads top to bottom.
type pdfWriter struct {
	pdf *gopdf.GoPdf
	err error
}

func (w *pdfWriter) setFont(size int) {
	if w.err != nil {
		return
	}
	w.err = w.pdf.SetFont("DejaVu", "", size)
}

func (w *pdfWriter) line(size int, text string) {
	w.setFont(size)
	w.cell(text, float64(size)+4)
}

func (w *pdfWriter) paragraph(size int, text string) {
	w.setFont(size)
	for _, para := range strings.Split(text, "\n") {
		if strings.TrimSpace(para) == "" {
			w.gap(lineHeight / 2)
			continue
		}
		if w.err != nil {
			return
		}
		lines, err := w.pdf.SplitText(para, textWidth)
		if err != nil {
			w.err = err
			return
		}
		for _, l := range lines {
			w.cell(l, lineHeight)
		}
	}
}

func (w *pdfWriter) cell(text string, height float64) {
	if w.err != nil {
		return
	}
	if w.pdf.GetY()+height > pageBottom {
		w.pdf.AddPage()
	}
	w.pdf.SetX(pageMargin)
	if err := w.pdf.Cell(nil, text); err != nil {
		w.err = err
		return
	}
	w.pdf.Br(height)
}

func (w *pdfWriter) gap(h float64) {
	if w.err == nil {
		w.pdf.Br(h)
	}
}
