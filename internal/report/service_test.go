package report

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/360EntSecGroup-Skylar/excelize"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drcare/internal/session"
)

var asha = session.UserProfile{Name: "Asha", Age: 30, Weight: 60, Height: 165, BloodGroup: "A+"}

func sampleRecords() []session.Record {
	now := time.Date(2024, 3, 5, 14, 7, 9, 0, time.Local)
	return []session.Record{
		session.NewRecord("11111111-aaaa", "fever", "Take paracetamol", session.RecordMedicineGuide, asha, now),
		session.NewRecord("22222222-bbbb", "Image Analysis: chest.png", "No fracture", session.RecordVisionReport, asha, now.Add(time.Minute)),
	}
}

type fakeSender struct {
	chatID int64
	name   string
	data   []byte
	err    error
}

func (f *fakeSender) SendDocument(chatID int64, data []byte, name string) error {
	f.chatID, f.data, f.name = chatID, data, name
	return f.err
}

func fontAvailable(t *testing.T) string {
	t.Helper()
	for _, p := range defaultFontPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	t.Skip("DejaVuSans.ttf not installed")
	return ""
}

func TestHistorySheet(t *testing.T) {
	svc := NewService("", nil, 0, zerolog.Nop())

	doc, err := svc.HistorySheet(sampleRecords())
	require.NoError(t, err)
	assert.Equal(t, "drcare_history.xlsx", doc.Name)

	f, err := excelize.OpenReader(bytes.NewReader(doc.Data))
	require.NoError(t, err)
	var names []string
	for _, name := range f.GetSheetMap() {
		names = append(names, name)
	}
	assert.Equal(t, []string{historySheet}, names)
	assert.Equal(t, "Type", f.GetCellValue(historySheet, "C1"))
	assert.Equal(t, "3/5/2024", f.GetCellValue(historySheet, "A2"))
	assert.Equal(t, "2:07:09 PM", f.GetCellValue(historySheet, "B2"))
	assert.Equal(t, "Medicine Guide", f.GetCellValue(historySheet, "C2"))
	assert.Equal(t, "fever", f.GetCellValue(historySheet, "D2"))
	assert.Equal(t, "Vision Report", f.GetCellValue(historySheet, "C3"))
	assert.Equal(t, "A+", f.GetCellValue(historySheet, "J3"))
}

func TestHistorySheetEmpty(t *testing.T) {
	doc, err := NewService("", nil, 0, zerolog.Nop()).HistorySheet(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(doc.Data))
	require.NoError(t, err)
	assert.Equal(t, "Date", f.GetCellValue(historySheet, "A1"))
	assert.Equal(t, "", f.GetCellValue(historySheet, "A2"))
}

func TestRecordPDFWithoutFont(t *testing.T) {
	svc := NewService("", nil, 0, zerolog.Nop())
	svc.fontPaths = []string{"/nonexistent/font.ttf"}

	_, err := svc.RecordPDF(sampleRecords()[0])
	assert.ErrorIs(t, err, ErrFontUnavailable)
}

func TestRecordPDF(t *testing.T) {
	font := fontAvailable(t)
	svc := NewService(font, nil, 0, zerolog.Nop())
	rec := sampleRecords()[0]
	rec.Diagnosis = "**Assessment**\n\n- Take paracetamol 500mg\n- Drink fluids"

	doc, err := svc.RecordPDF(rec)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", doc.ContentType)
	assert.Equal(t, "drcare_medicine_guide_11111111.pdf", doc.Name)
	assert.True(t, bytes.HasPrefix(doc.Data, []byte("%PDF")))
}

func TestShareRecord(t *testing.T) {
	font := fontAvailable(t)
	sender := &fakeSender{}
	svc := NewService(font, sender, 777, zerolog.Nop())

	require.NoError(t, svc.ShareRecord(context.Background(), sampleRecords()[1]))
	assert.Equal(t, int64(777), sender.chatID)
	assert.Equal(t, "drcare_vision_report_22222222.pdf", sender.name)
	assert.True(t, bytes.HasPrefix(sender.data, []byte("%PDF")))
}

func TestShareRecordSenderFailure(t *testing.T) {
	font := fontAvailable(t)
	sender := &fakeSender{err: errors.New("chat not found")}
	svc := NewService(font, sender, 777, zerolog.Nop())

	err := svc.ShareRecord(context.Background(), sampleRecords()[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestShareRecordDisabled(t *testing.T) {
	assert.ErrorIs(t, NewService("", nil, 777, zerolog.Nop()).ShareRecord(context.Background(), sampleRecords()[0]), ErrSharingDisabled)
	assert.ErrorIs(t, NewService("", &fakeSender{}, 0, zerolog.Nop()).ShareRecord(context.Background(), sampleRecords()[0]), ErrSharingDisabled)
}
