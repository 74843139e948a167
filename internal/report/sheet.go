package report

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/360EntSecGroup-Skylar/excelize"

	"drcare/internal/session"
)

const (
	historySheet    = "History"
	sheetType       = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	historySheetXLS = "drcare_history.xlsx"
)

var sheetHeaders = map[string]string{
	"A1": "Date",
	"B1": "Time",
	"C1": "Type",
	"D1": "Symptoms",
	"E1": "Diagnosis",
	"F1": "Patient",
	"G1": "Age",
	"H1": "Weight",
	"I1": "Height",
	"J1": "Blood Group",
}

// HistorySheet exports every record as one row of a spreadsheet, in the
// order given.
func (s *Service) HistorySheet(records []session.Record) (Document, error) {
	file := excelize.NewFile()
	file.NewSheet(historySheet)
	file.DeleteSheet("Sheet1")
	for k, v := range sheetHeaders {
		file.SetCellValue(historySheet, k, v)
	}
	for i := range records {
		appendRecordRow(file, i, records)
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return Document{}, fmt.Errorf("failed to write spreadsheet: %w", err)
	}
	return Document{Name: historySheetXLS, ContentType: sheetType, Data: buf.Bytes()}, nil
}

func appendRecordRow(file *excelize.File, index int, rows []session.Record) {
	row := strconv.Itoa(index + 2)
	r := rows[index]
	file.SetCellValue(historySheet, "A"+row, r.Date)
	file.SetCellValue(historySheet, "B"+row, r.Time)
	file.SetCellValue(historySheet, "C"+row, r.RecordType)
	file.SetCellValue(historySheet, "D"+row, r.Symptoms)
	file.SetCellValue(historySheet, "E"+row, r.Diagnosis)
	file.SetCellValue(historySheet, "F"+row, r.Patient.Name)
	file.SetCellValue(historySheet, "G"+row, r.Patient.Age)
	file.SetCellValue(historySheet, "H"+row, r.Patient.Weight)
	file.SetCellValue(historySheet, "I"+row, r.Patient.Height)
	file.SetCellValue(historySheet, "J"+row, r.Patient.BloodGroup)
}
