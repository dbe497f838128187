package apihttp

import (
	"bytes"
	"fmt"

	calls "callwatch/internal/calls/domain"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
)

const (
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypePDF  = "application/pdf"
)

var exportHeader = []string{"id", "date", "branch", "patient", "room", "caller", "registered_at"}

func exportRow(record calls.CallRecord) []string {
	return []string{
		record.ID,
		record.Date,
		record.Branch,
		record.Patient,
		record.Room,
		record.Caller,
		formatTime(record.RegisteredAt),
	}
}

// BuildCallsXLSX renders one day of calls as a workbook with a summary and a calls sheet.
func BuildCallsXLSX(date, branch string, records []calls.CallRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	callsSheet := "calls"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(callsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Panel calls")
	_ = f.SetCellValue(summarySheet, "A3", "Date")
	_ = f.SetCellValue(summarySheet, "B3", date)
	_ = f.SetCellValue(summarySheet, "A4", "Branch")
	_ = f.SetCellValue(summarySheet, "B4", branchOrAll(branch))
	_ = f.SetCellValue(summarySheet, "A5", "Calls")
	_ = f.SetCellValue(summarySheet, "B5", len(records))

	for col, title := range exportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(callsSheet, cell, title)
	}
	for i, record := range records {
		for col, value := range exportRow(record) {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(callsSheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildCallsPDF renders one day of calls as a printable table.
func BuildCallsPDF(date, branch string, records []calls.CallRecord) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Panel calls")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Date: %s", date))
	pdf.Ln(5)
	pdf.Cell(0, 6, tr(fmt.Sprintf("Branch: %s", branchOrAll(branch))))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Calls: %d", len(records)))
	pdf.Ln(8)

	widths := []float64{40, 50, 60, 50, 40}
	pdf.SetFont("Arial", "B", 10)
	for i, title := range []string{"Time", "Branch", "Patient", "Room", "Caller"} {
		pdf.CellFormat(widths[i], 6, title, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, record := range records {
		cells := []string{
			record.RegisteredAt.Format("15:04:05"),
			record.Branch,
			record.Patient,
			record.Room,
			record.Caller,
		}
		for i, value := range cells {
			pdf.CellFormat(widths[i], 6, tr(value), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func branchOrAll(branch string) string {
	if branch == "" {
		return "all"
	}
	return branch
}
