package reportshttp

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"cems-cloud/internal/reports/application"
)

// buildExportXLSX renders the export as a two-sheet workbook: a summary sheet
// and the bucketed rows.
func buildExportXLSX(meta *application.ExportMeta, rows []application.ExportRow) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	dataSheet := "readings"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(dataSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Sensor Data Export")
	_ = f.SetCellValue(summarySheet, "A3", "Site")
	_ = f.SetCellValue(summarySheet, "B3", meta.SiteID)
	_ = f.SetCellValue(summarySheet, "A4", "From")
	_ = f.SetCellValue(summarySheet, "B4", meta.From.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "To")
	_ = f.SetCellValue(summarySheet, "B5", meta.To.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A6", "Bucket")
	_ = f.SetCellValue(summarySheet, "B6", meta.Bucket)
	_ = f.SetCellValue(summarySheet, "A7", "Rows")
	_ = f.SetCellValue(summarySheet, "B7", len(rows))
	_ = f.SetCellValue(summarySheet, "A8", "Generated")
	_ = f.SetCellValue(summarySheet, "B8", meta.GeneratedAt.Format(time.RFC3339))

	for i, name := range exportHeader {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(dataSheet, cell, name)
	}
	for i, row := range rows {
		rowNum := i + 2
		_ = f.SetCellValue(dataSheet, fmt.Sprintf("A%d", rowNum), row.TimeBucket.Format(time.RFC3339))
		_ = f.SetCellValue(dataSheet, fmt.Sprintf("B%d", rowNum), row.Station)
		_ = f.SetCellValue(dataSheet, fmt.Sprintf("C%d", rowNum), row.Parameter)
		_ = f.SetCellValue(dataSheet, fmt.Sprintf("D%d", rowNum), row.Unit)
		if row.Avg != nil {
			_ = f.SetCellValue(dataSheet, fmt.Sprintf("E%d", rowNum), *row.Avg)
		}
		if row.StdDev != nil {
			_ = f.SetCellValue(dataSheet, fmt.Sprintf("F%d", rowNum), *row.StdDev)
		}
		_ = f.SetCellValue(dataSheet, fmt.Sprintf("G%d", rowNum), row.Count)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// buildExportPDF renders the export as a summary header plus a row table.
func buildExportPDF(meta *application.ExportMeta, rows []application.ExportRow) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Sensor Data Export")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Site: %d", meta.SiteID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Window: %s to %s", meta.From.Format(time.RFC3339), meta.To.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Bucket: %s", meta.Bucket))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", meta.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(8)

	widths := []float64{40, 45, 40, 25, 35, 35, 20}
	pdf.SetFont("Arial", "B", 9)
	for i, name := range exportHeader {
		pdf.CellFormat(widths[i], 6, name, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, row := range rows {
		pdf.CellFormat(widths[0], 6, row.TimeBucket.Format("2006-01-02 15:04"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[1], 6, row.Station, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[2], 6, row.Parameter, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[3], 6, row.Unit, "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[4], 6, formatFloat(row.Avg), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[5], 6, formatFloat(row.StdDev), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[6], 6, fmt.Sprintf("%d", row.Count), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
