package reports

import (
	"fmt"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"bitbucket.org/kalbooks/preorder_backend/models"
)

// ExportExcel writes the review workbook: one sheet with the full report
// lines (including source), one with exclusions, and a summary block. This is
// the human-facing artifact; the CSV feed stays machine-shaped.
func ExportExcel(report *WeeklyReport, dir string) (string, error) {
	f := excelize.NewFile()
	defer f.Close()

	const salesSheet = "Sales"
	f.SetSheetName("Sheet1", salesSheet)

	f.SetCellValue(salesSheet, "A1", "Barcode")
	f.SetCellValue(salesSheet, "B1", "Title")
	f.SetCellValue(salesSheet, "C1", "QTY")
	f.SetCellValue(salesSheet, "D1", "Source")
	for i, line := range report.Lines {
		row := i + 2
		f.SetCellValue(salesSheet, "A"+fmt.Sprint(row), line.Isbn)
		f.SetCellValue(salesSheet, "B"+fmt.Sprint(row), line.Title)
		f.SetCellValue(salesSheet, "C"+fmt.Sprint(row), line.Quantity)
		f.SetCellValue(salesSheet, "D"+fmt.Sprint(row), string(line.Source))
	}

	exclusionSheet := "Exclusions"
	if _, err := f.NewSheet(exclusionSheet); err != nil {
		return "", err
	}
	f.SetCellValue(exclusionSheet, "A1", "Barcode")
	f.SetCellValue(exclusionSheet, "B1", "Title")
	f.SetCellValue(exclusionSheet, "C1", "Reason")
	f.SetCellValue(exclusionSheet, "D1", "QTY")
	for i, ex := range report.Exclusions {
		row := i + 2
		f.SetCellValue(exclusionSheet, "A"+fmt.Sprint(row), ex.Isbn)
		f.SetCellValue(exclusionSheet, "B"+fmt.Sprint(row), ex.Title)
		f.SetCellValue(exclusionSheet, "C"+fmt.Sprint(row), string(ex.Reason))
		f.SetCellValue(exclusionSheet, "D"+fmt.Sprint(row), ex.Quantity)
	}

	summarySheet := "Summary"
	if _, err := f.NewSheet(summarySheet); err != nil {
		return "", err
	}
	totals := report.SourceTotals()
	f.SetCellValue(summarySheet, "A1", "Period")
	f.SetCellValue(summarySheet, "B1", fmt.Sprintf("%s to %s",
		report.PeriodStart.Format("2006-01-02"), report.PeriodEnd.Format("2006-01-02")))
	f.SetCellValue(summarySheet, "A2", "Run")
	f.SetCellValue(summarySheet, "B2", report.RunID)
	f.SetCellValue(summarySheet, "A3", "Regular sales")
	f.SetCellValue(summarySheet, "B3", totals[models.SourceRegularSale])
	f.SetCellValue(summarySheet, "A4", "Preorder releases")
	f.SetCellValue(summarySheet, "B4", totals[models.SourcePreorderRelease])
	f.SetCellValue(summarySheet, "A5", "Total")
	f.SetCellValue(summarySheet, "B5", report.Total())

	path := filepath.Join(dir, fmt.Sprintf("weekly_sales_%s.xlsx", report.PeriodEnd.Format("2006-01-02")))
	if err := f.SaveAs(path); err != nil {
		return "", err
	}
	return path, nil
}
