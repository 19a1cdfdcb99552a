package reports

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// WriteSalesCsv renders the downstream feed: a two column Barcode,QTY file.
// Downstream tooling ingests exactly this shape; nothing else goes in.
func WriteSalesCsv(report *WeeklyReport) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"Barcode", "QTY"}); err != nil {
		return nil, err
	}
	for _, line := range report.Lines {
		if err := w.Write([]string{line.Isbn, strconv.Itoa(line.Quantity)}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteExclusionsCsv renders the audit sidecar listing every dropped title
// and its reason.
func WriteExclusionsCsv(report *WeeklyReport) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"Barcode", "Title", "Reason", "QTY"}); err != nil {
		return nil, err
	}
	for _, ex := range report.Exclusions {
		if err := w.Write([]string{ex.Isbn, ex.Title, string(ex.Reason), strconv.Itoa(ex.Quantity)}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveReportFiles writes the sales feed and exclusions sidecar into dir,
// named by period end. Returns the sales csv path.
func SaveReportFiles(report *WeeklyReport, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	stamp := report.PeriodEnd.Format("2006-01-02")

	sales, err := WriteSalesCsv(report)
	if err != nil {
		return "", err
	}
	salesPath := filepath.Join(dir, fmt.Sprintf("weekly_sales_%s.csv", stamp))
	if err := os.WriteFile(salesPath, sales, 0o644); err != nil {
		return "", err
	}

	exclusions, err := WriteExclusionsCsv(report)
	if err != nil {
		return "", err
	}
	exclusionsPath := filepath.Join(dir, fmt.Sprintf("weekly_sales_%s_exclusions.csv", stamp))
	if err := os.WriteFile(exclusionsPath, exclusions, 0o644); err != nil {
		return "", err
	}
	return salesPath, nil
}
