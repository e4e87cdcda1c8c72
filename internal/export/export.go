package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"fieldops/internal/google"
	"fieldops/internal/models"

	"github.com/xuri/excelize/v2"
)

const defaultSheet = "Sheet1"

// Workbook renders the job log in the same layout as the spreadsheet: a
// label row, then one merged date-header row per date bucket followed by its
// jobs numbered from 1.
func Workbook(sheetName string, jobs []*models.Job) (*excelize.File, error) {
	if sheetName == "" {
		sheetName = models.DefaultSheetName
	}

	f := excelize.NewFile()
	if sheetName != defaultSheet {
		if err := f.SetSheetName(defaultSheet, sheetName); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("error renaming sheet: %w", err)
		}
	}

	if err := writeRows(f, sheetName, jobs); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

func writeRows(f *excelize.File, sheetName string, jobs []*models.Job) error {
	header := make([]interface{}, 0, google.ColumnCount)
	for _, label := range google.HeaderLabels {
		header = append(header, label)
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}

	labelStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D9D9D9"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("error creating style: %w", err)
	}
	_ = f.SetCellStyle(sheetName, "A1", lastCell(1), labelStyle)

	dateStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#424242"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "left"},
	})
	if err != nil {
		return fmt.Errorf("error creating style: %w", err)
	}

	layout := google.BuildLayout(jobs)
	for i, values := range layout.Rows {
		row := i + 2
		cell, _ := excelize.CoordinatesToCellName(1, row)
		values := values
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return fmt.Errorf("error writing row %d: %w", row, err)
		}
	}

	for _, row := range layout.HeaderRows {
		start, _ := excelize.CoordinatesToCellName(2, row)
		if err := f.MergeCell(sheetName, start, lastCell(row)); err != nil {
			return fmt.Errorf("error merging row %d: %w", row, err)
		}
		_ = f.SetCellStyle(sheetName, start, lastCell(row), dateStyle)
	}

	_ = f.SetColWidth(sheetName, "A", "A", 6)
	_ = f.SetColWidth(sheetName, "B", "O", 18)
	return nil
}

func lastCell(row int) string {
	cell, _ := excelize.CoordinatesToCellName(google.ColumnCount, row)
	return cell
}

// WriteTo streams the workbook as xlsx.
func WriteTo(w io.Writer, sheetName string, jobs []*models.Job) error {
	f, err := Workbook(sheetName, jobs)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// SaveFile writes the workbook into dir and returns its path.
func SaveFile(dir, sheetName string, jobs []*models.Job, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := Workbook(sheetName, jobs)
	if err != nil {
		return "", err
	}
	defer f.Close()

	path := filepath.Join(dir, FileName(now))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return path, nil
}

// FileName is the download name of an export made at now.
func FileName(now time.Time) string {
	return fmt.Sprintf("jobs_%s.xlsx", now.Format("20060102_150405"))
}
