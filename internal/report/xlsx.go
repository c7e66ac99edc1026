package report

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ContentType of the rendered workbooks.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Render builds the whole file in memory so that a failure never leaves a
// partial file behind.
func Render(wb Workbook) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, wb); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write encodes wb as xlsx into w.
func Write(w io.Writer, wb Workbook) (err error) {
	if len(wb.Sheets) == 0 {
		return errors.New("report: workbook has no sheets")
	}
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("report: header style: %w", err)
	}

	first := f.GetSheetName(f.GetActiveSheetIndex())
	for i, sh := range wb.Sheets {
		if i == 0 {
			if err := f.SetSheetName(first, sh.Name); err != nil {
				return fmt.Errorf("report: rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sh.Name); err != nil {
			return fmt.Errorf("report: add sheet %s: %w", sh.Name, err)
		}
		if err := writeSheet(f, sh, header); err != nil {
			return err
		}
	}
	f.SetActiveSheet(0)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("report: write %s: %w", wb.Filename, err)
	}
	return nil
}

func writeSheet(f *excelize.File, sh Sheet, headerStyle int) error {
	head := make([]any, len(sh.Header))
	for i, h := range sh.Header {
		head[i] = h
	}
	if err := f.SetSheetRow(sh.Name, "A1", &head); err != nil {
		return fmt.Errorf("report: %s header: %w", sh.Name, err)
	}
	if err := f.SetRowStyle(sh.Name, 1, 1, headerStyle); err != nil {
		return fmt.Errorf("report: %s header style: %w", sh.Name, err)
	}
	for i, row := range sh.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := row
		if err := f.SetSheetRow(sh.Name, cell, &row); err != nil {
			return fmt.Errorf("report: %s row %d: %w", sh.Name, i+1, err)
		}
	}
	if n := len(sh.Header); n > 0 {
		last, err := excelize.ColumnNumberToName(n)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sh.Name, "A", last, 18); err != nil {
			return fmt.Errorf("report: %s widths: %w", sh.Name, err)
		}
	}
	return nil
}
