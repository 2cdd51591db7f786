// Package export renders a completed extraction as a spreadsheet so the
// result can travel back into the purchasing tools the documents came
// from.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/procflow/extractor/internal/core/domain"
)

const sheetName = "Line Items"

var headerRow = []any{"Description", "Quantity", "Unit", "Category", "Specifications"}

// WriteWorkbook writes the document's extracted line items as an XLSX
// workbook. Only completed documents carry items worth exporting.
func WriteWorkbook(doc *domain.Document, w io.Writer) error {
	if doc.Status != domain.StatusCompleted {
		return fmt.Errorf("%w: document %s is not completed", domain.ErrInvalidInput, doc.ID)
	}

	wb := excelize.NewFile()
	defer wb.Close()

	if err := wb.SetSheetName(wb.GetSheetName(0), sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	headerStyle, err := wb.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	if err := wb.SetSheetRow(sheetName, "A1", &headerRow); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := wb.SetRowStyle(sheetName, 1, 1, headerStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, item := range doc.Items {
		row := []any{
			item.Description,
			quantityCell(item.Quantity),
			item.Unit,
			item.Category,
			strings.Join(item.Specifications, "; "),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := wb.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("write item row %d: %w", i+1, err)
		}
	}

	if err := wb.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func quantityCell(qty *float64) any {
	if qty == nil {
		return ""
	}
	return *qty
}
