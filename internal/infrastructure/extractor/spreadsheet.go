package extractor

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

func extractSpreadsheet(path string) (string, int, error) {
	book, err := excelize.OpenFile(path)
	if err != nil {
		return "", 0, fmt.Errorf("open workbook: %w", err)
	}
	defer book.Close()

	var sb strings.Builder
	sheets := book.GetSheetList()
	for _, sheet := range sheets {
		rows, err := book.GetRows(sheet)
		if err != nil {
			return "", 0, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, " "))
			if line == "" {
				continue
			}
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	return strings.TrimSpace(sb.String()), len(sheets), nil
}
