package agent

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/TFMV/quarry/pkg/explorer"
	"github.com/TFMV/quarry/pkg/models"
)

const (
	// PreviewRows is the number of rows rendered for query results.
	PreviewRows = 10
	// MaxDistinctValues is the number of distinct values rendered.
	MaxDistinctValues = 50

	maxCellWidth = 30
)

// RenderTable renders a result as an aligned text table. Cells longer than 30
// characters are cut.
func RenderTable(result *models.TabularResult) string {
	var b strings.Builder
	table := tablewriter.NewWriter(&b)
	table.SetHeader(result.Columns)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderLine(true)
	table.SetColumnSeparator(" ")
	table.SetCenterSeparator(" ")
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, row := range result.Rows {
		table.Append(RenderRow(row))
	}
	table.Render()
	return strings.TrimRight(b.String(), "\n")
}

// RenderRow formats each cell for display.
func RenderRow(row []interface{}) []string {
	cells := make([]string, len(row))
	for i, v := range row {
		cells[i] = cellText(v)
	}
	return cells
}

func cellText(v interface{}) string {
	s := explorer.FormatValue(v)
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) > maxCellWidth {
		return string([]rune(s)[:maxCellWidth-3]) + "..."
	}
	return s
}

// FormatResult summarizes a result as "<label> returned N records." followed
// by the first PreviewRows rows.
func FormatResult(label string, result *models.TabularResult) string {
	if result.Empty() {
		return label + " returned no results."
	}
	n := result.Len()
	var b strings.Builder
	fmt.Fprintf(&b, "%s returned %d records.\n", label, n)
	b.WriteString(RenderTable(result.Head(PreviewRows)))
	if n > PreviewRows {
		fmt.Fprintf(&b, "\n... and %d more rows", n-PreviewRows)
	}
	return b.String()
}
