package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/TFMV/quarry/pkg/models"
)

// maxCellWidth truncates long cells such as nested documents.
const maxCellWidth = 60

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetRowLine(false)
	table.SetBorder(false)
	table.SetAutoWrapText(true)
	return table
}

// renderResult prints a tabular result followed by its row count.
func renderResult(w io.Writer, result *models.TabularResult) {
	if result == nil || len(result.Columns) == 0 {
		fmt.Fprintln(w, "(no results)")
		return
	}

	table := newTable(w)
	table.SetHeader(result.Columns)
	for _, row := range result.Rows {
		cells := make([]string, len(result.Columns))
		for i := range cells {
			if i < len(row) {
				cells[i] = renderText(row[i])
			}
		}
		table.Append(cells)
	}
	table.Render()
	fmt.Fprintf(w, "(%d rows)\n", len(result.Rows))
}

func renderText(v interface{}) string {
	var s string
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		s = val
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		s = strconv.FormatInt(val, 10)
	case int:
		s = strconv.Itoa(val)
	case bool:
		s = strconv.FormatBool(val)
	case []byte:
		s = string(val)
	case fmt.Stringer:
		s = val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			s = fmt.Sprintf("%v", val)
		} else {
			s = string(b)
		}
	}
	if len(s) > maxCellWidth {
		s = s[:maxCellWidth-3] + "..."
	}
	return s
}

// renderPairs prints a two-column key/value table in key order.
func renderPairs(w io.Writer, header [2]string, pairs map[string]string) {
	table := newTable(w)
	table.SetHeader(header[:])
	for _, k := range sortedKeys(pairs) {
		table.Append([]string{k, pairs[k]})
	}
	table.Render()
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
