package csvchat

import (
	"fmt"
	"strings"

	"github.com/TFMV/quarry/pkg/models"
)

// Shortcut is a canned answer for a common descriptive question.
type Shortcut struct {
	Name              string
	SQL               string
	VisualizationType string
	explain           func(*models.Dataset) string
}

// Explain describes the shortcut result for ds.
func (s *Shortcut) Explain(ds *models.Dataset) string {
	return s.explain(ds)
}

var (
	overviewShortcut = &Shortcut{
		Name:              "overview",
		SQL:               "DESCRIBE " + TableName,
		VisualizationType: "none",
		explain: func(ds *models.Dataset) string {
			return fmt.Sprintf("The data has %d rows and %d columns: %s. The table lists each column with its type.",
				ds.RowCount, ds.ColumnCount, strings.Join(ds.Columns, ", "))
		},
	}
	showShortcut = &Shortcut{
		Name:              "show",
		SQL:               FallbackSQL,
		VisualizationType: "table",
		explain: func(*models.Dataset) string {
			return "These are the first 10 rows of your data."
		},
	}
	statsShortcut = &Shortcut{
		Name:              "statistics",
		SQL:               "SUMMARIZE " + TableName,
		VisualizationType: "none",
		explain: func(ds *models.Dataset) string {
			return fmt.Sprintf("Basic statistics for each of the %d columns: minimum, maximum, distinct values, mean, standard deviation, quartiles and null percentage.",
				ds.ColumnCount)
		},
	}
	explainShortcut = &Shortcut{
		Name:              "explain",
		SQL:               "SUMMARIZE " + TableName,
		VisualizationType: "none",
		explain: func(ds *models.Dataset) string {
			var b strings.Builder
			fmt.Fprintf(&b, "%s has %d rows and %d columns.", ds.FileName, ds.RowCount, ds.ColumnCount)
			for _, col := range ds.Columns {
				fmt.Fprintf(&b, "\n- %s (%s)", col, ds.DTypes[col])
			}
			b.WriteString("\nThe table summarizes the values of every column.")
			return b.String()
		},
	}
)

// shortcutPhrases are matched in order as substrings of the lower-cased
// question.
var shortcutPhrases = []struct {
	phrase   string
	shortcut *Shortcut
}{
	{"what is the data about", overviewShortcut},
	{"what is in the data", overviewShortcut},
	{"what is the file about", overviewShortcut},
	{"what does the data contain", overviewShortcut},
	{"show me the data", showShortcut},
	{"display the data", showShortcut},
	{"basic statistics", statsShortcut},
	{"summary statistics", statsShortcut},
	{"summary of data", statsShortcut},
	{"explain the dataset", explainShortcut},
	{"explain the data", explainShortcut},
	{"tell me about the data", explainShortcut},
	{"describe the dataset", explainShortcut},
}

// MatchShortcut returns the shortcut for question, or nil.
func MatchShortcut(question string) *Shortcut {
	q := strings.ToLower(strings.TrimSpace(question))
	for _, p := range shortcutPhrases {
		if strings.Contains(q, p.phrase) {
			return p.shortcut
		}
	}
	return nil
}
