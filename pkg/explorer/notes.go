package explorer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
)

const (
	maxNotesSampleChars = 500
	timestampLayout     = "2006-01-02T15:04:05.000000"
)

// GenerateNotes renders a snapshot as Markdown. A nil snapshot yields
// NotExploredMessage.
func GenerateNotes(snap *models.Snapshot) string {
	if snap == nil {
		return NotExploredMessage
	}
	if snap.Backend == models.BackendSQL {
		return sqlNotes(snap)
	}
	return mongoNotes(snap)
}

func mongoNotes(snap *models.Snapshot) string {
	var b strings.Builder
	names := sortedKeys(snap.Collections)

	fmt.Fprintf(&b, "## MongoDB Database: %s\n", snap.DatabaseName)
	fmt.Fprintf(&b, "Explored on: %s\n", snap.Timestamp.Format(timestampLayout))
	fmt.Fprintf(&b, "Found %d collections\n\n", len(names))

	b.WriteString("## Collections Overview\n")
	for _, name := range names {
		info := snap.Collections[name]
		fields := make([]string, len(info.Fields))
		for i, f := range info.Fields {
			fields[i] = f.Name
		}
		fmt.Fprintf(&b, "### %s\n", name)
		fmt.Fprintf(&b, "- Document count: %d\n", info.Count)
		fmt.Fprintf(&b, "- Fields: %s\n\n", strings.Join(fields, ", "))
	}

	if len(snap.Relationships) > 0 {
		b.WriteString("## Identified Relationships\n")
		for _, rel := range snap.Relationships {
			fmt.Fprintf(&b, "- %s.%s → %s.%s (Confidence: %s)\n",
				rel.From, strings.Join(rel.FromFields, ","), rel.To, strings.Join(rel.ToFields, ","), rel.Confidence)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Collection Details\n")
	for _, name := range names {
		info := snap.Collections[name]
		fmt.Fprintf(&b, "### %s\n", name)
		b.WriteString("#### Schema\n")
		for _, f := range info.Fields {
			fmt.Fprintf(&b, "- %s: %s\n", f.Name, strings.Join(f.Types, ", "))
			if f.Sample != "" {
				fmt.Fprintf(&b, "  - Sample: %s\n", f.Sample)
			}
		}
		b.WriteString("\n")

		if len(info.SampleDocuments) > 0 {
			b.WriteString("#### Sample Document\n")
			writeJSONBlock(&b, info.SampleDocuments[0])
		}
	}
	return b.String()
}

func sqlNotes(snap *models.Snapshot) string {
	var b strings.Builder
	names := sortedKeys(snap.Tables)

	fmt.Fprintf(&b, "## SQL Database: %s\n", snap.DatabaseName)
	fmt.Fprintf(&b, "Explored on: %s\n", snap.Timestamp.Format(timestampLayout))
	fmt.Fprintf(&b, "Found %d tables\n\n", len(names))

	b.WriteString("## Tables Overview\n")
	for _, name := range names {
		info := snap.Tables[name]
		cols := make([]string, len(info.Columns))
		for i, c := range info.Columns {
			cols[i] = c.Name
		}
		fmt.Fprintf(&b, "### %s\n", name)
		fmt.Fprintf(&b, "- Row count: %d\n", info.Count)
		fmt.Fprintf(&b, "- Columns: %s\n", strings.Join(cols, ", "))
		if len(info.PrimaryKey) > 0 {
			fmt.Fprintf(&b, "- Primary Key: %s\n", strings.Join(info.PrimaryKey, ", "))
		}
		b.WriteString("\n")
	}

	if len(snap.Relationships) > 0 {
		b.WriteString("## Identified Relationships\n")
		for _, rel := range snap.Relationships {
			fmt.Fprintf(&b, "- %s(%s) → %s(%s)\n",
				rel.From, strings.Join(rel.FromFields, ", "), rel.To, strings.Join(rel.ToFields, ", "))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Table Details\n")
	for _, name := range names {
		info := snap.Tables[name]
		fmt.Fprintf(&b, "### %s\n", name)
		b.WriteString("#### Schema\n")
		for _, c := range info.Columns {
			fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Type)
			if !c.Nullable {
				b.WriteString("  - NOT NULL\n")
			}
			if c.Default != nil {
				fmt.Fprintf(&b, "  - Default: %s\n", *c.Default)
			}
		}
		b.WriteString("\n")

		if len(info.Indexes) > 0 {
			b.WriteString("#### Indexes\n")
			for _, idx := range info.Indexes {
				unique := ""
				if idx.Unique {
					unique = "UNIQUE "
				}
				fmt.Fprintf(&b, "- %s: %s(%s)\n", idx.Name, unique, strings.Join(idx.Columns, ", "))
			}
			b.WriteString("\n")
		}

		if !info.SampleRows.Empty() {
			b.WriteString("#### Sample Data\n")
			writeJSONBlock(&b, info.SampleRows.Row(0))
		}
	}
	return b.String()
}

func writeJSONBlock(b *strings.Builder, doc models.Document) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		buf.Reset()
		buf.WriteString(FormatValue(doc))
	}
	b.WriteString("```json\n")
	b.WriteString(truncate(strings.TrimRight(buf.String(), "\n"), maxNotesSampleChars))
	b.WriteString("\n```\n\n")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SaveSnapshot writes a snapshot as indented JSON.
func SaveSnapshot(path string, snap *models.Snapshot) error {
	if snap == nil {
		return errors.ErrNotExplored
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to encode snapshot")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "failed to write snapshot to %s", path)
	}
	return nil
}

// LoadSnapshot reads a snapshot written by SaveSnapshot.
func LoadSnapshot(path string) (*models.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeNotFound, "failed to read snapshot %s", path)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidRequest, "failed to decode snapshot")
	}
	return &snap, nil
}
