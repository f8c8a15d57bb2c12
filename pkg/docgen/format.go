package docgen

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
)

const timeLayout = "2006-01-02 15:04:05"

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Extension returns the output file extension for format.
func Extension(format string) string {
	switch format {
	case models.FormatMarkdown:
		return ".md"
	case models.FormatHTML:
		return ".html"
	case models.FormatJSON:
		return ".json"
	default:
		return ".txt"
	}
}

// RenderHTML converts Markdown to an HTML fragment.
func RenderHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", errors.Wrap(err, errors.CodeInternal, "failed to render markdown")
	}
	return buf.String(), nil
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<title>Documentation: {{.Path}}</title>
<meta charset="utf-8">
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; line-height: 1.6; padding: 20px; max-width: 900px; margin: 0 auto; color: #333; }
pre { background-color: #f5f5f5; padding: 10px; border-radius: 5px; overflow-x: auto; }
code { font-family: "SFMono-Regular", Consolas, "Liberation Mono", Menlo, monospace; }
.file-info { font-size: 0.9em; color: #555; border-top: 1px solid #eee; margin-top: 30px; padding-top: 10px; }
</style>
</head>
<body>
<h1>Documentation: {{.Base}}</h1>
{{.Body}}
<div class="file-info">
<p><strong>File:</strong> {{.Path}}<br>
<strong>Language:</strong> {{.Language}}<br>
<strong>Generated:</strong> {{.Generated}}</p>
</div>
</body>
</html>
`))

// FormatDoc turns the raw model reply for relPath into a document in format.
func FormatDoc(format, raw, relPath, language string, generated time.Time) (string, error) {
	stamp := generated.Format(timeLayout)
	switch format {
	case models.FormatMarkdown:
		content := raw
		if !strings.HasPrefix(content, "# ") {
			content = fmt.Sprintf("# Documentation: %s\n\n%s", relPath, content)
		}
		return fmt.Sprintf("%s\n\n---\n**File**: `%s`  \n**Language**: %s  \n**Generated**: %s", content, relPath, language, stamp), nil
	case models.FormatHTML:
		body, err := RenderHTML(raw)
		if err != nil {
			return "", err
		}
		var buf bytes.Buffer
		err = pageTemplate.Execute(&buf, map[string]interface{}{
			"Path":      relPath,
			"Base":      filepath.Base(relPath),
			"Body":      template.HTML(body),
			"Language":  language,
			"Generated": stamp,
		})
		if err != nil {
			return "", errors.Wrap(err, errors.CodeInternal, "failed to render page")
		}
		return buf.String(), nil
	case models.FormatJSON:
		data, err := json.MarshalIndent(map[string]string{
			"file_path":    relPath,
			"language":     language,
			"generated_at": stamp,
			"content":      raw,
		}, "", "  ")
		if err != nil {
			return "", errors.Wrap(err, errors.CodeInternal, "failed to encode documentation")
		}
		return string(data), nil
	default:
		return raw, nil
	}
}

// failedDoc is written in place of documentation that could not be generated.
func failedDoc(err error) string {
	return fmt.Sprintf("# Documentation Generation Failed\n\nError: %s", err)
}

// listDocs returns the documentation files under dir relative to it, sorted,
// excluding the index.
func listDocs(dir, ext string) ([]string, error) {
	var docs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ext || path == filepath.Join(dir, "index"+ext) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		docs = append(docs, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(docs)
	return docs, err
}

func sortedLanguages(counts map[string]int) []string {
	langs := make([]string, 0, len(counts))
	for lang := range counts {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
<title>Code Documentation Index</title>
<meta charset="utf-8">
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; line-height: 1.6; padding: 20px; max-width: 900px; margin: 0 auto; color: #333; }
.stats { display: flex; flex-wrap: wrap; gap: 20px; margin-bottom: 20px; }
.stat-box { background: #f5f5f5; padding: 15px; border-radius: 5px; flex: 1; min-width: 200px; }
.file-list { list-style-type: none; padding-left: 0; }
.file-list li { padding: 5px 0; border-bottom: 1px solid #eee; }
.error-list { color: #c00; }
</style>
</head>
<body>
<h1>Code Documentation Index</h1>
<p>Generated on: {{.Generated}}</p>
<h2>Statistics</h2>
<div class="stats">
<div class="stat-box"><h3>Files</h3><p>Processed: {{.Stats.TotalFilesProcessed}}<br>Skipped: {{.Stats.TotalFilesSkipped}}</p></div>
<div class="stat-box"><h3>Code Size</h3><p>{{.Size}}</p></div>
<div class="stat-box"><h3>Processing Time</h3><p>{{printf "%.2f" .Stats.Duration}} seconds</p></div>
</div>
<h2>Language Breakdown</h2>
<ul>
{{range .Languages}}<li>{{.Name}}: {{.Count}} files</li>
{{end}}</ul>
<h2>Documentation Files</h2>
<ul class="file-list">
{{range .Docs}}<li><a href="./{{.Path}}">{{.Name}}</a>{{if .Dir}} <small>(in {{.Dir}})</small>{{end}}</li>
{{end}}</ul>
{{if .Stats.Errors}}<h2>Errors</h2>
<ul class="error-list">
{{range .Stats.Errors}}<li>{{.File}}: {{.Error}}</li>
{{end}}</ul>
{{end}}</body>
</html>
`))

type indexDoc struct {
	Path, Name, Dir string
}

type indexLanguage struct {
	Name  string
	Count int
}

// WriteIndex writes index.<ext> linking every document under dir and returns
// its path.
func WriteIndex(dir, format string, stats *models.DocStats, generated time.Time) (string, error) {
	ext := Extension(format)
	docs, err := listDocs(dir, ext)
	if err != nil {
		return "", errors.Wrapf(err, errors.CodeInternal, "failed to list %s", dir)
	}
	stamp := generated.Format(timeLayout)

	var content []byte
	switch format {
	case models.FormatHTML:
		data := map[string]interface{}{
			"Generated": stamp,
			"Stats":     stats,
			"Size":      FormatSize(stats.TotalBytesProcessed),
		}
		var langs []indexLanguage
		for _, lang := range sortedLanguages(stats.LanguageCounts) {
			langs = append(langs, indexLanguage{lang, stats.LanguageCounts[lang]})
		}
		var entries []indexDoc
		for _, d := range docs {
			dirName := filepath.ToSlash(filepath.Dir(d))
			if dirName == "." {
				dirName = ""
			}
			entries = append(entries, indexDoc{Path: d, Name: filepath.Base(d), Dir: dirName})
		}
		data["Languages"] = langs
		data["Docs"] = entries

		var buf bytes.Buffer
		if err := indexTemplate.Execute(&buf, data); err != nil {
			return "", errors.Wrap(err, errors.CodeInternal, "failed to render index")
		}
		content = buf.Bytes()
	case models.FormatJSON:
		errs := stats.Errors
		if errs == nil {
			errs = []models.DocError{}
		}
		content, err = json.MarshalIndent(map[string]interface{}{
			"generated_at": stamp,
			"stats": map[string]interface{}{
				"total_files_processed":   stats.TotalFilesProcessed,
				"total_files_skipped":     stats.TotalFilesSkipped,
				"total_bytes_processed":   stats.TotalBytesProcessed,
				"processing_time_seconds": stats.Duration,
				"language_counts":         stats.LanguageCounts,
			},
			"documentation_files": docs,
			"errors":              errs,
		}, "", "  ")
		if err != nil {
			return "", errors.Wrap(err, errors.CodeInternal, "failed to encode index")
		}
	default:
		var b strings.Builder
		b.WriteString("# Code Documentation Index\n\n")
		fmt.Fprintf(&b, "Generated on: %s\n\n", stamp)
		b.WriteString("## Statistics\n\n")
		fmt.Fprintf(&b, "- Total files processed: %d\n", stats.TotalFilesProcessed)
		fmt.Fprintf(&b, "- Total files skipped: %d\n", stats.TotalFilesSkipped)
		fmt.Fprintf(&b, "- Total code size: %s\n", FormatSize(stats.TotalBytesProcessed))
		fmt.Fprintf(&b, "- Processing time: %.2f seconds\n\n", stats.Duration)
		b.WriteString("## Language Breakdown\n\n")
		for _, lang := range sortedLanguages(stats.LanguageCounts) {
			fmt.Fprintf(&b, "- %s: %d files\n", lang, stats.LanguageCounts[lang])
		}
		b.WriteString("\n## Documentation Files\n\n")
		for _, d := range docs {
			if dirName := filepath.ToSlash(filepath.Dir(d)); dirName != "." {
				fmt.Fprintf(&b, "- [%s](./%s) (in %s)\n", filepath.Base(d), d, dirName)
			} else {
				fmt.Fprintf(&b, "- [%s](./%s)\n", filepath.Base(d), d)
			}
		}
		if len(stats.Errors) > 0 {
			b.WriteString("\n## Errors\n\n")
			for _, e := range stats.Errors {
				fmt.Fprintf(&b, "- %s: %s\n", e.File, e.Error)
			}
		}
		content = []byte(b.String())
	}

	path := filepath.Join(dir, "index"+ext)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", errors.Wrapf(err, errors.CodeInternal, "failed to write %s", path)
	}
	return path, nil
}
