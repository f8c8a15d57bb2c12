package models

import "time"

// Documentation output formats.
const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatJSON     = "json"
)

// SourceFile is a file selected for documentation.
type SourceFile struct {
	Path     string `json:"path"`
	RelPath  string `json:"rel_path"`
	Language string `json:"language"`
	Size     int64  `json:"size"`
}

// SkippedFile is a file left out of a run.
type SkippedFile struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
	Size   int64  `json:"size,omitempty"`
	Error  string `json:"error,omitempty"`
}

// FileDoc is the generated documentation of one file.
type FileDoc struct {
	FilePath      string `json:"file_path"`
	Language      string `json:"language"`
	SizeBytes     int64  `json:"size_bytes"`
	Documentation string `json:"documentation"`
	OutputPath    string `json:"output_path,omitempty"`
	Error         string `json:"error,omitempty"`
}

// DocError records a failure for one file.
type DocError struct {
	File  string `json:"file"`
	Error string `json:"error"`
	Type  string `json:"type"`
}

// DocStats are the statistics of a documentation run.
type DocStats struct {
	TotalFilesProcessed int            `json:"total_files_processed"`
	TotalFilesSkipped   int            `json:"total_files_skipped"`
	TotalBytesProcessed int64          `json:"total_bytes_processed"`
	LanguageCounts      map[string]int `json:"language_counts"`
	Errors              []DocError     `json:"errors"`
	StartTime           time.Time      `json:"start_time"`
	EndTime             time.Time      `json:"end_time"`
	Duration            float64        `json:"processing_time_seconds"`
}

// DocRun is the result of a documentation run.
type DocRun struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	IndexFile string    `json:"index_file,omitempty"`
	Files     []FileDoc `json:"files,omitempty"`
	Stats     *DocStats `json:"stats"`
}
