package docgen

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
)

// Languages maps file extensions to language names.
var Languages = map[string]string{
	".py":    "Python",
	".js":    "JavaScript",
	".ts":    "TypeScript",
	".jsx":   "React JSX",
	".tsx":   "React TSX",
	".java":  "Java",
	".c":     "C",
	".cpp":   "C++",
	".h":     "C/C++ Header",
	".cs":    "C#",
	".go":    "Go",
	".rb":    "Ruby",
	".php":   "PHP",
	".swift": "Swift",
	".kt":    "Kotlin",
	".rs":    "Rust",
	".sh":    "Shell Script",
	".pl":    "Perl",
	".pm":    "Perl Module",
	".scala": "Scala",
	".lua":   "Lua",
	".r":     "R",
	".sql":   "SQL",
	".html":  "HTML",
	".css":   "CSS",
	".scss":  "SCSS",
	".sass":  "Sass",
	".less":  "Less",
	".tf":    "Terraform",
	".yaml":  "YAML",
	".yml":   "YAML",
	".json":  "JSON",
	".xml":   "XML",
	".md":    "Markdown",
	".rst":   "reStructuredText",
}

// Scanner selects the files of a tree to document.
type Scanner struct {
	maxFileSize  int64
	excludeDirs  map[string]bool
	excludeFiles map[string]bool
	extensions   map[string]string
	skipPaths    []string
}

// NewScanner builds a scanner from s. Paths in skip (typically the output
// directory) are never descended into.
func NewScanner(s Settings, skip ...string) *Scanner {
	sc := &Scanner{
		maxFileSize:  s.MaxFileSize,
		excludeDirs:  toSet(s.ExcludeDirs),
		excludeFiles: toSet(s.ExcludeFiles),
		extensions:   Languages,
	}
	if len(s.IncludeExtensions) > 0 {
		sc.extensions = make(map[string]string, len(s.IncludeExtensions))
		for _, ext := range s.IncludeExtensions {
			ext = strings.ToLower(ext)
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			lang, ok := Languages[ext]
			if !ok {
				lang = "Unknown"
			}
			sc.extensions[ext] = lang
		}
	}
	for _, p := range skip {
		if abs, err := filepath.Abs(p); err == nil {
			sc.skipPaths = append(sc.skipPaths, abs)
		}
	}
	return sc
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

// Language returns the language of path, or "" when it is not a code file.
func (sc *Scanner) Language(path string) string {
	return sc.extensions[strings.ToLower(filepath.Ext(path))]
}

// Scan walks dir. Files over the size limit are returned as skipped; files
// that are excluded or not code are ignored.
func (sc *Scanner) Scan(dir string) ([]models.SourceFile, []models.SkippedFile, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, nil, errors.Wrapf(err, errors.CodeInvalidRequest, "invalid directory %s", dir)
	}

	var files []models.SourceFile
	var skipped []models.SkippedFile
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			rel, _ := filepath.Rel(root, path)
			skipped = append(skipped, models.SkippedFile{File: rel, Reason: "error", Error: err.Error()})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && sc.skipDir(path, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if sc.excludeFiles[d.Name()] || !d.Type().IsRegular() {
			return nil
		}
		lang := sc.Language(path)
		if lang == "" {
			return nil
		}

		rel, _ := filepath.Rel(root, path)
		info, err := d.Info()
		if err != nil {
			skipped = append(skipped, models.SkippedFile{File: rel, Reason: "error", Error: err.Error()})
			return nil
		}
		if info.Size() > sc.maxFileSize {
			skipped = append(skipped, models.SkippedFile{File: rel, Reason: "size_limit", Size: info.Size()})
			return nil
		}
		files = append(files, models.SourceFile{Path: path, RelPath: rel, Language: lang, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, nil, errors.Wrapf(err, errors.CodeInvalidRequest, "failed to scan %s", dir)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, skipped, nil
}

func (sc *Scanner) skipDir(path, name string) bool {
	if strings.HasPrefix(name, ".") || sc.excludeDirs[name] {
		return true
	}
	for _, p := range sc.skipPaths {
		if path == p {
			return true
		}
	}
	return false
}
