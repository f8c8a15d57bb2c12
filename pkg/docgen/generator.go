package docgen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/llm"
	"github.com/TFMV/quarry/pkg/models"
)

const systemPrompt = `You are an expert code documentation assistant. Analyze the code file you are given and document:
- the overall purpose of the file
- key functions, classes and methods, with their parameters and return values
- important dependencies and logic flow
- usage examples where helpful
Keep the documentation accurate, clear and professional.`

const temperature = 0.7

// Generator documents source trees.
type Generator struct {
	client   llm.Client
	settings Settings
	logger   zerolog.Logger
	now      func() time.Time
}

// NewGenerator creates a generator. The settings are validated.
func NewGenerator(client llm.Client, settings Settings, logger zerolog.Logger) (*Generator, error) {
	if client == nil {
		return nil, errors.New(errors.CodeInvalidRequest, "llm client is required")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &Generator{
		client:   client,
		settings: settings,
		logger:   logger.With().Str("component", "docgen").Logger(),
		now:      time.Now,
	}, nil
}

// Prompt builds the documentation request for one file.
func Prompt(f models.SourceFile, code, format string) string {
	return fmt.Sprintf(`Please generate documentation for the following %s code file:

File: %s

`+"```%s\n%s\n```"+`

Generate comprehensive documentation including:
1. High-level overview of the file's purpose
2. Main components (classes, functions, etc.) with descriptions
3. Key algorithms or important logic explained
4. Dependencies and relationships with other components
5. Usage examples if appropriate

Format the output as %s.`, f.Language, f.RelPath, strings.ToLower(f.Language), code, strings.ToUpper(format))
}

// Document generates the documentation of one file. A failed call is
// reported in the returned FileDoc's Error and yields a failure document.
func (g *Generator) Document(ctx context.Context, f models.SourceFile) models.FileDoc {
	doc := models.FileDoc{FilePath: f.RelPath, Language: f.Language}

	code, err := os.ReadFile(f.Path)
	if err != nil {
		return g.failed(doc, errors.Wrapf(err, errors.CodeNotFound, "failed to read %s", f.RelPath))
	}
	doc.SizeBytes = int64(len(code))

	ctx, cancel := context.WithTimeout(ctx, time.Duration(g.settings.Timeout)*time.Second)
	defer cancel()

	start := time.Now()
	reply, err := g.client.Complete(ctx, llm.Request{
		System:      systemPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: Prompt(f, strings.ToValidUTF8(string(code), "�"), g.settings.OutputFormat)}},
		Temperature: temperature,
	})
	if err != nil {
		return g.failed(doc, err)
	}
	g.logger.Debug().Str("file", f.RelPath).Dur("duration", time.Since(start)).Msg("Documentation generated")

	doc.Documentation, err = FormatDoc(g.settings.OutputFormat, reply, f.RelPath, f.Language, g.now())
	if err != nil {
		return g.failed(doc, err)
	}
	return doc
}

func (g *Generator) failed(doc models.FileDoc, err error) models.FileDoc {
	g.logger.Error().Err(err).Str("file", doc.FilePath).Msg("Failed to generate documentation")
	doc.Error = err.Error()
	doc.Documentation = failedDoc(err)
	return doc
}

// save writes doc under outDir, mirroring the source tree.
func (g *Generator) save(outDir string, doc models.FileDoc) (string, error) {
	rel := strings.TrimSuffix(doc.FilePath, filepath.Ext(doc.FilePath)) + Extension(g.settings.OutputFormat)
	path := filepath.Join(outDir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(doc.Documentation), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Run documents every code file under dir into outDir, which defaults to
// dir/code_docs, and writes an index. Failures of single files are recorded
// in the stats; Run itself fails only when dir cannot be scanned, the output
// cannot be created or ctx is done.
func (g *Generator) Run(ctx context.Context, dir, outDir string) (*models.DocRun, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidRequest, "invalid directory %s", dir)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, errors.Newf(errors.CodeInvalidRequest, "directory %s does not exist", dir)
	}
	if outDir == "" {
		outDir = filepath.Join(root, DefaultOutputDir)
	}
	if outDir, err = filepath.Abs(outDir); err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidRequest, "invalid output directory %s", outDir)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.CodeInternal, "failed to create %s", outDir)
	}

	stats := &models.DocStats{LanguageCounts: map[string]int{}, StartTime: g.now()}
	log := g.logger.With().Str("directory", root).Str("output", outDir).Logger()

	files, skipped, err := NewScanner(g.settings, outDir).Scan(root)
	if err != nil {
		return nil, err
	}
	stats.TotalFilesSkipped = len(skipped)
	for _, s := range skipped {
		log.Warn().Str("file", s.File).Str("reason", s.Reason).Int64("size", s.Size).Msg("Skipping file")
	}
	for _, f := range files {
		stats.LanguageCounts[f.Language]++
	}
	log.Info().Int("files", len(files)).Int("skipped", len(skipped)).Msg("Scanned directory")

	if len(files) == 0 {
		g.finish(stats)
		return &models.DocRun{Status: "completed", Message: "No code files found to process", Stats: stats}, nil
	}

	var mu sync.Mutex
	docs := make([]models.FileDoc, len(files))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.settings.Workers)
	for i, f := range files {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			log.Info().Str("file", f.RelPath).Msgf("Processing file %d/%d", i+1, len(files))
			doc := g.Document(egCtx, f)

			mu.Lock()
			defer mu.Unlock()
			if doc.Error != "" {
				stats.Errors = append(stats.Errors, models.DocError{File: f.RelPath, Error: doc.Error, Type: "generation_error"})
			} else {
				stats.TotalFilesProcessed++
				stats.TotalBytesProcessed += doc.SizeBytes
			}
			path, err := g.save(outDir, doc)
			if err != nil {
				log.Error().Err(err).Str("file", f.RelPath).Msg("Failed to save documentation")
				stats.Errors = append(stats.Errors, models.DocError{File: f.RelPath, Error: err.Error(), Type: "save_error"})
			}
			doc.OutputPath = path
			docs[i] = doc
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, errors.Wrap(err, errors.CodeDeadlineExceeded, "documentation run interrupted")
	}

	g.finish(stats)
	index, err := WriteIndex(outDir, g.settings.OutputFormat, stats, g.now())
	if err != nil {
		log.Error().Err(err).Msg("Failed to write index")
	}
	log.Info().
		Int("processed", stats.TotalFilesProcessed).
		Int("errors", len(stats.Errors)).
		Float64("seconds", stats.Duration).
		Msg("Documentation run completed")

	return &models.DocRun{
		Status:    "completed",
		Message:   fmt.Sprintf("Documentation generation completed in %.2f seconds", stats.Duration),
		IndexFile: index,
		Files:     docs,
		Stats:     stats,
	}, nil
}

func (g *Generator) finish(stats *models.DocStats) {
	stats.EndTime = g.now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime).Seconds()
}
