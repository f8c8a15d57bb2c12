// Package csvchat loads CSV files into DuckDB and answers natural-language
// questions about them with LLM-generated SQL.
package csvchat

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/infrastructure/pool"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/repositories"
	"github.com/TFMV/quarry/pkg/repositories/sqldb"
)

const (
	// TableName is the name every dataset is queried under.
	TableName = "data"
	// SampleRows is the number of rows kept in dataset metadata.
	SampleRows = 5

	// DefaultUploadDir is where uploaded files and chunks are written.
	DefaultUploadDir = "./uploads"

	// MaxChunkNumber is the highest chunk number accepted.
	MaxChunkNumber = 10000
)

var fileIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// dataset is a loaded CSV file. Each dataset has its own in-memory DuckDB
// database holding one table named data.
type dataset struct {
	meta *models.Dataset
	pool pool.ConnectionPool
	repo repositories.SQLRepository

	mu       sync.Mutex
	analysis *models.DatasetAnalysis
}

// Store holds the loaded datasets.
type Store struct {
	uploadDir string
	logger    zerolog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	datasets map[string]*dataset
}

// NewStore creates a store writing uploads under uploadDir.
func NewStore(uploadDir string, logger zerolog.Logger) (*Store, error) {
	if uploadDir == "" {
		uploadDir = DefaultUploadDir
	}
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.CodeInternal, "failed to create upload directory %s", uploadDir)
	}
	return &Store{
		uploadDir: uploadDir,
		logger:    logger.With().Str("component", "csvchat").Logger(),
		now:       time.Now,
		datasets:  make(map[string]*dataset),
	}, nil
}

// LoadFile loads a CSV file in place under a new ID.
func (s *Store) LoadFile(ctx context.Context, path string) (*models.Dataset, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, errors.CodeNotFound, "file %s not found", path)
	}
	return s.load(ctx, uuid.NewString(), filepath.Base(path), path)
}

// Upload writes r to the upload directory and loads it.
func (s *Store) Upload(ctx context.Context, fileName string, r io.Reader) (*models.Dataset, error) {
	id := uuid.NewString()
	path := filepath.Join(s.uploadDir, id+".csv")

	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to create upload file")
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, errors.Wrap(err, errors.CodeInvalidRequest, "failed to read upload")
	}
	s.logger.Info().Str("file_id", id).Str("file_name", fileName).Int64("bytes", n).Msg("File uploaded")

	return s.load(ctx, id, fileName, path)
}

// UploadChunk stores one chunk. When chunk.IsLast is set, the stored chunks
// numbered up to ChunkNumber are concatenated in order, the chunk directory is
// removed and the file is loaded. Missing chunk numbers are skipped.
func (s *Store) UploadChunk(ctx context.Context, chunk models.ChunkUpload) (*models.ChunkStatus, error) {
	if chunk.FileID == "" {
		chunk.FileID = uuid.NewString()
	}
	if !fileIDPattern.MatchString(chunk.FileID) {
		return nil, errors.Newf(errors.CodeInvalidRequest, "invalid file id %q", chunk.FileID)
	}
	if chunk.ChunkNumber < 0 || chunk.ChunkNumber > MaxChunkNumber {
		return nil, errors.Newf(errors.CodeInvalidRequest, "chunk number must be between 0 and %d", MaxChunkNumber)
	}
	data, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidRequest, "chunk data is not valid base64")
	}

	dir := filepath.Join(s.uploadDir, chunk.FileID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to create chunk directory")
	}
	if err := os.WriteFile(chunkPath(dir, chunk.ChunkNumber), data, 0o644); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to write chunk")
	}

	if !chunk.IsLast {
		return &models.ChunkStatus{
			FileID:  chunk.FileID,
			Status:  "success",
			Message: fmt.Sprintf("Chunk %d received", chunk.ChunkNumber),
		}, nil
	}

	defer os.RemoveAll(dir)
	path := filepath.Join(s.uploadDir, chunk.FileID+".csv")
	parts, err := reassemble(path, dir, chunk.ChunkNumber)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to reassemble chunks")
	}
	if parts != chunk.ChunkNumber+1 {
		s.logger.Warn().Str("file_id", chunk.FileID).Int("chunks", parts).Int("last", chunk.ChunkNumber).Msg("Reassembled with missing chunks")
	}

	name := chunk.FileName
	if name == "" {
		name = chunk.FileID + ".csv"
	}
	ds, err := s.load(ctx, chunk.FileID, name, path)
	if err != nil {
		return nil, err
	}
	return &models.ChunkStatus{
		FileID:  chunk.FileID,
		Status:  "success",
		Message: fmt.Sprintf("File reassembled from %d chunks", parts),
		Dataset: ds,
	}, nil
}

func chunkPath(dir string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("chunk_%d", n))
}

// storedChunks lists the chunk numbers in dir up to last, ascending.
func storedChunks(dir string, last int) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var numbers []int
	for _, e := range entries {
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), "chunk_"))
		if err != nil || e.IsDir() || !strings.HasPrefix(e.Name(), "chunk_") || n < 0 || n > last {
			continue
		}
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers, nil
}

// reassemble concatenates the stored chunks into path and returns how many
// were used.
func reassemble(path, dir string, last int) (int, error) {
	numbers, err := storedChunks(dir, last)
	if err != nil {
		return 0, err
	}
	out, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	for _, n := range numbers {
		in, err := os.Open(chunkPath(dir, n))
		if err != nil {
			return 0, err
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			return 0, err
		}
	}
	return len(numbers), out.Close()
}

// load reads path into a fresh DuckDB database. read_csv_auto sniffs the
// dialect; a second attempt forces ';' as the delimiter.
func (s *Store) load(ctx context.Context, id, fileName, path string) (*models.Dataset, error) {
	p, err := pool.New(pool.Config{Driver: pool.DriverDuckDB, DSN: ":memory:", MaxOpenConnections: 4}, s.logger)
	if err != nil {
		return nil, err
	}
	repo, err := sqldb.NewRepository(p, s.logger)
	if err != nil {
		p.Close()
		return nil, err
	}

	if err := createTable(ctx, p, path); err != nil {
		p.Close()
		s.logger.Error().Err(err).Str("path", path).Msg("Failed to load CSV file")
		return nil, err
	}

	ds := &dataset{pool: p, repo: repo}
	ds.meta, err = describe(ctx, repo, id, fileName, path)
	if err != nil {
		p.Close()
		return nil, err
	}
	ds.meta.LoadedAt = s.now().UTC()

	s.mu.Lock()
	if old, ok := s.datasets[id]; ok {
		old.pool.Close()
	}
	s.datasets[id] = ds
	s.mu.Unlock()

	s.logger.Info().
		Str("file_id", id).
		Int64("rows", ds.meta.RowCount).
		Int("columns", ds.meta.ColumnCount).
		Msg("Dataset loaded")
	return ds.meta, nil
}

func createTable(ctx context.Context, p pool.ConnectionPool, path string) error {
	db, err := p.Get(ctx)
	if err != nil {
		return err
	}
	literal := "'" + strings.ReplaceAll(path, "'", "''") + "'"
	stmt := fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM read_csv_auto(%s)", TableName, literal)
	if _, err := db.ExecContext(ctx, stmt); err == nil {
		return nil
	}
	stmt = fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM read_csv_auto(%s, delim=';')", TableName, literal)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrap(err, errors.CodeInvalidRequest, "failed to parse CSV file")
	}
	return nil
}

func describe(ctx context.Context, repo repositories.SQLRepository, id, fileName, path string) (*models.Dataset, error) {
	columns, err := repo.GetColumns(ctx, TableName)
	if err != nil {
		return nil, err
	}
	count, err := repo.CountRows(ctx, TableName)
	if err != nil {
		return nil, err
	}
	sample, err := repo.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", TableName, SampleRows))
	if err != nil {
		return nil, err
	}

	meta := &models.Dataset{
		ID:          id,
		FileName:    fileName,
		Path:        path,
		Table:       TableName,
		RowCount:    count,
		ColumnCount: len(columns),
		Columns:     make([]string, len(columns)),
		DTypes:      make(map[string]string, len(columns)),
		SampleRows:  sample,
	}
	for i, c := range columns {
		meta.Columns[i] = c.Name
		meta.DTypes[c.Name] = c.Type
	}
	return meta, nil
}

func (s *Store) get(id string) (*dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.datasets[id]
	if !ok {
		return nil, errors.ErrDatasetNotFound.WithDetail("file_id", id)
	}
	return ds, nil
}

// Get returns the metadata of a dataset.
func (s *Store) Get(id string) (*models.Dataset, error) {
	ds, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return ds.meta, nil
}

// List returns every loaded dataset, oldest first.
func (s *Store) List() []*models.Dataset {
	s.mu.RLock()
	out := make([]*models.Dataset, 0, len(s.datasets))
	for _, ds := range s.datasets {
		out = append(out, ds.meta)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].LoadedAt.Before(out[j].LoadedAt) })
	return out
}

// Query runs a statement against a dataset. The statement is not checked.
func (s *Store) Query(ctx context.Context, id, query string) (*models.TabularResult, error) {
	ds, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return ds.repo.Query(ctx, query)
}

// Analysis profiles a dataset. The profile is computed once.
func (s *Store) Analysis(ctx context.Context, id string) (*models.DatasetAnalysis, error) {
	ds, err := s.get(id)
	if err != nil {
		return nil, err
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.analysis != nil {
		return ds.analysis, nil
	}
	analysis, err := Profile(ctx, ds.repo, ds.meta)
	if err != nil {
		return nil, err
	}
	ds.analysis = analysis
	return analysis, nil
}

// Remove unloads a dataset.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	ds, ok := s.datasets[id]
	delete(s.datasets, id)
	s.mu.Unlock()
	if !ok {
		return errors.ErrDatasetNotFound.WithDetail("file_id", id)
	}
	return ds.pool.Close()
}

// Close unloads every dataset.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ds := range s.datasets {
		if err := ds.pool.Close(); err != nil {
			s.logger.Warn().Err(err).Str("file_id", id).Msg("Failed to close dataset")
		}
		delete(s.datasets, id)
	}
	return nil
}
