package converter

import (
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow/ipc"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/infrastructure/memory"
	"github.com/TFMV/quarry/pkg/models"
)

// StreamContentType is the media type of an Arrow IPC stream.
const StreamContentType = "application/vnd.apache.arrow.stream"

// WriteFile writes result to path in the Arrow IPC file format. Buffers are
// accounted to memory.Shared.
func WriteFile(path string, result *models.TabularResult) error {
	mem := memory.Shared()
	rec, err := ToRecord(mem, result)
	if err != nil {
		return err
	}
	defer rec.Release()

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "failed to create %s", path)
	}
	w, err := ipc.NewFileWriter(f, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(mem))
	if err != nil {
		f.Close()
		return errors.Wrap(err, errors.CodeInternal, "failed to create arrow file writer")
	}
	if err := w.Write(rec); err != nil {
		w.Close()
		f.Close()
		return errors.Wrap(err, errors.CodeInternal, "failed to write arrow record")
	}
	if err := w.Close(); err != nil {
		f.Close()
		return errors.Wrap(err, errors.CodeInternal, "failed to finish arrow file")
	}
	return f.Close()
}

// ReadFile reads every record of an Arrow IPC file into one result.
func ReadFile(path string) (*models.TabularResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeNotFound, "failed to open %s", path)
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.Shared()))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidRequest, "not an arrow file")
	}
	defer r.Close()

	columns := make([]string, r.Schema().NumFields())
	for i, field := range r.Schema().Fields() {
		columns[i] = field.Name
	}
	result := models.NewTabularResult(columns...)
	for i := 0; i < r.NumRecords(); i++ {
		rec, err := r.Record(i)
		if err != nil {
			return nil, errors.Wrapf(err, errors.CodeInvalidRequest, "failed to read record %d", i)
		}
		part, err := FromRecord(rec)
		if err != nil {
			return nil, err
		}
		result.Rows = append(result.Rows, part.Rows...)
	}
	return result, nil
}

// WriteStream writes result to w in the Arrow IPC stream format.
func WriteStream(w io.Writer, result *models.TabularResult) error {
	mem := memory.Shared()
	rec, err := ToRecord(mem, result)
	if err != nil {
		return err
	}
	defer rec.Release()

	sw := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(mem))
	if err := sw.Write(rec); err != nil {
		sw.Close()
		return errors.Wrap(err, errors.CodeInternal, "failed to write arrow stream")
	}
	return sw.Close()
}
