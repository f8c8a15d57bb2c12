// Package converter converts tabular results to Apache Arrow records and
// Arrow IPC files and streams.
package converter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
)

// TimestampType is used for every time column.
var TimestampType = &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}

// InferType returns the Arrow type of one column. Integers widen to float64
// when mixed with floats; any other mix, and nested values, become strings.
// An all-null column is a string column.
func InferType(values []interface{}) arrow.DataType {
	var dt arrow.DataType
	for _, v := range values {
		var t arrow.DataType
		switch v.(type) {
		case nil:
			continue
		case bool:
			t = arrow.FixedWidthTypes.Boolean
		case int, int8, int16, int32, int64, uint8, uint16, uint32:
			t = arrow.PrimitiveTypes.Int64
		case float32, float64:
			t = arrow.PrimitiveTypes.Float64
		case time.Time:
			t = TimestampType
		default:
			return arrow.BinaryTypes.String
		}
		switch {
		case dt == nil:
			dt = t
		case arrow.TypeEqual(dt, t):
		case isNumeric(dt) && isNumeric(t):
			dt = arrow.PrimitiveTypes.Float64
		default:
			return arrow.BinaryTypes.String
		}
	}
	if dt == nil {
		return arrow.BinaryTypes.String
	}
	return dt
}

func isNumeric(dt arrow.DataType) bool {
	return dt.ID() == arrow.INT64 || dt.ID() == arrow.FLOAT64
}

// Schema infers the Arrow schema of result. Every field is nullable.
func Schema(result *models.TabularResult) *arrow.Schema {
	fields := make([]arrow.Field, len(result.Columns))
	column := make([]interface{}, result.Len())
	for j, name := range result.Columns {
		for i, row := range result.Rows {
			column[i] = cell(row, j)
		}
		fields[j] = arrow.Field{Name: name, Type: InferType(column), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

func cell(row []interface{}, j int) interface{} {
	if j < len(row) {
		return row[j]
	}
	return nil
}

// ToRecord converts result into a single record. The caller releases it.
func ToRecord(mem memory.Allocator, result *models.TabularResult) (arrow.Record, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	schema := Schema(result)
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for j, field := range schema.Fields() {
		fb := b.Field(j)
		fb.Reserve(result.Len())
		for i, row := range result.Rows {
			if err := appendValue(fb, cell(row, j)); err != nil {
				return nil, errors.Wrapf(err, errors.CodeInternal, "row %d column %s", i, field.Name)
			}
		}
	}
	return b.NewRecord(), nil
}

func appendValue(fb array.Builder, value interface{}) error {
	if value == nil {
		fb.AppendNull()
		return nil
	}
	switch b := fb.(type) {
	case *array.BooleanBuilder:
		b.Append(value.(bool))
	case *array.Int64Builder:
		n, ok := toInt64(value)
		if !ok {
			return fmt.Errorf("unexpected %T in int64 column", value)
		}
		b.Append(n)
	case *array.Float64Builder:
		if n, ok := toInt64(value); ok {
			b.Append(float64(n))
			return nil
		}
		switch v := value.(type) {
		case float64:
			b.Append(v)
		case float32:
			b.Append(float64(v))
		default:
			return fmt.Errorf("unexpected %T in float64 column", value)
		}
	case *array.TimestampBuilder:
		b.Append(arrow.Timestamp(value.(time.Time).UnixMicro()))
	case *array.StringBuilder:
		b.Append(toString(value))
	default:
		return fmt.Errorf("unsupported builder %T", fb)
	}
	return nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}

// toString renders a value for a string column. Documents and arrays are
// JSON encoded.
func toString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case models.Document, []interface{}, map[string]interface{}:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}

// FromRecord converts a record back into a tabular result. Timestamps become
// UTC times.
func FromRecord(rec arrow.Record) (*models.TabularResult, error) {
	columns := make([]string, rec.NumCols())
	for j, f := range rec.Schema().Fields() {
		columns[j] = f.Name
	}
	result := models.NewTabularResult(columns...)
	for i := 0; i < int(rec.NumRows()); i++ {
		row := make([]interface{}, rec.NumCols())
		for j, col := range rec.Columns() {
			if col.IsNull(i) {
				continue
			}
			switch a := col.(type) {
			case *array.Boolean:
				row[j] = a.Value(i)
			case *array.Int64:
				row[j] = a.Value(i)
			case *array.Float64:
				row[j] = a.Value(i)
			case *array.String:
				row[j] = a.Value(i)
			case *array.Timestamp:
				unit := a.DataType().(*arrow.TimestampType).Unit
				row[j] = a.Value(i).ToTime(unit).UTC()
			default:
				return nil, errors.Newf(errors.CodeUnimplemented, "unsupported arrow type %s", col.DataType())
			}
		}
		result.Rows = append(result.Rows, row)
	}
	return result, nil
}
