package csvchat

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/repositories"
)

const (
	topValues            = 5
	correlationThreshold = 0.5
	maxCorrelations      = 10
	outlierFactor        = 1.5
)

// ColumnKind classifies a DuckDB column type.
func ColumnKind(sqlType string) string {
	t := strings.ToUpper(strings.TrimSpace(sqlType))
	switch {
	case t == "BOOLEAN":
		return models.KindBoolean
	case strings.HasPrefix(t, "TIMESTAMP"), t == "DATE", strings.HasPrefix(t, "TIME"):
		return models.KindDatetime
	case strings.HasPrefix(t, "DECIMAL"), strings.HasPrefix(t, "NUMERIC"):
		return models.KindNumeric
	}
	switch t {
	case "TINYINT", "SMALLINT", "INTEGER", "INT", "BIGINT", "HUGEINT",
		"UTINYINT", "USMALLINT", "UINTEGER", "UBIGINT", "UHUGEINT",
		"FLOAT", "REAL", "DOUBLE":
		return models.KindNumeric
	}
	return models.KindCategorical
}

type profiler struct {
	repo repositories.QueryRepository
	meta *models.Dataset

	numeric     []string
	categorical []string
	datetime    []string
	distinct    map[string]int64
}

// Profile computes column statistics, data quality, correlations and chart
// recommendations for a dataset.
func Profile(ctx context.Context, repo repositories.QueryRepository, meta *models.Dataset) (*models.DatasetAnalysis, error) {
	p := &profiler{repo: repo, meta: meta, distinct: make(map[string]int64)}
	for _, col := range meta.Columns {
		switch ColumnKind(meta.DTypes[col]) {
		case models.KindNumeric:
			p.numeric = append(p.numeric, col)
		case models.KindCategorical:
			p.categorical = append(p.categorical, col)
		case models.KindDatetime:
			p.datetime = append(p.datetime, col)
		}
	}

	analysis := &models.DatasetAnalysis{
		DatasetID:          meta.ID,
		RowCount:           meta.RowCount,
		ColumnCount:        meta.ColumnCount,
		NumericColumns:     nonNil(p.numeric),
		CategoricalColumns: nonNil(p.categorical),
		DatetimeColumns:    nonNil(p.datetime),
	}

	for _, col := range meta.Columns {
		stats, err := p.columnStats(ctx, col)
		if err != nil {
			return nil, err
		}
		analysis.ColumnStats = append(analysis.ColumnStats, *stats)
	}

	quality, err := p.quality(ctx, analysis.ColumnStats)
	if err != nil {
		return nil, err
	}
	analysis.Quality = *quality
	analysis.Correlations = p.correlations(ctx)
	analysis.Visualizations = p.visualizations()
	return analysis, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (p *profiler) q(col string) string {
	return p.repo.QuoteIdentifier(col)
}

// one runs a single-row query.
func (p *profiler) one(ctx context.Context, query string, args ...interface{}) ([]interface{}, error) {
	result, err := p.repo.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if result.Len() == 0 {
		return nil, errors.Newf(errors.CodeInternal, "query returned no rows: %s", query)
	}
	return result.Rows[0], nil
}

func (p *profiler) columnStats(ctx context.Context, col string) (*models.ColumnStats, error) {
	q := p.q(col)
	stats := &models.ColumnStats{
		Name: col,
		Type: p.meta.DTypes[col],
		Kind: ColumnKind(p.meta.DTypes[col]),
	}

	switch stats.Kind {
	case models.KindNumeric:
		row, err := p.one(ctx, fmt.Sprintf(`SELECT count(*) - count(%[1]s), count(DISTINCT %[1]s),
			min(%[1]s)::DOUBLE, max(%[1]s)::DOUBLE, avg(%[1]s)::DOUBLE, median(%[1]s)::DOUBLE, stddev_samp(%[1]s)::DOUBLE
			FROM %[2]s`, q, TableName))
		if err != nil {
			return nil, err
		}
		stats.NullCount, _ = toInt64(row[0])
		p.distinct[col], _ = toInt64(row[1])
		stats.Min, stats.Max = floatPtr(row[2]), floatPtr(row[3])
		stats.Mean, stats.Median, stats.Std = floatPtr(row[4]), floatPtr(row[5]), floatPtr(row[6])

	case models.KindDatetime:
		row, err := p.one(ctx, fmt.Sprintf(`SELECT count(*) - count(%[1]s), CAST(min(%[1]s) AS VARCHAR), CAST(max(%[1]s) AS VARCHAR)
			FROM %[2]s`, q, TableName))
		if err != nil {
			return nil, err
		}
		stats.NullCount, _ = toInt64(row[0])
		stats.MinTime, _ = row[1].(string)
		stats.MaxTime, _ = row[2].(string)

	default:
		row, err := p.one(ctx, fmt.Sprintf(`SELECT count(*) - count(%[1]s), count(DISTINCT %[1]s) FROM %[2]s`, q, TableName))
		if err != nil {
			return nil, err
		}
		stats.NullCount, _ = toInt64(row[0])
		unique, _ := toInt64(row[1])
		stats.UniqueCount = &unique
		p.distinct[col] = unique

		top, err := p.repo.Query(ctx, fmt.Sprintf(`SELECT CAST(%[1]s AS VARCHAR) AS value, count(*) AS n
			FROM %[2]s WHERE %[1]s IS NOT NULL
			GROUP BY 1 ORDER BY 2 DESC, 1 LIMIT %[3]d`, q, TableName, topValues))
		if err != nil {
			return nil, err
		}
		for _, r := range top.Rows {
			n, _ := toInt64(r[1])
			stats.TopValues = append(stats.TopValues, models.ValueCount{Value: fmt.Sprint(r[0]), Count: n})
		}
	}

	if p.meta.RowCount > 0 {
		stats.NullPercentage = float64(stats.NullCount) / float64(p.meta.RowCount) * 100
	}
	return stats, nil
}

func (p *profiler) quality(ctx context.Context, stats []models.ColumnStats) (*models.DataQuality, error) {
	quality := &models.DataQuality{
		ColumnsWithMissing: make(map[string]int64),
		Outliers:           make(map[string]models.Outlier),
	}
	for _, s := range stats {
		quality.TotalMissing += s.NullCount
		if s.NullCount > 0 {
			quality.ColumnsWithMissing[s.Name] = s.NullCount
		}
	}
	rows := p.meta.RowCount
	if cells := rows * int64(p.meta.ColumnCount); cells > 0 {
		quality.MissingPercentage = float64(quality.TotalMissing) / float64(cells) * 100
	}

	row, err := p.one(ctx, fmt.Sprintf(`SELECT count(*) FROM (SELECT DISTINCT * FROM %s)`, TableName))
	if err != nil {
		return nil, err
	}
	distinct, _ := toInt64(row[0])
	quality.DuplicateRows = rows - distinct
	if rows > 0 {
		quality.DuplicatePercentage = float64(quality.DuplicateRows) / float64(rows) * 100
	}

	for _, col := range p.numeric {
		q := p.q(col)
		row, err := p.one(ctx, fmt.Sprintf(`SELECT quantile_cont(%[1]s, 0.25)::DOUBLE, quantile_cont(%[1]s, 0.75)::DOUBLE, count(%[1]s)
			FROM %[2]s`, q, TableName))
		if err != nil {
			return nil, err
		}
		q1, ok1 := toFloat(row[0])
		q3, ok3 := toFloat(row[1])
		nonNull, _ := toInt64(row[2])
		if !ok1 || !ok3 || nonNull == 0 {
			continue
		}
		iqr := q3 - q1
		lower, upper := q1-outlierFactor*iqr, q3+outlierFactor*iqr

		row, err = p.one(ctx, fmt.Sprintf(`SELECT count(*) FROM %[2]s WHERE %[1]s < ? OR %[1]s > ?`, q, TableName), lower, upper)
		if err != nil {
			return nil, err
		}
		n, _ := toInt64(row[0])
		if n == 0 {
			continue
		}
		quality.Outliers[col] = models.Outlier{
			Count:      n,
			Percentage: float64(n) / float64(nonNull) * 100,
			LowerBound: lower,
			UpperBound: upper,
		}
	}
	return quality, nil
}

// correlations returns the Pearson pairs with |r| above the threshold, rounded
// to three places, strongest first.
func (p *profiler) correlations(ctx context.Context) models.CorrelationReport {
	if len(p.numeric) < 2 {
		return models.CorrelationReport{
			Status:  "not_applicable",
			Message: "Not enough numeric columns for correlation",
			Top:     []models.Correlation{},
		}
	}

	type pair struct{ a, b string }
	var pairs []pair
	var exprs []string
	for i := 0; i < len(p.numeric); i++ {
		for j := i + 1; j < len(p.numeric); j++ {
			pairs = append(pairs, pair{p.numeric[i], p.numeric[j]})
			exprs = append(exprs, fmt.Sprintf("corr(%s::DOUBLE, %s::DOUBLE)", p.q(p.numeric[i]), p.q(p.numeric[j])))
		}
	}

	row, err := p.one(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), TableName))
	if err != nil {
		return models.CorrelationReport{Status: "error", Message: err.Error(), Top: []models.Correlation{}}
	}

	top := []models.Correlation{}
	for i, v := range row {
		r, ok := toFloat(v)
		if !ok || math.IsNaN(r) {
			continue
		}
		r = math.Round(r*1000) / 1000
		if math.Abs(r) > correlationThreshold {
			top = append(top, models.Correlation{Column1: pairs[i].a, Column2: pairs[i].b, Value: r})
		}
	}
	sort.SliceStable(top, func(i, j int) bool { return math.Abs(top[i].Value) > math.Abs(top[j].Value) })
	if len(top) > maxCorrelations {
		top = top[:maxCorrelations]
	}
	return models.CorrelationReport{Status: "success", Top: top}
}

func (p *profiler) visualizations() []models.Visualization {
	out := []models.Visualization{}
	first := func(s []string, n int) []string {
		if len(s) > n {
			return s[:n]
		}
		return s
	}

	for _, col := range first(p.numeric, 3) {
		bins := 30
		if u := p.distinct[col]; u < 100 {
			bins = int(math.Min(30, math.Max(10, float64(u/2))))
		}
		out = append(out, models.Visualization{
			Type:        "histogram",
			Title:       "Distribution of " + col,
			Description: "Histogram showing the distribution of values for " + col,
			Config:      map[string]string{"x": col, "nbins": strconv.Itoa(bins)},
		})
	}

	for _, col := range first(p.categorical, 3) {
		if p.distinct[col] <= 15 {
			out = append(out, models.Visualization{
				Type:        "bar",
				Title:       "Count of " + col,
				Description: "Bar chart showing counts for each value of " + col,
				Config:      map[string]string{"x": col, "y": "count"},
			})
		}
	}

	if len(p.datetime) > 0 {
		date := p.datetime[0]
		for _, num := range first(p.numeric, 2) {
			out = append(out, models.Visualization{
				Type:        "line",
				Title:       num + " over " + date,
				Description: "Line chart showing " + num + " values over time",
				Config:      map[string]string{"x": date, "y": num},
			})
		}
	}

	for i, a := range first(p.numeric, 3) {
		end := i + 3
		if end > len(p.numeric) {
			end = len(p.numeric)
		}
		for _, b := range p.numeric[i+1 : end] {
			out = append(out, models.Visualization{
				Type:        "scatter",
				Title:       a + " vs " + b,
				Description: "Scatter plot showing relationship between " + a + " and " + b,
				Config:      map[string]string{"x": a, "y": b},
			})
		}
	}

	if len(p.numeric) >= 4 {
		out = append(out, models.Visualization{
			Type:        "heatmap",
			Title:       "Correlation Matrix",
			Description: "Heatmap showing correlations between numeric columns",
			Config:      map[string]string{"columns": strings.Join(p.numeric, ",")},
		})
	}

	for _, num := range first(p.numeric, 3) {
		if len(p.categorical) > 0 && p.distinct[p.categorical[0]] <= 10 {
			cat := p.categorical[0]
			out = append(out, models.Visualization{
				Type:        "box",
				Title:       num + " by " + cat,
				Description: "Box plot showing distribution of " + num + " across " + cat + " categories",
				Config:      map[string]string{"x": cat, "y": num},
			})
			continue
		}
		out = append(out, models.Visualization{
			Type:        "box",
			Title:       "Distribution of " + num,
			Description: "Box plot showing distribution of " + num,
			Config:      map[string]string{"y": num},
		})
	}
	return out
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case nil:
		return 0, false
	default:
		i, ok := toInt64(v)
		return float64(i), ok
	}
}

func floatPtr(v interface{}) *float64 {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) {
		return nil
	}
	return &f
}
