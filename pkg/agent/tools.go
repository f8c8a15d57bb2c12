package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/explorer"
	"github.com/TFMV/quarry/pkg/models"
)

// Tool names
const (
	ToolExploreDatabase     = "explore_database"
	ToolGetExplorationNotes = "get_exploration_notes"
	ToolExecuteQuery        = "execute_query"
	ToolExecuteAggregation  = "execute_aggregation"
	ToolGetCollectionSample = "get_collection_sample"
	ToolCountDocuments      = "count_documents"
	ToolGetDistinctValues   = "get_distinct_values"
	ToolGetConnectionStatus = "get_connection_status"
)

type toolFunc func(ctx context.Context, args toolArgs) string

// Toolbox dispatches tool calls to an explorer. Every tool returns text and
// failures are reported as "Error ..." strings.
type Toolbox struct {
	explorer explorer.DatabaseExplorer
	logger   zerolog.Logger
	tools    map[string]toolFunc
}

// NewToolbox creates the fixed tool table over x.
func NewToolbox(x explorer.DatabaseExplorer, logger zerolog.Logger) *Toolbox {
	tb := &Toolbox{
		explorer: x,
		logger:   logger.With().Str("component", "toolbox").Logger(),
	}
	tb.tools = map[string]toolFunc{
		ToolExploreDatabase:     tb.exploreDatabase,
		ToolGetExplorationNotes: tb.explorationNotes,
		ToolExecuteQuery:        tb.executeQuery,
		ToolExecuteAggregation:  tb.executeAggregation,
		ToolGetCollectionSample: tb.collectionSample,
		ToolCountDocuments:      tb.countDocuments,
		ToolGetDistinctValues:   tb.distinctValues,
		ToolGetConnectionStatus: tb.connectionStatus,
	}
	return tb
}

// Names returns the tool names, sorted.
func (tb *Toolbox) Names() []string {
	names := make([]string, 0, len(tb.tools))
	for name := range tb.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var mongoSignatures = map[string]string{
	ToolExploreDatabase:     "{}",
	ToolGetExplorationNotes: "{}",
	ToolExecuteQuery:        `{"collection", "filter": {...}, "projection": {...}, "sort": {"field": 1|-1}, "limit", "offset"}`,
	ToolExecuteAggregation:  `{"collection", "pipeline": [{...}]}`,
	ToolGetCollectionSample: `{"collection", "count"}`,
	ToolCountDocuments:      `{"collection", "filter": {...}}`,
	ToolGetDistinctValues:   `{"collection", "field", "filter": {...}}`,
	ToolGetConnectionStatus: "{}",
}

var sqlSignatures = map[string]string{
	ToolExploreDatabase:     "{}",
	ToolGetExplorationNotes: "{}",
	ToolExecuteQuery:        `{"table", "where", "order_by", "limit", "offset"} or {"query": "SELECT ..."}`,
	ToolExecuteAggregation:  `{"table", "group_by": [...], "aggregations": {"alias": "SUM(col)"}, "having", "order_by", "limit"} or {"query": "SELECT ..."}`,
	ToolGetCollectionSample: `{"table", "count"}`,
	ToolCountDocuments:      `{"table", "where"}`,
	ToolGetDistinctValues:   `{"table", "field", "where"}`,
	ToolGetConnectionStatus: "{}",
}

// Signatures returns one "name(args)" line per tool, sorted, with the argument
// keys the current backend understands.
func (tb *Toolbox) Signatures() []string {
	sigs := mongoSignatures
	if tb.explorer.Backend() == models.BackendSQL {
		sigs = sqlSignatures
	}
	names := tb.Names()
	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, name+" "+sigs[name])
	}
	return lines
}

// Call runs one tool call.
func (tb *Toolbox) Call(ctx context.Context, call ToolCall) string {
	fn, ok := tb.tools[call.Function]
	if !ok {
		return fmt.Sprintf("Error: Unknown function '%s'. Available functions: %s",
			call.Function, strings.Join(tb.Names(), ", "))
	}

	var args toolArgs
	if len(call.Args) > 0 && string(call.Args) != "null" {
		if err := json.Unmarshal(call.Args, &args); err != nil {
			return fmt.Sprintf("Error: Invalid arguments for %s: %v", call.Function, err)
		}
	}

	tb.logger.Info().Str("function", call.Function).Str("entity", args.entity()).Msg("Executing tool")
	return fn(ctx, args)
}

// toolArgs is the union of every tool's arguments. Filter, projection and
// pipeline stay raw so key order survives into the backend.
type toolArgs struct {
	Collection     string            `json:"collection"`
	CollectionName string            `json:"collection_name"`
	Table          string            `json:"table"`
	Query          json.RawMessage   `json:"query"`
	Filter         json.RawMessage   `json:"filter"`
	Projection     json.RawMessage   `json:"projection"`
	Sort           json.RawMessage   `json:"sort"`
	Limit          int64             `json:"limit"`
	Offset         int64             `json:"offset"`
	Where          string            `json:"where"`
	OrderBy        string            `json:"order_by"`
	Pipeline       []json.RawMessage `json:"pipeline"`
	GroupBy        []string          `json:"group_by"`
	Aggregations   map[string]string `json:"aggregations"`
	Having         string            `json:"having"`
	Field          string            `json:"field"`
	Count          int               `json:"count"`
}

func (a toolArgs) entity() string {
	switch {
	case a.Collection != "":
		return a.Collection
	case a.CollectionName != "":
		return a.CollectionName
	default:
		return a.Table
	}
}

// filter returns the filter, accepting "query" as its older name either as an
// object or as a string holding one. For SQL backends a string filter is a
// WHERE expression.
func (a toolArgs) filter() json.RawMessage {
	if len(a.Filter) > 0 {
		return a.Filter
	}
	if isJSONObject(a.Query) {
		return a.Query
	}
	var s string
	if json.Unmarshal(a.Query, &s) == nil && isJSONObject(json.RawMessage(s)) && json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	return nil
}

// rawSQL returns query when it is a string that is not a JSON object.
func (a toolArgs) rawSQL() string {
	var s string
	if len(a.Query) == 0 || json.Unmarshal(a.Query, &s) != nil || isJSONObject(json.RawMessage(s)) {
		return ""
	}
	return s
}

// entityFilter resolves the filter for count and distinct. SQL backends fall
// back to "where" and then to a plain-string "query" as the WHERE expression.
// It reports false when a MongoDB call passes a query that is not JSON.
func (tb *Toolbox) entityFilter(args toolArgs) (json.RawMessage, bool) {
	filter := args.filter()
	if tb.explorer.Backend() == models.BackendMongoDB {
		return filter, args.rawSQL() == ""
	}
	if filter != nil {
		return filter, true
	}
	where := args.Where
	if where == "" {
		where = args.rawSQL()
	}
	if strings.TrimSpace(where) == "" {
		return nil, true
	}
	encoded, _ := json.Marshal(where)
	return encoded, true
}

func (tb *Toolbox) exploreDatabase(ctx context.Context, _ toolArgs) string {
	snap, err := tb.explorer.ExploreDatabase(ctx)
	if err != nil {
		return tb.fail("exploring database", err)
	}

	kind, unit := tb.explorer.EntityKind(), tb.unit()
	var b strings.Builder
	fmt.Fprintf(&b, "Database exploration completed. Found %d %ss:", snap.EntityCount(), kind)
	if snap.Backend == models.BackendSQL {
		for _, name := range sortedNames(snap.Tables) {
			fmt.Fprintf(&b, "\n- %s: %d %s", name, snap.Tables[name].Count, unit)
		}
	} else {
		for _, name := range sortedNames(snap.Collections) {
			fmt.Fprintf(&b, "\n- %s: %d %s", name, snap.Collections[name].Count, unit)
		}
	}
	return b.String()
}

func (tb *Toolbox) explorationNotes(_ context.Context, _ toolArgs) string {
	return tb.explorer.GenerateNotes()
}

func (tb *Toolbox) executeQuery(ctx context.Context, args toolArgs) string {
	params := models.QueryParams{
		Query:      args.rawSQL(),
		Filter:     args.filter(),
		Projection: args.Projection,
		Where:      args.Where,
		OrderBy:    args.OrderBy,
		Limit:      args.Limit,
		Offset:     args.Offset,
	}
	if params.Query != "" && tb.explorer.Backend() == models.BackendMongoDB {
		return "Error: Invalid query JSON format. The query could not be parsed."
	}
	if len(args.Sort) > 0 {
		sortFields, err := parseSort(args.Sort)
		if err != nil {
			return "Error: Invalid sort JSON format. The sort specification could not be parsed."
		}
		params.Sort = sortFields
	}

	result, err := tb.explorer.ExecuteQuery(ctx, args.entity(), params)
	if err != nil {
		return tb.fail("executing query", err)
	}
	return FormatResult("Query", result)
}

func (tb *Toolbox) executeAggregation(ctx context.Context, args toolArgs) string {
	params := models.AggregationParams{
		Pipeline:     args.Pipeline,
		Query:        args.rawSQL(),
		GroupBy:      args.GroupBy,
		Aggregations: args.Aggregations,
		Having:       args.Having,
		OrderBy:      args.OrderBy,
		Limit:        args.Limit,
	}
	if tb.explorer.Backend() == models.BackendMongoDB {
		if params.Query != "" {
			return "Error: Invalid aggregation pipeline JSON format."
		}
		if err := tb.requireEntity(ctx, args.entity()); err != nil {
			return tb.fail("executing aggregation", err)
		}
	}

	result, err := tb.explorer.ExecuteAggregation(ctx, args.entity(), params)
	if err != nil {
		return tb.fail("executing aggregation", err)
	}
	return FormatResult("Aggregation", result)
}

func (tb *Toolbox) collectionSample(ctx context.Context, args toolArgs) string {
	name := args.entity()
	result, err := tb.explorer.Sample(ctx, name, args.Count)
	if err != nil {
		return tb.fail("retrieving sample", err)
	}
	if result.Empty() {
		return fmt.Sprintf("No %s found in %s '%s'.", tb.unit(), tb.explorer.EntityKind(), name)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result.Documents()); err != nil {
		return tb.fail("encoding sample", err)
	}
	return fmt.Sprintf("Sample of %d %s from '%s':\n%s", result.Len(), tb.unit(), name, strings.TrimRight(buf.String(), "\n"))
}

func (tb *Toolbox) countDocuments(ctx context.Context, args toolArgs) string {
	name := args.entity()
	filter, ok := tb.entityFilter(args)
	if !ok {
		return "Error: Invalid query JSON format"
	}

	count, err := tb.explorer.Count(ctx, name, filter)
	if err != nil {
		return tb.fail("counting documents", err)
	}

	suffix := ""
	if !isEmptyFilter(filter) {
		suffix = " matching query " + compactJSON(filter)
	}
	return fmt.Sprintf("%s '%s' contains %d %s%s.", capitalize(tb.explorer.EntityKind()), name, count, tb.unit(), suffix)
}

func (tb *Toolbox) distinctValues(ctx context.Context, args toolArgs) string {
	name := args.entity()
	filter, ok := tb.entityFilter(args)
	if !ok {
		return "Error: Invalid query JSON format"
	}
	values, err := tb.explorer.Distinct(ctx, name, args.Field, filter)
	if err != nil {
		return tb.fail("getting distinct values", err)
	}
	if len(values) == 0 {
		return fmt.Sprintf("No distinct values found for field '%s' in %s '%s'.", args.Field, tb.explorer.EntityKind(), name)
	}

	shown := values
	if len(shown) > MaxDistinctValues {
		shown = shown[:MaxDistinctValues]
	}
	encoded, err := json.Marshal(shown)
	if err != nil {
		return tb.fail("encoding distinct values", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d distinct values for field '%s' in %s '%s'.\n", len(values), args.Field, tb.explorer.EntityKind(), name)
	fmt.Fprintf(&b, "Values: %s", encoded)
	if extra := len(values) - MaxDistinctValues; extra > 0 {
		fmt.Fprintf(&b, "\n... and %d more values", extra)
	}
	return b.String()
}

func (tb *Toolbox) connectionStatus(ctx context.Context, _ toolArgs) string {
	status := tb.explorer.ConnectionStatus(ctx)
	backend := "MongoDB"
	if tb.explorer.Backend() == models.BackendSQL {
		backend = "SQL"
	}
	if !status.Connected {
		if status.Error != "" {
			return fmt.Sprintf("Not connected to %s: %s", backend, status.Error)
		}
		return fmt.Sprintf("Not connected to %s. Check connection parameters.", backend)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Connected to %s database: %s\n", backend, status.DatabaseName)
	fmt.Fprintf(&b, "%ss: %d", capitalize(tb.explorer.EntityKind()), status.EntityCount)
	if tb.explorer.Backend() == models.BackendMongoDB {
		fmt.Fprintf(&b, "\nStorage size: %s bytes", statOrUnknown(status.DatabaseStats, "storageSize"))
		fmt.Fprintf(&b, "\nObjects: %s", statOrUnknown(status.DatabaseStats, "objects"))
		fmt.Fprintf(&b, "\nIndexes: %s", statOrUnknown(status.DatabaseStats, "indexes"))
	}
	return b.String()
}

func (tb *Toolbox) requireEntity(ctx context.Context, name string) error {
	names, err := tb.explorer.Entities(ctx)
	if err != nil {
		return err
	}
	for _, n := range names {
		if n == name {
			return nil
		}
	}
	if tb.explorer.Backend() == models.BackendSQL {
		return errors.ErrTableNotFound.WithDetail("table", name)
	}
	return errors.ErrCollectionNotFound.WithDetail("collection", name)
}

// fail renders err. Missing collections and tables get the fixed
// "does not exist" message.
func (tb *Toolbox) fail(action string, err error) string {
	if errors.IsNotFound(err) {
		details := errors.GetDetails(err)
		for _, key := range []string{"collection", "table"} {
			if name, ok := details[key]; ok {
				return fmt.Sprintf("Error: %s '%v' does not exist in the database.", capitalize(key), name)
			}
		}
	}
	tb.logger.Error().Err(err).Str("action", action).Msg("Tool failed")
	return fmt.Sprintf("Error %s: %v", action, err)
}

func (tb *Toolbox) unit() string {
	if tb.explorer.Backend() == models.BackendSQL {
		return "rows"
	}
	return "documents"
}

// parseSort accepts {"field": 1, "other": -1} in key order, or a list of
// {"field": f, "direction": d}.
func parseSort(raw json.RawMessage) ([]models.SortField, error) {
	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
		var fields []models.SortField
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
		return fields, nil
	}

	var doc models.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	fields := make([]models.SortField, 0, len(doc))
	for _, f := range doc {
		dir := 1
		switch v := f.Value.(type) {
		case int64:
			if v < 0 {
				dir = -1
			}
		case float64:
			if v < 0 {
				dir = -1
			}
		case string:
			if strings.EqualFold(v, "desc") || v == "-1" {
				dir = -1
			}
		}
		fields = append(fields, models.SortField{Field: f.Key, Direction: dir})
	}
	return fields, nil
}

func isJSONObject(raw json.RawMessage) bool {
	return bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{"))
}

func isEmptyFilter(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null" || s == "{}" || s == `""`
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func statOrUnknown(stats map[string]interface{}, key string) string {
	if v, ok := stats[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return "unknown"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
