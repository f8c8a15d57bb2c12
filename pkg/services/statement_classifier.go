package services

import (
	"regexp"
	"strings"

	"github.com/TFMV/quarry/pkg/errors"
)

// StatementType represents the type of SQL statement.
type StatementType int

const (
	StatementTypeDDL     StatementType = iota // CREATE, DROP, ALTER, TRUNCATE
	StatementTypeDML                          // INSERT, UPDATE, DELETE, MERGE, COPY
	StatementTypeDQL                          // SELECT, WITH, VALUES, TABLE, FROM
	StatementTypeTCL                          // BEGIN, COMMIT, ROLLBACK, SAVEPOINT
	StatementTypeDCL                          // GRANT, REVOKE
	StatementTypeUtility                      // SHOW, DESCRIBE, EXPLAIN, PRAGMA, ATTACH...
	StatementTypeOther                        // Unrecognized statements
)

// String returns the string representation of the statement type.
func (st StatementType) String() string {
	switch st {
	case StatementTypeDDL:
		return "DDL"
	case StatementTypeDML:
		return "DML"
	case StatementTypeDQL:
		return "DQL"
	case StatementTypeTCL:
		return "TCL"
	case StatementTypeDCL:
		return "DCL"
	case StatementTypeUtility:
		return "UTILITY"
	case StatementTypeOther:
		return "OTHER"
	default:
		return "UNKNOWN"
	}
}

var leadingKeywords = map[string]StatementType{
	"CREATE":     StatementTypeDDL,
	"DROP":       StatementTypeDDL,
	"ALTER":      StatementTypeDDL,
	"TRUNCATE":   StatementTypeDDL,
	"RENAME":     StatementTypeDDL,
	"COMMENT":    StatementTypeDDL,
	"INSERT":     StatementTypeDML,
	"UPDATE":     StatementTypeDML,
	"DELETE":     StatementTypeDML,
	"REPLACE":    StatementTypeDML,
	"MERGE":      StatementTypeDML,
	"UPSERT":     StatementTypeDML,
	"COPY":       StatementTypeDML,
	"SELECT":     StatementTypeDQL,
	"WITH":       StatementTypeDQL,
	"VALUES":     StatementTypeDQL,
	"TABLE":      StatementTypeDQL,
	"FROM":       StatementTypeDQL,
	"BEGIN":      StatementTypeTCL,
	"START":      StatementTypeTCL,
	"COMMIT":     StatementTypeTCL,
	"END":        StatementTypeTCL,
	"ROLLBACK":   StatementTypeTCL,
	"ABORT":      StatementTypeTCL,
	"SAVEPOINT":  StatementTypeTCL,
	"RELEASE":    StatementTypeTCL,
	"GRANT":      StatementTypeDCL,
	"REVOKE":     StatementTypeDCL,
	"DENY":       StatementTypeDCL,
	"SHOW":       StatementTypeUtility,
	"DESCRIBE":   StatementTypeUtility,
	"DESC":       StatementTypeUtility,
	"EXPLAIN":    StatementTypeUtility,
	"SUMMARIZE":  StatementTypeUtility,
	"ANALYZE":    StatementTypeUtility,
	"SET":        StatementTypeUtility,
	"RESET":      StatementTypeUtility,
	"USE":        StatementTypeUtility,
	"PRAGMA":     StatementTypeUtility,
	"ATTACH":     StatementTypeUtility,
	"DETACH":     StatementTypeUtility,
	"INSTALL":    StatementTypeUtility,
	"LOAD":       StatementTypeUtility,
	"EXPORT":     StatementTypeUtility,
	"IMPORT":     StatementTypeUtility,
	"CALL":       StatementTypeUtility,
	"CHECKPOINT": StatementTypeUtility,
	"VACUUM":     StatementTypeUtility,
}

// Utilities that only inspect data. EXPLAIN is handled separately.
var readOnlyUtilities = map[string]bool{
	"SHOW":      true,
	"DESCRIBE":  true,
	"DESC":      true,
	"SUMMARIZE": true,
}

var (
	leadingWord = regexp.MustCompile(`^[A-Z_]+`)

	// REPLACE is left out: it is also a string function and a star modifier.
	writeKeyword = regexp.MustCompile(`\b(INSERT|UPDATE|DELETE|MERGE|UPSERT|CREATE|DROP|ALTER|TRUNCATE|GRANT|REVOKE|COPY|ATTACH|DETACH|INSTALL|LOAD|PRAGMA|EXPORT|IMPORT|CALL|SET|INTO|VACUUM|CHECKPOINT)\b`)

	fileFunction = regexp.MustCompile(`(?i)\b(read_csv|read_csv_auto|read_parquet|parquet_scan|parquet_metadata|read_json|read_json_auto|read_json_objects|read_ndjson|read_ndjson_objects|read_text|read_blob|read_xlsx|sniff_csv|glob|pg_read_file|pg_read_binary_file|pg_ls_dir|pg_stat_file|lo_import|lo_export|load_file|dblink|getenv|sqlite_scan|sqlite_attach|postgres_scan|mysql_scan)\s*\(`)

	// DuckDB scans a quoted path used in place of a table name.
	fileScan = regexp.MustCompile(`\b(FROM|JOIN)\s+'`)
)

// StatementClassifier recognizes statements and decides whether they may run
// against user data.
type StatementClassifier struct{}

// NewStatementClassifier creates a classifier.
func NewStatementClassifier() *StatementClassifier {
	return &StatementClassifier{}
}

// ClassifyStatement returns the type of the first statement in sql.
func (c *StatementClassifier) ClassifyStatement(sql string) StatementType {
	masked, err := mask(sql)
	if err != nil {
		return StatementTypeOther
	}
	return classify(masked)
}

func classify(masked string) StatementType {
	stmt := strings.TrimLeft(strings.TrimSpace(masked), "( \t\r\n")
	word := leadingWord.FindString(strings.ToUpper(stmt))
	if t, ok := leadingKeywords[word]; ok {
		return t
	}
	return StatementTypeOther
}

// IsQueryStatement reports whether sql returns rows.
func (c *StatementClassifier) IsQueryStatement(sql string) bool {
	t := c.ClassifyStatement(sql)
	return t == StatementTypeDQL || t == StatementTypeUtility
}

// IsUpdateStatement reports whether sql modifies data or schema.
func (c *StatementClassifier) IsUpdateStatement(sql string) bool {
	t := c.ClassifyStatement(sql)
	return t == StatementTypeDDL || t == StatementTypeDML
}

// IsReadOnly reports whether ValidateReadOnly accepts sql.
func (c *StatementClassifier) IsReadOnly(sql string) bool {
	return c.ValidateReadOnly(sql) == nil
}

// ValidateReadOnly accepts exactly one query or inspection statement. Writes,
// multiple statements and functions that reach the file system fail with
// UNSAFE_STATEMENT; malformed input fails with INVALID_REQUEST.
func (c *StatementClassifier) ValidateReadOnly(sql string) error {
	masked, err := mask(sql)
	if err != nil {
		return err
	}

	var stmts []string
	for _, s := range strings.Split(masked, ";") {
		if strings.TrimSpace(s) != "" {
			stmts = append(stmts, s)
		}
	}
	switch len(stmts) {
	case 0:
		return errors.New(errors.CodeInvalidRequest, "empty statement")
	case 1:
	default:
		return unsafe("multiple statements")
	}
	return checkReadOnly(strings.ToUpper(strings.TrimSpace(stmts[0])))
}

func checkReadOnly(stmt string) error {
	t := classify(stmt)
	word := leadingWord.FindString(strings.TrimLeft(stmt, "( \t\r\n"))
	switch {
	case word == "EXPLAIN":
		inner := strings.TrimSpace(strings.TrimPrefix(stmt, "EXPLAIN"))
		inner = strings.TrimSpace(strings.TrimPrefix(inner, "ANALYZE"))
		if inner == "" {
			return unsafe("EXPLAIN without a statement")
		}
		return checkReadOnly(inner)
	case t == StatementTypeDQL, readOnlyUtilities[word]:
	default:
		return unsafe(t.String() + " statement " + word)
	}

	if m := writeKeyword.FindString(stmt); m != "" {
		return unsafe("contains " + m)
	}
	if m := fileFunction.FindStringSubmatch(stmt); m != nil {
		return unsafe("calls " + strings.ToLower(m[1]))
	}
	if fileScan.MatchString(stmt) {
		return unsafe("reads a file path")
	}
	return nil
}

func unsafe(reason string) error {
	return errors.ErrUnsafeStatement.WithDetail("reason", reason)
}

// mask blanks out comments and the contents of quoted strings and
// identifiers so that keywords are only matched in SQL text. Quotes are kept.
func mask(sql string) (string, error) {
	const (
		normal = iota
		single
		double
		lineComment
		blockComment
	)
	var b strings.Builder
	b.Grow(len(sql))
	state := normal
	depth := 0
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		var next byte
		if i+1 < len(sql) {
			next = sql[i+1]
		}
		switch state {
		case normal:
			switch {
			case ch == '-' && next == '-':
				state = lineComment
				i++
				b.WriteByte(' ')
			case ch == '/' && next == '*':
				state = blockComment
				i++
				b.WriteByte(' ')
			case ch == '\'':
				state = single
				b.WriteByte(ch)
			case ch == '"':
				state = double
				b.WriteByte(ch)
			case ch == '(':
				depth++
				b.WriteByte(ch)
			case ch == ')':
				depth--
				if depth < 0 {
					return "", errors.New(errors.CodeInvalidRequest, "unbalanced parentheses")
				}
				b.WriteByte(ch)
			default:
				b.WriteByte(ch)
			}
		case single, double:
			quote := byte('\'')
			if state == double {
				quote = '"'
			}
			if ch == quote {
				state = normal
				b.WriteByte(ch)
			} else {
				b.WriteByte('x')
			}
		case lineComment:
			if ch == '\n' {
				state = normal
				b.WriteByte(ch)
			}
		case blockComment:
			if ch == '*' && next == '/' {
				state = normal
				i++
			}
		}
	}

	switch {
	case state == single || state == double:
		return "", errors.New(errors.CodeInvalidRequest, "unterminated quoted string")
	case state == blockComment:
		return "", errors.New(errors.CodeInvalidRequest, "unterminated comment")
	case depth != 0:
		return "", errors.New(errors.CodeInvalidRequest, "unbalanced parentheses")
	}
	return b.String(), nil
}
