package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/quarry/pkg/errors"
)

func TestStatementClassifier_ClassifyStatement(t *testing.T) {
	classifier := NewStatementClassifier()

	tests := []struct {
		name     string
		sql      string
		expected StatementType
	}{
		// DDL statements
		{"CREATE TABLE", "CREATE TABLE test (id INT)", StatementTypeDDL},
		{"DROP TABLE", "DROP TABLE test", StatementTypeDDL},
		{"ALTER TABLE", "ALTER TABLE test ADD COLUMN name VARCHAR(50)", StatementTypeDDL},
		{"CREATE lowercase", "create table test3 (id int)", StatementTypeDDL},

		// DML statements
		{"INSERT", "INSERT INTO test VALUES (1)", StatementTypeDML},
		{"UPDATE", "UPDATE test SET id = 2", StatementTypeDML},
		{"DELETE", "DELETE FROM test WHERE id = 1", StatementTypeDML},
		{"COPY", "COPY data TO 'out.csv'", StatementTypeDML},

		// DQL statements
		{"SELECT", "SELECT * FROM test", StatementTypeDQL},
		{"WITH CTE", "WITH cte AS (SELECT * FROM test) SELECT * FROM cte", StatementTypeDQL},
		{"FROM first", "FROM data LIMIT 5", StatementTypeDQL},
		{"parenthesized", "(SELECT 1) UNION (SELECT 2)", StatementTypeDQL},
		{"leading comment", "-- top rows\nSELECT * FROM data", StatementTypeDQL},

		// TCL and DCL
		{"BEGIN", "BEGIN TRANSACTION", StatementTypeTCL},
		{"GRANT", "GRANT SELECT ON test TO bob", StatementTypeDCL},

		// Utility statements
		{"SHOW", "SHOW TABLES", StatementTypeUtility},
		{"DESCRIBE", "DESCRIBE test", StatementTypeUtility},
		{"SUMMARIZE", "SUMMARIZE data", StatementTypeUtility},
		{"PRAGMA", "PRAGMA table_info(test)", StatementTypeUtility},

		// Edge cases
		{"Empty string", "", StatementTypeOther},
		{"Whitespace only", "   ", StatementTypeOther},
		{"Unknown statement", "UNKNOWN STATEMENT", StatementTypeOther},
		{"Comment only", "-- This is a comment", StatementTypeOther},
		{"Unterminated string", "SELECT 'abc", StatementTypeOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, classifier.ClassifyStatement(tt.sql))
		})
	}
}

func TestStatementClassifier_QueryAndUpdate(t *testing.T) {
	classifier := NewStatementClassifier()

	assert.True(t, classifier.IsQueryStatement("SELECT 1"))
	assert.True(t, classifier.IsQueryStatement("SHOW TABLES"))
	assert.False(t, classifier.IsQueryStatement("DELETE FROM t"))
	assert.True(t, classifier.IsUpdateStatement("DELETE FROM t"))
	assert.True(t, classifier.IsUpdateStatement("DROP TABLE t"))
	assert.False(t, classifier.IsUpdateStatement("SELECT 1"))
}

func TestStatementClassifier_ValidateReadOnly(t *testing.T) {
	classifier := NewStatementClassifier()

	accepted := []string{
		"SELECT * FROM data LIMIT 10",
		"select count(*) from data;",
		"WITH t AS (SELECT city, avg(price) p FROM data GROUP BY city) SELECT * FROM t ORDER BY p DESC",
		"SELECT * FROM data WHERE note = 'delete me; drop table data'",
		"SELECT \"update\" FROM data",
		"SELECT replace(name, 'a', 'b') FROM data",
		"SELECT updated_at, created_by FROM data",
		"DESCRIBE data",
		"SUMMARIZE data",
		"SHOW TABLES",
		"EXPLAIN SELECT * FROM data",
		"/* top */ SELECT 1 -- trailing",
		"FROM data SELECT city",
		"VALUES (1), (2)",
	}
	for _, sql := range accepted {
		t.Run("accepts "+sql, func(t *testing.T) {
			assert.NoError(t, classifier.ValidateReadOnly(sql))
			assert.True(t, classifier.IsReadOnly(sql))
		})
	}

	rejected := []struct {
		sql    string
		reason string
	}{
		{"DROP TABLE data", "DDL statement DROP"},
		{"DELETE FROM data", "DML statement DELETE"},
		{"INSERT INTO data VALUES (1)", "DML statement INSERT"},
		{"UPDATE data SET x = 1", "DML statement UPDATE"},
		{"SELECT 1; DROP TABLE data", "multiple statements"},
		{"WITH d AS (DELETE FROM data RETURNING *) SELECT * FROM d", "contains DELETE"},
		{"SELECT * INTO backup FROM data", "contains INTO"},
		{"SELECT * FROM read_csv_auto('/etc/passwd')", "calls read_csv_auto"},
		{"SELECT * FROM READ_PARQUET ('s3://bucket/x.parquet')", "calls read_parquet"},
		{"SELECT pg_read_file('/etc/passwd')", "calls pg_read_file"},
		{"SELECT * FROM '/etc/passwd'", "reads a file path"},
		{"SELECT * FROM data JOIN 'other.csv' USING (id)", "reads a file path"},
		{"ATTACH 'other.db'", "UTILITY statement ATTACH"},
		{"INSTALL httpfs", "UTILITY statement INSTALL"},
		{"PRAGMA table_info(data)", "UTILITY statement PRAGMA"},
		{"SET threads = 1", "UTILITY statement SET"},
		{"EXPLAIN ANALYZE DELETE FROM data", "DML statement DELETE"},
		{"EXPLAIN", "EXPLAIN without a statement"},
		{"COMMIT", "TCL statement COMMIT"},
	}
	for _, tt := range rejected {
		t.Run("rejects "+tt.sql, func(t *testing.T) {
			err := classifier.ValidateReadOnly(tt.sql)
			require.Error(t, err)
			assert.Equal(t, errors.CodeUnsafeStatement, errors.GetCode(err))
			assert.Equal(t, tt.reason, errors.GetDetails(err)["reason"])
			assert.False(t, classifier.IsReadOnly(tt.sql))
		})
	}

	malformed := []string{
		"",
		"  ;  ",
		"-- only a comment",
		"SELECT 'unterminated",
		"SELECT (1",
		"SELECT 1)",
		"SELECT /* open",
	}
	for _, sql := range malformed {
		t.Run("malformed "+sql, func(t *testing.T) {
			err := classifier.ValidateReadOnly(sql)
			require.Error(t, err)
			assert.True(t, errors.IsInvalidRequest(err))
		})
	}
}
