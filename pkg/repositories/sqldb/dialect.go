package sqldb

import (
	"strings"

	"github.com/TFMV/quarry/pkg/infrastructure/pool"
)

// dialect holds the catalog queries of one database engine. Every query takes
// the table name as its only argument.
//
//	columns     → name, type, 'YES'|'NO' nullable, default
//	primaryKey  → column
//	foreignKeys → constraint, column, referred table, referred column
//	indexes     → index, unique flag, column (or CREATE INDEX sql when indexSQL)
type dialect struct {
	name        string
	quoteChar   string
	tables      string
	columns     string
	primaryKey  string
	foreignKeys string
	indexes     string
	indexSQL    bool
	anonFKs     bool
}

func (d dialect) quote(ident string) string {
	return d.quoteChar + strings.ReplaceAll(ident, d.quoteChar, d.quoteChar+d.quoteChar) + d.quoteChar
}

var dialects = map[string]dialect{
	pool.DriverPostgres: {
		name:      pool.DriverPostgres,
		quoteChar: `"`,
		tables: `SELECT table_name FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
			ORDER BY table_name`,
		columns: `SELECT column_name, data_type, is_nullable, column_default
			FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1
			ORDER BY ordinal_position`,
		primaryKey: `SELECT kcu.column_name
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
				ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
			WHERE tc.constraint_type = 'PRIMARY KEY'
				AND tc.table_schema = current_schema() AND tc.table_name = $1
			ORDER BY kcu.ordinal_position`,
		foreignKeys: `SELECT tc.constraint_name, kcu.column_name, ccu.table_name, ccu.column_name
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
				ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
			JOIN information_schema.constraint_column_usage ccu
				ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
			WHERE tc.constraint_type = 'FOREIGN KEY'
				AND tc.table_schema = current_schema() AND tc.table_name = $1
			ORDER BY tc.constraint_name, kcu.ordinal_position`,
		indexes: `SELECT i.relname, ix.indisunique, a.attname
			FROM pg_class t
			JOIN pg_namespace n ON n.oid = t.relnamespace
			JOIN pg_index ix ON t.oid = ix.indrelid
			JOIN pg_class i ON i.oid = ix.indexrelid
			JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
			WHERE t.relname = $1 AND n.nspname = current_schema() AND NOT ix.indisprimary
			ORDER BY i.relname, a.attnum`,
	},
	pool.DriverMySQL: {
		name:      pool.DriverMySQL,
		quoteChar: "`",
		tables: `SELECT table_name FROM information_schema.tables
			WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
			ORDER BY table_name`,
		columns: `SELECT column_name, column_type, is_nullable, column_default
			FROM information_schema.columns
			WHERE table_schema = DATABASE() AND table_name = ?
			ORDER BY ordinal_position`,
		primaryKey: `SELECT column_name FROM information_schema.key_column_usage
			WHERE table_schema = DATABASE() AND table_name = ? AND constraint_name = 'PRIMARY'
			ORDER BY ordinal_position`,
		foreignKeys: `SELECT constraint_name, column_name, referenced_table_name, referenced_column_name
			FROM information_schema.key_column_usage
			WHERE table_schema = DATABASE() AND table_name = ? AND referenced_table_name IS NOT NULL
			ORDER BY constraint_name, ordinal_position`,
		indexes: `SELECT index_name, CASE WHEN non_unique = 0 THEN 1 ELSE 0 END, column_name
			FROM information_schema.statistics
			WHERE table_schema = DATABASE() AND table_name = ? AND index_name <> 'PRIMARY'
			ORDER BY index_name, seq_in_index`,
	},
	pool.DriverSQLite: {
		name:      pool.DriverSQLite,
		quoteChar: `"`,
		tables: `SELECT name FROM sqlite_master
			WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
			ORDER BY name`,
		columns: `SELECT name, type, CASE WHEN "notnull" = 0 THEN 'YES' ELSE 'NO' END, dflt_value
			FROM pragma_table_info(?)
			ORDER BY cid`,
		primaryKey: `SELECT name FROM pragma_table_info(?) WHERE pk > 0 ORDER BY pk`,
		foreignKeys: `SELECT CAST(id AS TEXT), "from", "table", "to"
			FROM pragma_foreign_key_list(?)
			ORDER BY id, seq`,
		indexes: `SELECT il.name, il."unique", ii.name
			FROM pragma_index_list(?) AS il, pragma_index_info(il.name) AS ii
			WHERE il.origin <> 'pk'
			ORDER BY il.name, ii.seqno`,
		anonFKs: true,
	},
	pool.DriverDuckDB: {
		name:      pool.DriverDuckDB,
		quoteChar: `"`,
		tables: `SELECT table_name FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
			ORDER BY table_name`,
		columns: `SELECT column_name, data_type, is_nullable, column_default
			FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = ?
			ORDER BY ordinal_position`,
		primaryKey: `SELECT unnest(constraint_column_names)
			FROM duckdb_constraints()
			WHERE table_name = ? AND constraint_type = 'PRIMARY KEY'`,
		foreignKeys: `SELECT constraint_name, unnest(constraint_column_names), referenced_table, unnest(referenced_column_names)
			FROM duckdb_constraints()
			WHERE table_name = ? AND constraint_type = 'FOREIGN KEY'`,
		indexes: `SELECT index_name, is_unique, sql
			FROM duckdb_indexes()
			WHERE table_name = ?
			ORDER BY index_name`,
		indexSQL: true,
	},
}

// indexColumnsFromSQL extracts the column list of a CREATE INDEX statement.
func indexColumnsFromSQL(stmt string) []string {
	open := strings.LastIndex(stmt, "(")
	end := strings.LastIndex(stmt, ")")
	if open < 0 || end <= open {
		return nil
	}
	var cols []string
	for _, part := range strings.Split(stmt[open+1:end], ",") {
		col := strings.Trim(strings.TrimSpace(part), "\"`")
		if col != "" {
			cols = append(cols, col)
		}
	}
	return cols
}
