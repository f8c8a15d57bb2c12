package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TFMV/quarry/cmd/quarry/config"
	"github.com/TFMV/quarry/cmd/quarry/server"
	"github.com/TFMV/quarry/pkg/agent"
	"github.com/TFMV/quarry/pkg/docgen"
	"github.com/TFMV/quarry/pkg/explorer"
	"github.com/TFMV/quarry/pkg/infrastructure/converter"
	"github.com/TFMV/quarry/pkg/llm"
	"github.com/TFMV/quarry/pkg/models"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Explore a MongoDB or SQL database",
	Long: `Profile a database, write notes about it, run queries and chat with it.

The database is selected with --dsn (or QUARRY_DATABASE_DSN). mongodb:// URIs
use the MongoDB explorer; postgres, mysql, sqlite and duckdb connection
strings use the SQL explorer.`,
}

var dbExploreCmd = &cobra.Command{
	Use:   "explore",
	Short: "Profile every collection or table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withExplorer(cmd, func(x explorer.DatabaseExplorer) error {
			snap, err := x.ExploreDatabase(cmd.Context())
			if err != nil {
				return err
			}
			if path, _ := cmd.Flags().GetString("save"); path != "" {
				if err := explorer.SaveSnapshot(path, snap); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Snapshot saved to %s\n", path)
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		})
	},
}

var dbNotesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Write Markdown notes about the database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withExplorer(cmd, func(x explorer.DatabaseExplorer) error {
			if err := prepareSnapshot(cmd, x); err != nil {
				return err
			}
			notes := x.GenerateNotes()
			if html, _ := cmd.Flags().GetBool("html"); html {
				page, err := docgen.RenderHTML(notes)
				if err != nil {
					return err
				}
				notes = page
			}
			_, err := io.WriteString(cmd.OutOrStdout(), notes)
			return err
		})
	},
}

var dbQueryCmd = &cobra.Command{
	Use:   "query <collection|table>",
	Short: "Query one collection or table, or run --sql",
	Long: `Query one collection or table.

Example:
  quarry db query users --filter '{"age": {"$gt": 30}}' --limit 5
  quarry db query orders --where "total > 100" --order-by "total DESC"
  quarry db query --sql "SELECT count(*) FROM orders" --arrow orders.arrow`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDBQuery,
}

var dbAggregateCmd = &cobra.Command{
	Use:   "aggregate <collection|table>",
	Short: "Run an aggregation pipeline or a GROUP BY",
	Long: `Run an aggregation.

Example:
  quarry db aggregate orders --pipeline '[{"$group": {"_id": "$status", "n": {"$sum": 1}}}]'
  quarry db aggregate orders --group-by status --agg total=sum --agg id=count`,
	Args: cobra.ExactArgs(1),
	RunE: runDBAggregate,
}

var dbChatCmd = &cobra.Command{
	Use:   "chat [question]",
	Short: "Ask questions about the database",
	Long: `Ask the model about the database. It calls exploration and query tools
until it can answer. Without a question, an interactive session starts;
type exit to leave.`,
	RunE: runDBChat,
}

// snapshotLoader is implemented by both explorers.
type snapshotLoader interface {
	LoadSnapshot(*models.Snapshot)
}

func init() {
	flags := dbCmd.PersistentFlags()
	flags.String("dsn", "", "database connection string")
	flags.String("driver", "", "driver (mongodb, postgres, mysql, sqlite, duckdb); detected from --dsn when empty")
	flags.String("db-name", "", "database name when the DSN has none")
	mustBind(viper.BindPFlag("database.dsn", flags.Lookup("dsn")))
	mustBind(viper.BindPFlag("database.driver", flags.Lookup("driver")))
	mustBind(viper.BindPFlag("database.name", flags.Lookup("db-name")))

	dbExploreCmd.Flags().String("save", "", "write the snapshot as JSON to this file")
	dbNotesCmd.Flags().Bool("html", false, "render the notes as HTML")
	dbNotesCmd.Flags().String("snapshot", "", "use a snapshot saved with explore --save")

	q := dbQueryCmd.Flags()
	q.String("sql", "", "raw read-only SQL statement")
	q.String("filter", "", "MongoDB filter document (JSON)")
	q.String("projection", "", "MongoDB projection document (JSON)")
	q.String("where", "", "SQL WHERE clause")
	q.String("order-by", "", "SQL ORDER BY clause")
	q.Int64("limit", 0, "maximum number of rows")
	q.Int64("offset", 0, "rows to skip")
	q.String("arrow", "", "also write the result as an Arrow IPC file")

	a := dbAggregateCmd.Flags()
	a.String("pipeline", "", "MongoDB pipeline (JSON array)")
	a.String("sql", "", "raw read-only SQL statement")
	a.StringSlice("group-by", nil, "SQL GROUP BY columns")
	a.StringToString("agg", nil, "SQL aggregation as column=function")
	a.String("having", "", "SQL HAVING clause")
	a.String("order-by", "", "SQL ORDER BY clause")
	a.Int64("limit", 0, "maximum number of rows")

	dbCmd.AddCommand(dbExploreCmd, dbNotesCmd, dbQueryCmd, dbAggregateCmd, dbChatCmd)
	rootCmd.AddCommand(dbCmd)
}

func withExplorer(cmd *cobra.Command, fn func(explorer.DatabaseExplorer) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	return openExplorer(cmd, cfg, logger, fn)
}

func openExplorer(cmd *cobra.Command, cfg *config.Config, logger zerolog.Logger, fn func(explorer.DatabaseExplorer) error) error {
	if cfg.Database.DSN == "" {
		return fmt.Errorf("no database configured: pass --dsn or set QUARRY_DATABASE_DSN")
	}
	x, closer, err := server.OpenExplorer(cmd.Context(), cfg.Database, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closer(); err != nil {
			logger.Warn().Err(err).Msg("Error closing database")
		}
	}()
	return fn(x)
}

// prepareSnapshot loads --snapshot when given, otherwise explores.
func prepareSnapshot(cmd *cobra.Command, x explorer.DatabaseExplorer) error {
	path, _ := cmd.Flags().GetString("snapshot")
	if path == "" {
		_, err := x.ExploreDatabase(cmd.Context())
		return err
	}
	snap, err := explorer.LoadSnapshot(path)
	if err != nil {
		return err
	}
	loader, ok := x.(snapshotLoader)
	if !ok {
		return fmt.Errorf("%s explorer cannot load snapshots", x.Backend())
	}
	loader.LoadSnapshot(snap)
	return nil
}

func runDBQuery(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	raw, _ := f.GetString("sql")
	if len(args) == 0 && raw == "" {
		return fmt.Errorf("a collection or table, or --sql, is required")
	}

	var params models.QueryParams
	params.Query = raw
	params.Where, _ = f.GetString("where")
	params.OrderBy, _ = f.GetString("order-by")
	params.Limit, _ = f.GetInt64("limit")
	params.Offset, _ = f.GetInt64("offset")
	for flag, dst := range map[string]*json.RawMessage{"filter": &params.Filter, "projection": &params.Projection} {
		if v, _ := f.GetString(flag); v != "" {
			if !json.Valid([]byte(v)) {
				return fmt.Errorf("--%s is not valid JSON", flag)
			}
			*dst = json.RawMessage(v)
		}
	}

	entity := ""
	if len(args) == 1 {
		entity = args[0]
	}
	return withExplorer(cmd, func(x explorer.DatabaseExplorer) error {
		result, err := x.ExecuteQuery(cmd.Context(), entity, params)
		if err != nil {
			return err
		}
		renderResult(cmd.OutOrStdout(), result)
		if path, _ := f.GetString("arrow"); path != "" {
			if err := converter.WriteFile(path, result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Arrow file written to %s\n", path)
		}
		return nil
	})
}

func runDBAggregate(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	var params models.AggregationParams
	if raw, _ := f.GetString("pipeline"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params.Pipeline); err != nil {
			return fmt.Errorf("--pipeline must be a JSON array: %w", err)
		}
	}
	params.Query, _ = f.GetString("sql")
	params.GroupBy, _ = f.GetStringSlice("group-by")
	params.Aggregations, _ = f.GetStringToString("agg")
	params.Having, _ = f.GetString("having")
	params.OrderBy, _ = f.GetString("order-by")
	params.Limit, _ = f.GetInt64("limit")

	return withExplorer(cmd, func(x explorer.DatabaseExplorer) error {
		result, err := x.ExecuteAggregation(cmd.Context(), args[0], params)
		if err != nil {
			return err
		}
		renderResult(cmd.OutOrStdout(), result)
		return nil
	})
}

func runDBChat(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	client, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return err
	}

	return openExplorer(cmd, cfg, logger, func(x explorer.DatabaseExplorer) error {
		out := cmd.OutOrStdout()
		verbose := func(s agent.Step) {
			fmt.Fprintf(cmd.ErrOrStderr(), "  -> %s %s (%s)\n", s.Call.Function, string(s.Call.Args), s.Duration.Round(time.Millisecond))
		}
		a := server.NewAgent(client, x, cfg.Database.MaxRounds, logger, agent.WithListener(verbose), agent.WithMaxHistory(cfg.Database.MaxHistory))

		ask := func(question string) error {
			answer, err := a.Ask(cmd.Context(), question)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, answer.Text)
			if answer.Incomplete {
				fmt.Fprintln(out, "(stopped after the round limit)")
			}
			return nil
		}

		if len(args) > 0 {
			return ask(strings.Join(args, " "))
		}

		fmt.Fprintf(out, "Connected to %s database %q. Type exit to leave.\n", x.Backend(), x.DatabaseName())
		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Fprint(out, "> ")
			if !scanner.Scan() {
				return scanner.Err()
			}
			question := strings.TrimSpace(scanner.Text())
			switch strings.ToLower(question) {
			case "":
				continue
			case "exit", "quit":
				return nil
			}
			if err := ask(question); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
			}
		}
	})
}

func printSnapshot(w io.Writer, snap *models.Snapshot) {
	fmt.Fprintf(w, "Database: %s (%s)\n\n", snap.DatabaseName, snap.Backend)

	result := models.NewTabularResult("name", "count", "fields", "indexes")
	for _, name := range sortedKeys(snap.Collections) {
		info := snap.Collections[name]
		result.Rows = append(result.Rows, []interface{}{name, info.Count, int64(len(info.Fields)), int64(len(info.Indexes))})
	}
	for _, name := range sortedKeys(snap.Tables) {
		info := snap.Tables[name]
		result.Rows = append(result.Rows, []interface{}{name, info.Count, int64(len(info.Columns)), int64(len(info.Indexes))})
	}
	renderResult(w, result)

	if len(snap.Relationships) > 0 {
		fmt.Fprintln(w, "\nRelationships:")
		for _, rel := range snap.Relationships {
			fmt.Fprintf(w, "  %s(%s) -> %s(%s) [%s]\n",
				rel.From, strings.Join(rel.FromFields, ", "), rel.To, strings.Join(rel.ToFields, ", "), rel.Confidence)
		}
	}
}
