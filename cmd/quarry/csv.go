package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/TFMV/quarry/cmd/quarry/config"
	"github.com/TFMV/quarry/cmd/quarry/server"
	"github.com/TFMV/quarry/pkg/csvchat"
	"github.com/TFMV/quarry/pkg/infrastructure/converter"
	"github.com/TFMV/quarry/pkg/llm"
	"github.com/TFMV/quarry/pkg/models"
)

var csvCmd = &cobra.Command{
	Use:   "csv",
	Short: "Profile CSV files and ask questions about them",
}

var csvLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Load a CSV file and print its columns and sample rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDataset(cmd, args[0], false, func(_ *csvchat.Store, _ *csvchat.Assistant, ds *models.Dataset) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d rows, %d columns\n\n", ds.FileName, ds.RowCount, ds.ColumnCount)
			renderPairs(out, [2]string{"column", "type"}, ds.DTypes)
			if ds.SampleRows != nil {
				fmt.Fprintln(out)
				renderResult(out, ds.SampleRows)
			}
			return nil
		})
	},
}

var csvAnalysisCmd = &cobra.Command{
	Use:   "analysis <file>",
	Short: "Print column statistics, data quality and correlations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDataset(cmd, args[0], false, func(store *csvchat.Store, _ *csvchat.Assistant, ds *models.Dataset) error {
			analysis, err := store.Analysis(cmd.Context(), ds.ID)
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return printJSON(cmd.OutOrStdout(), analysis)
			}
			printDatasetAnalysis(cmd.OutOrStdout(), analysis)
			return nil
		})
	},
}

var csvAskCmd = &cobra.Command{
	Use:   "ask <file> <question>",
	Short: "Answer a question about a CSV file with SQL",
	Long: `Answer a question about a CSV file. Common questions (row counts, column
lists, averages, missing values) are answered directly; anything else is
translated to SQL by the configured model.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDataset(cmd, args[0], true, func(_ *csvchat.Store, a *csvchat.Assistant, ds *models.Dataset) error {
			answer, err := a.Ask(cmd.Context(), models.DatasetQuestion{
				FileID: ds.ID,
				Query:  strings.Join(args[1:], " "),
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if answer.Code != "" {
				fmt.Fprintf(out, "SQL: %s\n\n", answer.Code)
			}
			if answer.Result != nil {
				renderResult(out, answer.Result)
			}
			if answer.Explanation != "" {
				fmt.Fprintf(out, "\n%s\n", answer.Explanation)
			}
			if path, _ := cmd.Flags().GetString("export-arrow"); path != "" && answer.Result != nil {
				if err := converter.WriteFile(path, answer.Result); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Arrow file written to %s\n", path)
			}
			return nil
		})
	},
}

func init() {
	csvAnalysisCmd.Flags().Bool("json", false, "print the analysis as JSON")
	csvAskCmd.Flags().String("export-arrow", "", "write the result as an Arrow IPC file")

	csvCmd.AddCommand(csvLoadCmd, csvAnalysisCmd, csvAskCmd)
	rootCmd.AddCommand(csvCmd)
}

// withDataset loads path into a fresh store. The model client is only
// created when needed; without one, questions fall back to shortcuts.
func withDataset(cmd *cobra.Command, path string, needModel bool, fn func(*csvchat.Store, *csvchat.Assistant, *models.Dataset) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	var client llm.Client
	if needModel {
		client = optionalClient(cfg, logger)
	}
	store, assistant, err := server.NewDatasetAssistant(cfg.Server.UploadDir, client, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ds, err := store.LoadFile(cmd.Context(), path)
	if err != nil {
		return err
	}
	return fn(store, assistant, ds)
}

func optionalClient(cfg *config.Config, logger zerolog.Logger) llm.Client {
	client, err := llm.New(cfg.LLM, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("No language model available, only built-in questions are answered")
		return nil
	}
	return client
}

func printDatasetAnalysis(w io.Writer, a *models.DatasetAnalysis) {
	fmt.Fprintf(w, "Rows: %d  Columns: %d\n\n", a.RowCount, a.ColumnCount)

	stats := models.NewTabularResult("column", "kind", "nulls", "min", "max", "mean", "unique")
	for _, c := range a.ColumnStats {
		var unique interface{}
		if c.UniqueCount != nil {
			unique = *c.UniqueCount
		}
		stats.Rows = append(stats.Rows, []interface{}{
			c.Name, c.Kind, c.NullCount, floatOrNil(c.Min), floatOrNil(c.Max), floatOrNil(c.Mean), unique,
		})
	}
	renderResult(w, stats)

	q := a.Quality
	fmt.Fprintf(w, "\nMissing values: %d (%.2f%%)\n", q.TotalMissing, q.MissingPercentage)
	fmt.Fprintf(w, "Duplicate rows: %d (%.2f%%)\n", q.DuplicateRows, q.DuplicatePercentage)

	switch {
	case len(a.Correlations.Top) > 0:
		fmt.Fprintln(w, "\nTop correlations:")
		for _, c := range a.Correlations.Top {
			fmt.Fprintf(w, "  %s ~ %s: %.3f\n", c.Column1, c.Column2, c.Value)
		}
	case a.Correlations.Message != "":
		fmt.Fprintf(w, "\nCorrelations: %s\n", a.Correlations.Message)
	}

	if len(a.Visualizations) > 0 {
		fmt.Fprintln(w, "\nSuggested charts:")
		for _, v := range a.Visualizations {
			fmt.Fprintf(w, "  [%s] %s\n", v.Type, v.Title)
		}
	}
}

func floatOrNil(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
