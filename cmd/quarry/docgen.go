package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TFMV/quarry/pkg/docgen"
	"github.com/TFMV/quarry/pkg/llm"
	"github.com/TFMV/quarry/pkg/models"
)

var docgenCmd = &cobra.Command{
	Use:   "docgen",
	Short: "Generate documentation for a source tree with a language model",
}

var docgenRunCmd = &cobra.Command{
	Use:   "run <directory>",
	Short: "Document every source file under a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocgen,
}

var docgenSettingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the saved docgen settings",
}

var docgenShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, settings, err := loadDocgenSettings()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Settings file: %s\n\n", path)
		printSettings(cmd.OutOrStdout(), settings)
		return nil
	},
}

var docgenSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Long: `Change one setting. Keys: provider, model, port, api_key, output_format,
max_file_size, timeout, workers, exclude_dirs, exclude_files and
include_extensions. List values are comma separated.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, settings, err := loadDocgenSettings()
		if err != nil {
			return err
		}
		if err := settings.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := docgen.SaveSettings(path, settings); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", args[0])
		return nil
	},
}

var docgenResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the default settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := docgen.SettingsPath()
		if err != nil {
			return err
		}
		settings, err := docgen.ResetSettings(path)
		if err != nil {
			return err
		}
		printSettings(cmd.OutOrStdout(), settings)
		return nil
	},
}

func init() {
	f := docgenRunCmd.Flags()
	f.StringP("output", "o", docgen.DefaultOutputDir, "output directory")
	f.String("format", "", "output format (markdown, html, json)")
	f.Int("workers", 0, "concurrent files")

	docgenSettingsCmd.AddCommand(docgenShowCmd, docgenSetCmd, docgenResetCmd)
	docgenCmd.AddCommand(docgenRunCmd, docgenSettingsCmd)
	rootCmd.AddCommand(docgenCmd)
}

func loadDocgenSettings() (string, docgen.Settings, error) {
	path, err := docgen.SettingsPath()
	if err != nil {
		return "", docgen.Settings{}, err
	}
	settings, err := docgen.LoadSettings(path)
	return path, settings, err
}

func runDocgen(cmd *cobra.Command, args []string) error {
	_, logger, err := setup()
	if err != nil {
		return err
	}
	_, settings, err := loadDocgenSettings()
	if err != nil {
		return err
	}
	if format, _ := cmd.Flags().GetString("format"); format != "" {
		settings.OutputFormat = format
	}
	if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
		settings.Workers = workers
	}

	client, err := llm.New(settings.LLMConfig(), logger)
	if err != nil {
		return err
	}
	gen, err := docgen.NewGenerator(client, settings, logger)
	if err != nil {
		return err
	}

	outDir, _ := cmd.Flags().GetString("output")
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Documenting %s with %s/%s\n", args[0], settings.Provider, settings.Model)

	run, err := gen.Run(cmd.Context(), args[0], outDir)
	if err != nil {
		return err
	}
	printDocRun(out, run)
	return nil
}

func printDocRun(w io.Writer, run *models.DocRun) {
	fmt.Fprintln(w, run.Message)
	if run.Stats == nil {
		return
	}
	s := run.Stats
	counts := make(map[string]string, len(s.LanguageCounts))
	for lang, n := range s.LanguageCounts {
		counts[lang] = strconv.Itoa(n)
	}
	fmt.Fprintf(w, "\nProcessed %d files (%s), skipped %d, in %.1fs\n\n",
		s.TotalFilesProcessed, docgen.FormatSize(s.TotalBytesProcessed), s.TotalFilesSkipped, s.Duration)
	if len(counts) > 0 {
		renderPairs(w, [2]string{"language", "files"}, counts)
	}
	if len(s.Errors) > 0 {
		fmt.Fprintf(w, "\n%d errors:\n", len(s.Errors))
		for _, e := range s.Errors {
			fmt.Fprintf(w, "  %s: %s\n", e.File, e.Error)
		}
	}
	if run.IndexFile != "" {
		fmt.Fprintf(w, "\nIndex: %s\n", run.IndexFile)
	}
}

func printSettings(w io.Writer, s docgen.Settings) {
	key := "(not set)"
	if s.APIKey != "" {
		key = "(set)"
	}
	renderPairs(w, [2]string{"setting", "value"}, map[string]string{
		"provider":           s.Provider,
		"model":              s.Model,
		"port":               strconv.Itoa(s.Port),
		"api_key":            key,
		"output_format":      s.OutputFormat,
		"max_file_size":      docgen.FormatSize(s.MaxFileSize),
		"timeout":            strconv.Itoa(s.Timeout) + "s",
		"workers":            strconv.Itoa(s.Workers),
		"exclude_dirs":       strings.Join(s.ExcludeDirs, ", "),
		"exclude_files":      strings.Join(s.ExcludeFiles, ", "),
		"include_extensions": strings.Join(s.IncludeExtensions, ", "),
	})
}
