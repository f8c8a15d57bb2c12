package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/TFMV/quarry/cmd/quarry/server"
	"github.com/TFMV/quarry/pkg/market"
	"github.com/TFMV/quarry/pkg/models"
)

var stockCmd = &cobra.Command{
	Use:   "stock <ticker>",
	Short: "Build a stock analysis from Polygon.io and SEC EDGAR",
	Long: `Fetch a fresh analysis of the ticker and save it as
<output-dir>/<TICKER>_analysis_data.json.

With --skip-analysis and --input, the saved analysis is loaded instead.

Example:
  quarry stock aapl -o reports
  quarry stock AAPL --skip-analysis -i reports/AAPL_analysis_data.json`,
	Args: cobra.ExactArgs(1),
	RunE: runStock,
}

var marketCmd = &cobra.Command{
	Use:   "market",
	Short: "Market information",
}

var marketStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print whether the markets are open",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		analyzer, err := server.NewAnalyzer(cfg.Market, logger)
		if err != nil {
			return err
		}
		status, err := analyzer.MarketStatus(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to fetch market status: %w", err)
		}
		printMarketStatus(cmd.OutOrStdout(), status)
		return nil
	},
}

func init() {
	stockCmd.Flags().StringP("input", "i", "", "saved analysis to load")
	stockCmd.Flags().StringP("output-dir", "o", "reports", "directory the analysis is written to")
	stockCmd.Flags().Bool("skip-analysis", false, "load --input instead of fetching")
	rootCmd.AddCommand(stockCmd)

	marketCmd.AddCommand(marketStatusCmd)
	rootCmd.AddCommand(marketCmd)
}

func runStock(cmd *cobra.Command, args []string) error {
	ticker, err := market.NormalizeTicker(args[0])
	if err != nil {
		return err
	}
	input, _ := cmd.Flags().GetString("input")
	outputDir, _ := cmd.Flags().GetString("output-dir")
	skip, _ := cmd.Flags().GetBool("skip-analysis")

	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if skip && input != "" {
		analysis, err := market.LoadAnalysis(input)
		if err != nil {
			return fmt.Errorf("failed to load analysis: %w", err)
		}
		logger.Info().Str("ticker", analysis.Ticker).Str("path", input).Msg("Loaded saved analysis")
		printAnalysis(out, analysis)
		return nil
	}

	analyzer, err := server.NewAnalyzer(cfg.Market, logger)
	if err != nil {
		return err
	}
	analysis, err := analyzer.AnalyzeStock(cmd.Context(), ticker)
	if err != nil {
		return fmt.Errorf("analysis of %s failed: %w", ticker, err)
	}
	path, err := market.SaveAnalysis(outputDir, analysis)
	if err != nil {
		return err
	}

	printAnalysis(out, analysis)
	fmt.Fprintf(out, "\nAnalysis saved to %s\n", path)
	return nil
}

func formatFloat(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func printAnalysis(w io.Writer, a *models.StockAnalysis) {
	pairs := map[string]string{
		"Ticker":             a.Ticker,
		"Latest trading day": a.LatestTradingDay,
	}
	if a.Details != nil {
		pairs["Name"] = a.Details.Results.Name
		pairs["Exchange"] = a.Details.Results.PrimaryExchange
	}
	if a.CIK != "" {
		pairs["CIK"] = a.CIK
	}
	if s := a.Summary; s != nil {
		pairs["Latest close"] = formatFloat(s.LatestClose)
		pairs["SMA-50"] = formatFloat(s.SMA50)
		pairs["RSI-14"] = formatFloat(s.RSI14)
		pairs["Signal"] = fmt.Sprintf("%s (%.0f%% bullish)", s.Signal, s.BullishPct)
	}
	renderPairs(w, [2]string{"Field", "Value"}, pairs)
}

func printMarketStatus(w io.Writer, s *models.MarketStatus) {
	fmt.Fprintf(w, "Market: %s (server time %s)\n", s.Market, s.ServerTime)
	fmt.Fprintf(w, "Early hours: %t  After hours: %t\n\n", s.EarlyHours, s.AfterHours)
	renderPairs(w, [2]string{"Exchange", "Status"}, s.Exchanges)
}
