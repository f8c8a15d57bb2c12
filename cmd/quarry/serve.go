package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TFMV/quarry/cmd/quarry/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the HTTP API: CSV upload and questions, stock analyses and the
market status, and database exploration and chat when a database is
configured.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("address", "", "listen address")
	f.String("upload-dir", "", "directory for uploaded CSV files")
	f.Bool("metrics", true, "enable the Prometheus metrics server")
	f.String("metrics-address", "", "metrics listen address")
	f.Bool("auth", false, "require authentication")
	f.String("auth-type", "", "authentication type (basic, bearer, jwt)")
	f.String("dsn", "", "database to explore")

	mustBind(viper.BindPFlag("server.address", f.Lookup("address")))
	mustBind(viper.BindPFlag("server.upload_dir", f.Lookup("upload-dir")))
	mustBind(viper.BindPFlag("metrics.enabled", f.Lookup("metrics")))
	mustBind(viper.BindPFlag("metrics.address", f.Lookup("metrics-address")))
	mustBind(viper.BindPFlag("auth.enabled", f.Lookup("auth")))
	mustBind(viper.BindPFlag("auth.type", f.Lookup("auth-type")))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// --dsn is shared with the db commands; bind it only for this run.
	if dsn := cmd.Flags().Lookup("dsn"); dsn.Changed {
		viper.Set("database.dsn", dsn.Value.String())
	}

	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Msg("Starting quarry server")

	srv, err := server.New(cmd.Context(), cfg, logger, version)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create server")
		return err
	}
	return srv.Run(cmd.Context())
}
