package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tendant/chi-demo/app"

	"github.com/tendant/simple-preservation/pkg/preservation"
	"github.com/tendant/simple-preservation/pkg/preservation/api"
	"github.com/tendant/simple-preservation/pkg/preservation/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	_ = godotenv.Load()

	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func NewRootCommand() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "preservation",
		Short: "Import digitized items into the preservation repository",
		Long: `Runs create, update and migrate imports against the configured
repository and storage backends. Configuration is read from the environment
(and a .env file when present).`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(NewImportCommand())
	rootCmd.AddCommand(NewServeCommand())

	return rootCmd
}

func buildImporter(ctx context.Context) (*preservation.Importer, *config.ServerConfig, error) {
	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	importer, err := cfg.BuildImporter(ctx, slog.Default())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build importer: %w", err)
	}
	return importer, cfg, nil
}

func NewImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <request.json>",
		Short: "Run one import request",
		Long:  `Reads an import request from a JSON file ("-" for stdin), runs it and prints the outcome.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := readRequest(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			importer, _, err := buildImporter(ctx)
			if err != nil {
				return err
			}

			outcome := importer.Run(ctx, req)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(outcome); err != nil {
				return err
			}
			if !outcome.Succeeded() {
				return fmt.Errorf("import %s", outcome.State)
			}
			return nil
		},
	}
}

func readRequest(stdin io.Reader, path string) (*preservation.ImportRequest, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open request: %w", err)
		}
		defer f.Close()
		r = f
	}

	var req preservation.ImportRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return &req, nil
}

func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the import API",
		RunE: func(cmd *cobra.Command, args []string) error {
			importer, cfg, err := buildImporter(cmd.Context())
			if err != nil {
				return err
			}

			server := app.DefaultApp()

			app.RoutesHealthz(server.R)
			app.RoutesHealthzReady(server.R)

			handler := api.NewHandler(importer, slog.Default())
			server.R.Mount("/api/v1", handler.Routes())

			slog.Info("starting preservation server", "environment", cfg.Environment, "database", cfg.DatabaseType, "preservation_storage", cfg.PreservationStorage)
			server.Run()
			return nil
		},
	}
}
