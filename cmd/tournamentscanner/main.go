package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"TournamentScanner/internal/app"
	"TournamentScanner/internal/config"
	"TournamentScanner/internal/logging"
)

const (
	ExitSuccess = 0
	ExitError   = 1
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(ExitError)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "tournamentscanner",
		Short:         "Ingest chess tournaments from the calendar into storage",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("TOURNAMENT_SCANNER_CONFIG"), "YAML config file (or env: TOURNAMENT_SCANNER_CONFIG)")

	load := func() (config.Config, error) {
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			return cfg, err
		}
		return cfg, cfg.Validate()
	}

	cmd.AddCommand(newRunCmd(load), newNearbyCmd(load, out))
	return cmd
}

func newRunCmd(load func() (config.Config, error)) *cobra.Command {
	var opts app.RunOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scrape the calendar, geocode new tournaments and store them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Logging.Level)
			return app.New(cfg, logger).Run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Scraper, "scraper", "static", "Scraper variant: static or browser")
	cmd.Flags().StringVar(&opts.Mode, "mode", app.ModePaginated, "Mode: single or paginated")
	cmd.Flags().IntVar(&opts.MaxPages, "max-pages", 5, "Page bound for paginated mode (0 = whole configured range)")
	cmd.Flags().StringVar(&opts.Page, "page", "", "Page key YYYY-M for single mode (default: current month)")
	cmd.Flags().BoolVar(&opts.Daemon, "daemon", false, "Keep running on the configured cron schedule")

	return cmd
}

func newNearbyCmd(load func() (config.Config, error), out io.Writer) *cobra.Command {
	var lat, lon, radius float64

	cmd := &cobra.Command{
		Use:   "nearby",
		Short: "List upcoming tournaments near a point",
		RunE: func(cmd *cobra.Command, args []string) error {
			if radius <= 0 {
				return fmt.Errorf("--radius must be positive")
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Logging.Level)
			found, err := app.New(cfg, logger).Nearby(cmd.Context(), lat, lon, radius)
			if err != nil {
				return err
			}
			for _, t := range found {
				fmt.Fprintf(out, "%6.1f km  %s  %s  %s, %s\n",
					t.DistanceKm, t.StartDate.Format("2006-01-02"), t.Name, t.City, t.Country)
			}
			if len(found) == 0 {
				fmt.Fprintln(out, "No tournaments found.")
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude (required)")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Longitude (required)")
	cmd.Flags().Float64Var(&radius, "radius", 50, "Search radius in km")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")

	return cmd
}
