/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the allocation engine server.
  Handles configuration, dependency injection, and graceful shutdown.

COMMANDS:
  serve            Run the HTTP API (default)
  check-calendar   Validate and repair closing periods once, then exit

STARTUP SEQUENCE (serve):
  1. Load configuration (file, .env, environment, flags)
  2. Build the logger
  3. Initialize SQLite store
  4. Optionally run the calendar consistency check
  5. Create API handler, router and calendar scheduler
  6. Start server with graceful shutdown

FLAGS:
  --config   Config file (.toml, .yaml, .yml)
  --port     HTTP server port, overrides the config
  --db       SQLite database path, overrides the config
             Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the calendar scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (server.shutdown_timeout)
  4. Close database connection

EXAMPLES:
  ./server serve --config=alloc.toml
  ./server serve --db=":memory:" --port=3000
  ./server check-calendar --db=./data/alloc.db

SEE ALSO:
  - config/config.go: Configuration sources
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warp/allocation-engine/api"
	"github.com/warp/allocation-engine/calendar"
	"github.com/warp/allocation-engine/config"
	"github.com/warp/allocation-engine/store/sqlite"
)

var (
	flagConfig string
	flagPort   int
	flagDB     string
)

var rootCmd = &cobra.Command{
	Use:           "server",
	Short:         "Allocation & forecast reconciliation engine",
	Long:          "Hours allocation, closing-period snapshots and forecast reconciliation over a fiscal calendar.",
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var checkCalendarCmd = &cobra.Command{
	Use:   "check-calendar",
	Short: "Validate and repair closing periods, then exit",
	RunE:  runCheckCalendar,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Config file (.toml, .yaml, .yml)")
	rootCmd.PersistentFlags().IntVarP(&flagPort, "port", "p", 0, "HTTP server port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database path (overrides config)")

	rootCmd.AddCommand(serveCmd, checkCalendarCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads the configuration, applies flag overrides and opens the store.
func setup() (config.Config, *logrus.Logger, *sqlite.Store, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, nil, nil, err
	}
	if flagPort != 0 {
		cfg.Server.Port = flagPort
	}
	if flagDB != "" {
		cfg.Database.Path = flagDB
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, nil, err
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return cfg, nil, nil, err
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return cfg, logger, store, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, logger, store, err := setup()
	if err != nil {
		return err
	}
	defer store.Close()

	handler := api.NewHandler(store, logger)

	if cfg.Calendar.CheckOnStartup {
		if _, err := handler.Calendar.EnsureConsistency(context.Background()); err != nil {
			logger.WithError(err).Warn("Startup calendar check failed")
		}
	}

	scheduler := api.NewCalendarScheduler(handler.Calendar, cfg.Calendar.CheckInterval, logger)
	scheduler.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handler, cfg.Server.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"port": cfg.Server.Port,
			"db":   cfg.Database.Path,
		}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		scheduler.Stop()
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}

func runCheckCalendar(cmd *cobra.Command, _ []string) error {
	_, logger, store, err := setup()
	if err != nil {
		return err
	}
	defer store.Close()

	summary, err := calendar.NewChecker(store, logger).EnsureConsistency(cmd.Context())
	if err != nil {
		return err
	}
	printSummary(summary)
	if !summary.Consistent() {
		return fmt.Errorf("%d calendar issue(s) remain after correction", summary.RemainingIssues()+len(summary.UnassignedPeriods))
	}
	return nil
}

var (
	green  = color.New(color.FgGreen, color.Bold).SprintFunc()
	yellow = color.New(color.FgYellow, color.Bold).SprintFunc()
	red    = color.New(color.FgRed, color.Bold).SprintFunc()
)

func printSummary(s calendar.ValidationSummary) {
	fmt.Printf("Fiscal years:        %d\n", s.FiscalYearsProcessed)
	fmt.Printf("Closing periods:     %d\n", s.ClosingPeriodsProcessed)
	fmt.Printf("Corrections applied: %s\n", yellow(s.CorrectionsApplied))
	for _, line := range s.CorrectionsLog {
		fmt.Printf("  - %s\n", line)
	}
	for _, r := range s.IssuesAfter {
		fmt.Printf("%s:\n", r.FiscalYearName)
		for _, issue := range r.Issues {
			fmt.Printf("  %s %s\n", red("!"), issue)
		}
	}
	for _, p := range s.UnassignedPeriods {
		fmt.Printf("  %s %s\n", red("!"), p)
	}
	if s.Consistent() {
		fmt.Println(green("Calendar is consistent"))
	}
}
