package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pillarscope/internal/collector"
	"pillarscope/internal/config"
	"pillarscope/internal/engine"
	"pillarscope/internal/logging"
	"pillarscope/internal/orchestrator"
	"pillarscope/internal/review"
	"pillarscope/internal/server"
	"pillarscope/internal/store"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg      *config.Config
	logger   *zap.Logger
	logLevel zap.AtomicLevel
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "pillarscope",
	Short: "pillarscope - cloud environment review orchestrator",
	Long: `pillarscope runs well-architected style reviews of a cloud environment.

It collects environment signals, auto-answers framework questions from the
collected data, walks a human through the questions the data could not
answer, and synthesizes a final assessment report.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		logger, logLevel, err = logging.New(cfg.Logging.Level)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// serveCmd runs the HTTP service.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the review orchestration HTTP service",
	RunE:  runServe,
}

// collectCmd runs one collection pass and prints the snapshot.
var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run a one-shot environment collection and print the snapshot",
	RunE:  runCollect,
}

// questionsCmd prints the active question bank.
var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "Print the question framework in review order",
	RunE:  runQuestions,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "pillarscope.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, collectCmd, questionsCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	st, err := store.Open(cfg.Store.Path, logger.Named("store"))
	if err != nil {
		return err
	}
	defer st.Close()

	bank, err := loadBank()
	if err != nil {
		return err
	}
	if err := st.SeedBank(cmd.Context(), bank); err != nil {
		return fmt.Errorf("failed to seed question bank: %w", err)
	}

	eng, err := engine.New(engine.Config{
		Provider: cfg.Engine.Provider,
		APIKey:   cfg.Engine.APIKey,
		Model:    cfg.Engine.Model,
		BaseURL:  cfg.Engine.BaseURL,
		Timeout:  cfg.GetEngineTimeout(),
	})
	if err != nil {
		return err
	}

	provider, err := buildProvider()
	if err != nil {
		return err
	}

	orch := orchestrator.New(st, provider, eng, orchestrator.Config{
		UserAnswerConfidence:    cfg.Review.UserAnswerConfidence,
		DerivedAnswerConfidence: cfg.Review.DerivedAnswerConfidence,
		PipelineTimeout:         cfg.GetPipelineTimeout(),
	}, logger.Named("orchestrator"))
	defer orch.Close()

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.New(orch, provider, logger.Named("http")).Handler(),
	}

	// Config reloads only adjust the log level at runtime; structural
	// changes need a restart.
	watcher, err := config.Watch(configPath, logger.Named("config"), func(next *config.Config) {
		lvl, err := logging.ParseLevel(next.Logging.Level)
		if err != nil {
			logger.Warn("ignoring invalid log level from reload", zap.Error(err))
			return
		}
		logLevel.SetLevel(lvl)
	})
	if err != nil {
		logger.Warn("config watching disabled", zap.Error(err))
	} else {
		defer watcher.Close()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout())
	defer cancel()
	return srv.Shutdown(ctx)
}

func runCollect(cmd *cobra.Command, args []string) error {
	provider, err := buildProvider()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.GetCollectorTimeout()+cfg.GetBranchTimeout())
	defer cancel()

	snapshot, err := provider.Collect(ctx)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func runQuestions(cmd *cobra.Command, args []string) error {
	bank, err := loadBank()
	if err != nil {
		return err
	}
	questions := append([]review.Question(nil), bank.Questions...)
	review.SortQuestions(questions)

	for _, q := range questions {
		fmt.Fprintf(cmd.OutOrStdout(), "%-10s p%-3d %-24s %s\n", q.Key, q.Priority, q.Pillar, q.Text)
	}
	return nil
}

// loadBank returns the configured question bank, defaulting to the one
// embedded in the binary.
func loadBank() (*review.Bank, error) {
	if cfg.Review.BankPath == "" {
		return review.DefaultBank()
	}
	data, err := os.ReadFile(cfg.Review.BankPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read question bank: %w", err)
	}
	return review.ParseBank(data)
}

func buildProvider() (*collector.Provider, error) {
	suite, err := collector.NewRESTSuite(cfg.Collector.BaseURL, cfg.Collector.Token, cfg.GetCollectorTimeout())
	if err != nil {
		return nil, err
	}
	return collector.NewProvider(suite.Collectors(), suite, cfg.GetBranchTimeout(), logger.Named("collector")), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
