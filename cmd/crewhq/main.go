// crewhq is the conversational revenue assistant's orchestration core.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crewhq/internal/account"
	"crewhq/internal/aggregate"
	"crewhq/internal/bus"
	"crewhq/internal/config"
	"crewhq/internal/crew"
	"crewhq/internal/decision"
	"crewhq/internal/delivery"
	"crewhq/internal/gate"
	"crewhq/internal/logging"
	"crewhq/internal/orchestrator"
	"crewhq/internal/parser"
	"crewhq/internal/reasoner"
	"crewhq/internal/sentience"
	"crewhq/internal/server"
	"crewhq/internal/store"
	"crewhq/internal/types"
)

var (
	configPath string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "crewhq",
	Short: "crewHQ - command orchestration for the revenue assistant",
	Long: `crewHQ turns free-text revenue commands into crew work.

Commands flow through a parser, a permission gate, and a three-tier
decision engine (state machine, then rules, then a reasoner fallback)
before any crew runs. Every command gets exactly one reply.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Logging.Format)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP command API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		pipeline, err := buildPipeline(cfg)
		if err != nil {
			return err
		}
		defer pipeline.close()

		srv := server.New(cfg.Server.Addr, pipeline.orch,
			config.Duration(cfg.Server.RequestTimeout, 0), logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return srv.ListenAndServe(ctx)
	},
}

var queryCmd = &cobra.Command{
	Use:   "query [account-id] [command text]",
	Short: "Run one command through the pipeline without the server",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		pipeline, err := buildPipeline(cfg)
		if err != nil {
			return err
		}
		defer pipeline.close()

		accountID := args[0]
		text := ""
		for i, a := range args[1:] {
			if i > 0 {
				text += " "
			}
			text += a
		}

		envelope := pipeline.orch.Handle(cmd.Context(), types.Command{
			RawText:        text,
			AccountID:      accountID,
			ConversationID: "cli-" + accountID,
		})
		pipeline.orch.Wait()
		fmt.Println(envelope.Text)
		if !envelope.Success {
			return fmt.Errorf("command failed: %s", envelope.Reason)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the crewHQ version",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _ := config.Load(configPath)
		fmt.Printf("%s %s\n", cfg.Name, cfg.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "crewhq.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// pipeline bundles everything serve and query share.
type pipeline struct {
	orch    *orchestrator.Orchestrator
	kv      *store.SQLiteStore
	outbox  *delivery.Outbox
	watcher *decision.RuleWatcher
}

func (p *pipeline) close() {
	if p.watcher != nil {
		p.watcher.Stop()
	}
	if p.outbox != nil {
		_ = p.outbox.Close()
	}
	if p.kv != nil {
		_ = p.kv.Close()
	}
}

// buildPipeline wires the full stack from config. A missing reasoner API
// key degrades tiers 1 and 2 to the only decision sources.
func buildPipeline(cfg *config.Config) (*pipeline, error) {
	transitions, err := decision.LoadTransitionTable(cfg.Decision.TransitionTablePath)
	if err != nil {
		return nil, fmt.Errorf("transition table: %w", err)
	}

	kernel, err := decision.NewRuleKernelFromDir(cfg.Decision.RulesDir)
	if err != nil {
		return nil, fmt.Errorf("rule kernel: %w", err)
	}
	rules := decision.NewRuleEngine(kernel)

	p := &pipeline{}
	if cfg.Decision.WatchRules {
		watcher, err := decision.NewRuleWatcher(cfg.Decision.RulesDir, kernel, logger)
		if err != nil {
			logger.Warn("rule hot-reload unavailable", zap.Error(err))
		} else {
			p.watcher = watcher
		}
	}

	var cached *decision.CachedReasoner
	if cfg.Reasoner.APIKey != "" {
		gemini, err := reasoner.NewGeminiReasoner(
			cfg.Reasoner.APIKey, cfg.Reasoner.Model,
			config.Duration(cfg.Reasoner.Timeout, 0), logger)
		if err != nil {
			p.close()
			return nil, fmt.Errorf("reasoner: %w", err)
		}
		cached = decision.NewCachedReasoner(gemini, decision.CacheConfig{
			TTL:        config.Duration(cfg.Decision.CacheTTL, 0),
			Timeout:    config.Duration(cfg.Decision.Tier3Timeout, 0),
			MaxEntries: cfg.Decision.CacheMaxEntries,
		}, logger)
	} else {
		logger.Warn("no reasoner API key: tier-3 decisions and self-review disabled")
	}

	engine := decision.NewEngine(transitions, rules, cached, logger)

	g, err := gate.Load(cfg.Gate.FeatureTablePath)
	if err != nil {
		p.close()
		return nil, fmt.Errorf("feature table: %w", err)
	}

	kv, err := store.NewSQLiteStore(cfg.Store.DatabasePath)
	if err != nil {
		p.close()
		return nil, fmt.Errorf("store: %w", err)
	}
	p.kv = kv

	outbox, err := delivery.NewOutbox(cfg.Store.DatabasePath)
	if err != nil {
		p.close()
		return nil, fmt.Errorf("outbox: %w", err)
	}
	p.outbox = outbox

	b := bus.New(bus.DefaultHistorySize, logger)
	coordinator := crew.NewCoordinator(engine, b, outbox, crew.Collaborators{}, crew.Options{
		MaxRetries:  cfg.Crew.MaxRetries,
		BackoffBase: config.Duration(cfg.Crew.RetryBackoffBase, 0),
		WorkerLimit: cfg.Crew.WorkerLimit,
	}, logger)

	var reviewer sentience.Reviewer
	if cached != nil {
		reviewer = cached
	}
	layer := sentience.New(kv, reviewer, sentience.Options{
		EMAAlpha:          cfg.Sentience.EMAAlpha,
		SelfReview:        cfg.Sentience.SelfReview,
		SelfReviewTimeout: config.Duration(cfg.Sentience.SelfReviewTimeout, 0),
	}, logger)

	accounts := account.NewClient(cfg.Account.BaseURL,
		config.Duration(cfg.Account.Timeout, 0), logger)

	var fallback parser.Fallback
	if cached != nil {
		fallback = cached
	}
	p.orch = orchestrator.New(
		parser.New(fallback, config.Duration(cfg.Decision.Tier3Timeout, 0), logger),
		g,
		accounts,
		coordinator,
		aggregate.New(logger),
		layer,
		store.NewHistory(kv, cfg.Store.MaxTurns),
		orchestrator.Options{BackgroundThreshold: cfg.Crew.BackgroundThreshold},
		logger,
	)
	return p, nil
}
