package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"kairo/internal/config"
	"kairo/internal/cycle"
	"kairo/internal/integrity"
	"kairo/internal/logging"
	"kairo/internal/notify"
	"kairo/internal/pipeline"
	"kairo/internal/reward"
	"kairo/internal/sampler"
	"kairo/internal/server"
	"kairo/internal/store"
	"kairo/internal/textgen"
)

// Version is stamped at build time.
var Version = "dev"

var (
	configPath string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "kairo",
	Short: "KAIRO - windowed transmission cycles with on-chain vote rewards",
	Long: `KAIRO runs an autonomous transmission loop: every interval it
deliberates a new transmission through a primary/auditor model pair,
opens it to signed ALIGN/REJECT/WITHHOLD voting, and finalizes the
closing cycle with a weighted winner draw and creator-fee payouts.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the HTTP voting surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, cleanup, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go app.service.Run(ctx)
		return app.httpServer.Run(ctx)
	},
}

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Generate one cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		seed, _ := cmd.Flags().GetString("seed")
		app, cleanup, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		state, err := app.service.GenerateAdminCycle(cmd.Context(), seed)
		if err != nil {
			return err
		}
		fmt.Printf("cycle %d published: %s\n%s\n", state.CycleIndex, state.CycleID, state.Transmission)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Version)
	},
}

type app struct {
	service    *cycle.Service
	httpServer *server.Server
}

// buildApp wires config, storage, the provider chain, the pipeline and
// the cycle service. The returned cleanup closes what was opened.
func buildApp(ctx context.Context) (*app, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logging.Configure(cfg.Logging.Dir, cfg.Logging.Level, cfg.Logging.Debug); err != nil {
		return nil, nil, fmt.Errorf("failed to configure file logging: %w", err)
	}

	st, err := store.OpenBadger(store.BadgerConfig{
		Path:       cfg.Store.Path,
		InMemory:   cfg.Store.InMemory,
		SyncWrites: cfg.Store.SyncWrites,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	chain, err := textgen.NewChainFromEnv(ctx, cfg)
	provider := ""
	if err != nil {
		logger.Warn("no text providers configured, cycles will republish stored transmissions", zap.Error(err))
		chain = textgen.NewChain()
	} else {
		provider = chain.Name()
	}

	loader := sampler.NewConfigLoader(cfg.Pipeline.TopicsPath, cfg.Pipeline.SeedConceptsPath)
	if err := loader.Watch(); err != nil {
		logger.Warn("config watch disabled", zap.Error(err))
	}
	smp := sampler.New(st, loader)

	doctrine := pipeline.NewDoctrine(cfg.Pipeline.DoctrinePath)
	pipe := pipeline.New(chain, chain, smp, st, doctrine, cfg.Pipeline)

	fin := reward.NewFinalizer(st, nil, cfg.Reward)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notify.TelegramBotToken != "" && cfg.Notify.TelegramChatID != "" {
		notifier = notify.NewTelegram(cfg.Notify.TelegramBotToken, cfg.Notify.TelegramChatID)
	}

	svc := cycle.NewService(st, pipe, fin, integrity.NewService(st), notifier, cfg, Version)
	httpServer := server.New(svc, cfg, logger, Version, provider)

	cleanup := func() {
		if err := loader.Close(); err != nil {
			logger.Warn("closing config loader", zap.Error(err))
		}
		if err := st.Close(); err != nil {
			logger.Warn("closing store", zap.Error(err))
		}
	}
	logging.Boot("kairo %s ready (provider %q, store %s)", Version, provider, cfg.Store.Path)
	return &app{service: svc, httpServer: httpServer}, cleanup, nil
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/kairo.yaml", "path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cycleCmd.Flags().String("seed", "", "seed hint recorded on the generated cycle")

	rootCmd.AddCommand(serveCmd, cycleCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
