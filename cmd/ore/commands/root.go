package commands

import (
	"fmt"
	"os"

	"github.com/andupopescu/ore-cli-extended-stats/internal/config"
	"github.com/andupopescu/ore-cli-extended-stats/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is set at build time with -ldflags "-X .../commands.Version=...".
var Version = "dev"

var (
	cfgFile    string
	logLevel   string
	rpcURL     string
	jsonOutput bool
	appConfig  *config.Config
	logFactory *logging.LoggerFactory
	rootLogger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ore",
	Short: "ORE proof-of-work compute server and network statistics",
	Long: `ore runs a proof-of-work compute service that answers mining jobs with the
best solution its worker pool finds, and reports reward bus, program config
and recent miner difficulty statistics from the ledger.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		if logFactory != nil {
			_ = logFactory.Sync()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&rpcURL, "rpc", "", "override the ledger RPC URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	rootCmd.AddCommand(serveCmd, mineCmd, bussesCmd, configCmd, minersCmd)
}

// setup loads configuration and builds the logger before any command runs.
// Commands other than serve log to stderr so stdout carries only results.
func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if rpcURL != "" {
		cfg.RPC.URL = rpcURL
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return err
	}

	lc := cfg.LogConfig()
	if cmd.Name() != "serve" && (lc.OutputPath == "" || lc.OutputPath == "stdout") {
		lc.OutputPath = "stderr"
	}
	factory, err := logging.NewLoggerFactory(lc)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appConfig = cfg
	logFactory = factory
	rootLogger = factory.Logger()
	return nil
}
