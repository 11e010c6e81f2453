package commands

import (
	"context"
	"time"

	"github.com/andupopescu/ore-cli-extended-stats/internal/ledger"
	"github.com/andupopescu/ore-cli-extended-stats/internal/reporting"
	"github.com/spf13/cobra"
)

var bussesCmd = &cobra.Command{
	Use:   "busses",
	Short: "Show the reward balance of every bus account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withLedger(cmd, func(ctx context.Context, client *ledger.Client) error {
			_, busses, err := appConfig.RPC.Addresses()
			if err != nil {
				return err
			}
			report, err := reporting.CollectBusses(ctx, logFactory.GetLogger("busses"), client, busses)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			return reporting.RenderBusses(cmd.OutOrStdout(), report)
		})
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the on-chain program configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withLedger(cmd, func(ctx context.Context, client *ledger.Client) error {
			addr, _, err := appConfig.RPC.Addresses()
			if err != nil {
				return err
			}
			cfg, err := reporting.ReadConfig(ctx, client, addr)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), cfg)
			}
			return reporting.RenderConfig(cmd.OutOrStdout(), cfg, time.Now())
		})
	},
}

var minersFlags struct {
	window time.Duration
	limit  int
}

var minersCmd = &cobra.Command{
	Use:   "miners",
	Short: "Summarise the difficulty of recently submitted solutions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withLedger(cmd, func(ctx context.Context, client *ledger.Client) error {
			opts := reporting.MinersOptions{
				Program: appConfig.RPC.ProgramAddress,
				Window:  appConfig.RPC.HistoryWindow,
				Limit:   appConfig.RPC.HistoryLimit,
			}
			if cmd.Flags().Changed("window") {
				opts.Window = minersFlags.window
			}
			if cmd.Flags().Changed("limit") {
				opts.Limit = minersFlags.limit
			}

			report, err := reporting.CollectMiners(ctx, logFactory.GetLogger("miners"), client, opts)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			return reporting.RenderMiners(cmd.OutOrStdout(), report)
		})
	},
}

func init() {
	minersCmd.Flags().DurationVar(&minersFlags.window, "window", time.Minute, "how far back from the newest transaction to look")
	minersCmd.Flags().IntVar(&minersFlags.limit, "limit", 100, "maximum number of solutions to report")
}

// withLedger dials the configured node for the duration of fn.
func withLedger(cmd *cobra.Command, fn func(context.Context, *ledger.Client) error) error {
	ctx := cmd.Context()
	client, err := ledger.NewClient(ctx, logFactory.GetLogger("ledger"), appConfig.RPC)
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(ctx, client)
}
