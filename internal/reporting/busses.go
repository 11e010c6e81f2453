package reporting

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/andupopescu/ore-cli-extended-stats/internal/ledger"
	"github.com/pterm/pterm"
	"go.uber.org/zap"
)

// BusEntry is one decoded reward bus.
type BusEntry struct {
	Address ledger.Address `json:"address"`
	ledger.Bus
}

// BusReport lists the readable busses and the one holding the most rewards.
type BusReport struct {
	Busses      []BusEntry     `json:"busses"`
	Best        ledger.Address `json:"best"`
	BestRewards float64        `json:"best_rewards"`
}

// CollectBusses reads every bus. Accounts that do not decode are skipped.
// Best defaults to the first address when no bus holds rewards.
func CollectBusses(ctx context.Context, logger *zap.Logger, reader ledger.AccountReader, addrs []ledger.Address) (BusReport, error) {
	var report BusReport
	if len(addrs) == 0 {
		return report, nil
	}
	report.Best = addrs[0]

	for _, addr := range addrs {
		data, err := reader.ReadAccount(ctx, addr.String())
		if err != nil {
			return report, fmt.Errorf("read bus %s: %w", addr, err)
		}
		bus, err := ledger.DecodeBus(data)
		if err != nil {
			logger.Warn("Skipping undecodable bus", zap.Stringer("address", addr), zap.Error(err))
			continue
		}

		report.Busses = append(report.Busses, BusEntry{Address: addr, Bus: bus})
		if rewards := ledger.TokenAmount(bus.Rewards); rewards > report.BestRewards {
			report.BestRewards = rewards
			report.Best = addr
		}
	}

	return report, nil
}

// BestBus returns the address of the bus with the most rewards.
func BestBus(ctx context.Context, logger *zap.Logger, reader ledger.AccountReader, addrs []ledger.Address) (ledger.Address, error) {
	report, err := CollectBusses(ctx, logger, reader, addrs)
	return report.Best, err
}

// RenderBusses writes the bus table.
func RenderBusses(w io.Writer, report BusReport) error {
	data := pterm.TableData{{"Bus", "Rewards (ORE)", "Theoretical (ORE)", "Address"}}
	for _, b := range report.Busses {
		data = append(data, []string{
			strconv.FormatUint(b.ID, 10),
			ledger.FormatAmount(b.Rewards),
			ledger.FormatAmount(b.TheoreticalRewards),
			pterm.Gray(b.Address.String()),
		})
	}

	table, err := pterm.DefaultTable.WithHasHeader().WithHeaderRowSeparator("-").WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n\nBest bus: %s (%s ORE)\n",
		table,
		pterm.Green(report.Best.String()),
		pterm.Bold.Sprint(strconv.FormatFloat(report.BestRewards, 'f', -1, 64)),
	)
	return err
}
