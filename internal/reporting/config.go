package reporting

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/andupopescu/ore-cli-extended-stats/internal/ledger"
	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
)

// ReadConfig reads and decodes the program config account.
func ReadConfig(ctx context.Context, reader ledger.AccountReader, addr ledger.Address) (ledger.ProgramConfig, error) {
	data, err := reader.ReadAccount(ctx, addr.String())
	if err != nil {
		return ledger.ProgramConfig{}, fmt.Errorf("read config %s: %w", addr, err)
	}
	return ledger.DecodeConfig(data)
}

// RenderConfig writes the program config summary.
func RenderConfig(w io.Writer, cfg ledger.ProgramConfig, now time.Time) error {
	reset := time.Unix(cfg.LastResetAt, 0)
	rows := [][2]string{
		{"Last reset", fmt.Sprintf("%d (%s)", cfg.LastResetAt, humanize.RelTime(reset, now, "ago", "from now"))},
		{"Top balance", ledger.FormatAmount(cfg.TopBalance) + " ORE"},
		{"Min difficulty", humanize.Comma(int64(cfg.MinDifficulty))},
		{"Base reward rate", ledger.FormatAmount(cfg.BaseRewardRate) + " ORE"},
		{"Admin", cfg.Admin.String()},
	}

	for _, r := range rows {
		if _, err := fmt.Fprintf(w, "%s: %s\n", pterm.Bold.Sprint(r[0]), r[1]); err != nil {
			return err
		}
	}
	return nil
}
