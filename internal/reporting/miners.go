package reporting

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/andupopescu/ore-cli-extended-stats/internal/ledger"
	"github.com/pterm/pterm"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const shortSignatureLen = 19

// MinerEntry is one difficulty submission seen in the program's history.
type MinerEntry struct {
	Difficulty uint64    `json:"difficulty"`
	Time       time.Time `json:"time"`
	FeeSOL     float64   `json:"fee_sol"`
	FeePayer   string    `json:"fee_payer"`
	Signature  string    `json:"signature"`
}

// ShortSignature returns the truncated signature shown in reports.
func (e MinerEntry) ShortSignature() string {
	if len(e.Signature) <= shortSignatureLen {
		return e.Signature
	}
	return e.Signature[:shortSignatureLen]
}

// MinerStats summarises the difficulties of a report.
type MinerStats struct {
	Count  int     `json:"count"`
	Max    uint64  `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// MinersReport is the recent difficulty history of a program.
type MinersReport struct {
	Window  time.Duration `json:"window"`
	Entries []MinerEntry  `json:"entries"`
	Stats   MinerStats    `json:"stats"`
}

// MinersOptions bounds the history scan.
type MinersOptions struct {
	Program string
	// Window is measured back from the newest signature.
	Window time.Duration
	Limit  int
}

// CollectMiners scans signatures newest first, keeping those within the
// window of the newest, and extracts difficulty log lines until Limit entries
// are collected. Transactions that cannot be fetched are logged and skipped.
func CollectMiners(ctx context.Context, logger *zap.Logger, history ledger.HistoryReader, opts MinersOptions) (MinersReport, error) {
	report := MinersReport{Window: opts.Window}

	sigs, err := history.ListRecentSignatures(ctx, opts.Program)
	if err != nil {
		return report, err
	}

	var cutoff int64
	first := true
	for _, sig := range sigs {
		if opts.Limit > 0 && len(report.Entries) >= opts.Limit {
			break
		}
		if sig.BlockTime == nil {
			continue
		}
		blockTime := *sig.BlockTime
		if first {
			cutoff = blockTime - int64(opts.Window/time.Second)
			first = false
		}
		if blockTime < cutoff {
			break
		}

		tx, err := history.GetTransaction(ctx, sig.Signature)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			logger.Warn("Skipping transaction", zap.String("signature", sig.Signature), zap.Error(err))
			continue
		}

		for _, d := range tx.Difficulties() {
			report.Entries = append(report.Entries, MinerEntry{
				Difficulty: d,
				Time:       time.Unix(blockTime, 0).UTC(),
				FeeSOL:     ledger.LamportsToSOL(tx.Fee()),
				FeePayer:   tx.FeePayer(),
				Signature:  sig.Signature,
			})
			if opts.Limit > 0 && len(report.Entries) >= opts.Limit {
				break
			}
		}
	}

	report.Stats = Summarise(report.Entries)
	return report, nil
}

// Summarise computes count, max, mean and sample standard deviation.
func Summarise(entries []MinerEntry) MinerStats {
	s := MinerStats{Count: len(entries)}
	if len(entries) == 0 {
		return s
	}

	diffs := make([]float64, len(entries))
	for i, e := range entries {
		diffs[i] = float64(e.Difficulty)
	}
	s.Max = uint64(floats.Max(diffs))
	if len(diffs) == 1 {
		s.Mean = diffs[0]
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(diffs, nil)
	return s
}

// RenderMiners writes the history table and summary.
func RenderMiners(w io.Writer, report MinersReport) error {
	data := pterm.TableData{{"#", "Difficulty", "Time (UTC)", "Fee (SOL)", "Wallet", "Tx"}}
	for i, e := range report.Entries {
		data = append(data, []string{
			fmt.Sprintf("%03d", i+1),
			pterm.Green(fmt.Sprintf("%02d", e.Difficulty)),
			pterm.Gray(e.Time.Format("2006-01-02 15:04:05")),
			strconv.FormatFloat(e.FeeSOL, 'f', 9, 64),
			pterm.Gray(e.FeePayer),
			pterm.Gray(e.ShortSignature() + "..."),
		})
	}

	table, err := pterm.DefaultTable.WithHasHeader().WithHeaderRowSeparator("-").WithData(data).Srender()
	if err != nil {
		return err
	}

	s := report.Stats
	_, err = fmt.Fprintf(w, "%s\n\nMax difficulty for %s miners over the last %s is %s (mean %.2f, std dev %.2f)\n",
		table,
		pterm.Green(strconv.Itoa(s.Count)),
		report.Window,
		pterm.Green(strconv.FormatUint(s.Max, 10)),
		s.Mean,
		s.StdDev,
	)
	return err
}
