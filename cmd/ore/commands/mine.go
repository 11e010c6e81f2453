package commands

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andupopescu/ore-cli-extended-stats/internal/api"
	"github.com/andupopescu/ore-cli-extended-stats/internal/hardware"
	"github.com/andupopescu/ore-cli-extended-stats/internal/mining"
	"github.com/andupopescu/ore-cli-extended-stats/internal/oracle"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var mineFlags struct {
	challenge     string
	cutoff        uint64
	threads       uint64
	minDifficulty uint32
	startNonce    uint64
	endNonce      uint64
}

var mineCmd = &cobra.Command{
	Use:   "mine",
	Short: "Run one search job locally and print the best solution",
	Args:  cobra.NoArgs,
	RunE:  runMine,
}

func init() {
	f := mineCmd.Flags()
	f.StringVar(&mineFlags.challenge, "challenge", "", "32 byte challenge as hex (random when empty)")
	f.Uint64Var(&mineFlags.cutoff, "cutoff", 10, "search time in seconds")
	f.Uint64Var(&mineFlags.threads, "threads", 0, "worker threads (0 uses every logical CPU)")
	f.Uint32Var(&mineFlags.minDifficulty, "min-difficulty", 0, "difficulty that ends the search early once the cutoff has passed")
	f.Uint64Var(&mineFlags.startNonce, "start-nonce", 0, "first nonce of the range")
	f.Uint64Var(&mineFlags.endNonce, "end-nonce", math.MaxUint64, "end of the nonce range, exclusive")
}

func runMine(cmd *cobra.Command, _ []string) error {
	cfg := appConfig

	challenge := mineFlags.challenge
	if challenge == "" {
		var buf [api.ChallengeSize]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return fmt.Errorf("failed to generate challenge: %w", err)
		}
		challenge = hex.EncodeToString(buf[:])
	}

	drill, err := oracle.NewDrill(cfg.Mining.Oracle)
	if err != nil {
		return fmt.Errorf("invalid oracle config: %w", err)
	}
	detector := hardware.NewDetector(logFactory.GetLogger("hardware"))

	validator := api.NewValidator(detector, api.Limits{
		MaxThreads:     cfg.Mining.MaxThreads,
		ScratchSize:    drill.ScratchSize(),
		MemoryFraction: cfg.Mining.MemoryFraction,
	})
	job, err := validator.Validate(api.MineRequest{
		Challenge:     challenge,
		CutoffTime:    mineFlags.cutoff,
		Threads:       mineFlags.threads,
		MinDifficulty: mineFlags.minDifficulty,
		StartNonce:    mineFlags.startNonce,
		EndNonce:      mineFlags.endNonce,
		UseMaxThreads: mineFlags.threads == 0,
	})
	if err != nil {
		return err
	}

	pool := mining.NewPool(logFactory.GetLogger("pool"), drill, cfg.Mining)
	ctrl := mining.NewController(logFactory.GetLogger("controller"), pool, cfg.Mining.GracePeriod)

	if !jsonOutput {
		spinner, err := newSpinnerReporter(os.Stderr, fmt.Sprintf("Mining with %d threads", job.Threads))
		if err != nil {
			rootLogger.Debug("Spinner unavailable", zap.Error(err))
		} else {
			defer spinner.Stop()
			ctrl.SetProgress(spinner)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := ctrl.Admit(ctx, job)
	if err != nil {
		return err
	}

	resp := api.NewMineResponse(result, cfg.Service.SourceURL)
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), resp)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Challenge:   %s\n", challenge)
	fmt.Fprintf(out, "Best nonce:  %d\n", resp.BestNonce)
	fmt.Fprintf(out, "Difficulty:  %d\n", resp.BestDifficulty)
	fmt.Fprintf(out, "Hash:        %s\n", resp.BestHash)
	fmt.Fprintf(out, "Hashes:      %s in %s (%s)\n",
		humanize.Comma(int64(result.TotalHashes)),
		result.Elapsed.Round(time.Millisecond),
		result.JobOutcome(),
	)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
