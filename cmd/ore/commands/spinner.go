package commands

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/andupopescu/ore-cli-extended-stats/internal/mining"
	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
)

// spinnerReporter renders job progress on a terminal spinner.
type spinnerReporter struct {
	mu       sync.Mutex
	spinner  *pterm.SpinnerPrinter
	interval time.Duration
	last     time.Time
}

func newSpinnerReporter(w io.Writer, text string) (*spinnerReporter, error) {
	sp, err := pterm.DefaultSpinner.WithWriter(w).WithRemoveWhenDone(true).WithText(text).Start()
	if err != nil {
		return nil, err
	}
	return &spinnerReporter{spinner: sp, interval: 200 * time.Millisecond}, nil
}

func (s *spinnerReporter) Report(p mining.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spinner == nil || time.Since(s.last) < s.interval {
		return
	}
	s.last = time.Now()

	rate := 0.0
	if secs := p.Elapsed.Seconds(); secs > 0 {
		rate = float64(p.Hashes) / secs
	}
	s.spinner.UpdateText(fmt.Sprintf("Mining %s hashes, %s H/s, %s left",
		humanize.Comma(int64(p.Hashes)),
		humanize.CommafWithDigits(rate, 1),
		p.Remaining.Round(time.Second),
	))
}

func (s *spinnerReporter) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spinner != nil {
		_ = s.spinner.Stop()
		s.spinner = nil
	}
}
