package reporting

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/andupopescu/ore-cli-extended-stats/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeAccounts map[string][]byte

func (f fakeAccounts) ReadAccount(_ context.Context, address string) ([]byte, error) {
	data, ok := f[address]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return data, nil
}

func addr(b byte) ledger.Address {
	var a ledger.Address
	a[0] = b
	a[31] = 1
	return a
}

func busData(id, rewards uint64) []byte {
	b := make([]byte, 40)
	binary.LittleEndian.PutUint64(b[8:], id)
	binary.LittleEndian.PutUint64(b[16:], rewards)
	return b
}

func TestCollectBusses(t *testing.T) {
	addrs := []ledger.Address{addr(1), addr(2), addr(3), addr(4)}
	accounts := fakeAccounts{
		addrs[0].String(): busData(0, 100_000_000_000),
		addrs[1].String(): busData(1, 250_000_000_000),
		addrs[2].String(): []byte{1, 2, 3},
		addrs[3].String(): busData(3, 250_000_000_000),
	}

	report, err := CollectBusses(context.Background(), zaptest.NewLogger(t), accounts, addrs)
	require.NoError(t, err)

	assert.Len(t, report.Busses, 3)
	assert.Equal(t, addrs[1], report.Best)
	assert.Equal(t, 2.5, report.BestRewards)

	var out bytes.Buffer
	require.NoError(t, RenderBusses(&out, report))
	assert.Contains(t, out.String(), "2.5")
	assert.Contains(t, out.String(), "Best bus")
}

func TestBestBusDefaultsToFirst(t *testing.T) {
	addrs := []ledger.Address{addr(1), addr(2)}
	accounts := fakeAccounts{
		addrs[0].String(): busData(0, 0),
		addrs[1].String(): busData(1, 0),
	}

	best, err := BestBus(context.Background(), zaptest.NewLogger(t), accounts, addrs)
	require.NoError(t, err)
	assert.Equal(t, addrs[0], best)
}

func TestCollectBussesReadError(t *testing.T) {
	_, err := CollectBusses(context.Background(), zaptest.NewLogger(t), fakeAccounts{}, []ledger.Address{addr(9)})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestRenderConfig(t *testing.T) {
	data := make([]byte, 8+32+32)
	binary.LittleEndian.PutUint64(data[40:], 50_000_000_000)
	binary.LittleEndian.PutUint64(data[48:], 1_700_000_000)
	binary.LittleEndian.PutUint64(data[56:], 12345)
	binary.LittleEndian.PutUint64(data[64:], 300_000_000_000)

	cfgAddr := addr(7)
	cfg, err := ReadConfig(context.Background(), fakeAccounts{cfgAddr.String(): data}, cfgAddr)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, RenderConfig(&out, cfg, time.Unix(1_700_000_060, 0)))
	s := out.String()
	assert.Contains(t, s, "1700000000 (1 minute ago)")
	assert.Contains(t, s, "3 ORE")
	assert.Contains(t, s, "12,345")
	assert.Contains(t, s, "0.5 ORE")
}

type fakeHistory struct {
	sigs    []ledger.SignatureInfo
	txs     map[string]*ledger.TransactionMeta
	fetched []string
}

func (f *fakeHistory) ListRecentSignatures(context.Context, string) ([]ledger.SignatureInfo, error) {
	return f.sigs, nil
}

func (f *fakeHistory) GetTransaction(_ context.Context, sig string) (*ledger.TransactionMeta, error) {
	f.fetched = append(f.fetched, sig)
	tx, ok := f.txs[sig]
	if !ok {
		return nil, errors.New("not found")
	}
	return tx, nil
}

func ptr(v int64) *int64 { return &v }

func txWithLogs(payer string, fee uint64, logs ...string) *ledger.TransactionMeta {
	tx := &ledger.TransactionMeta{}
	tx.Meta = &struct {
		Fee         uint64   `json:"fee"`
		LogMessages []string `json:"logMessages"`
	}{Fee: fee, LogMessages: logs}
	tx.Transaction.Message.AccountKeys = []string{payer}
	return tx
}

func TestCollectMinersWindow(t *testing.T) {
	h := &fakeHistory{
		sigs: []ledger.SignatureInfo{
			{Signature: "aaaaaaaaaaaaaaaaaaaaaaaaaaaa", BlockTime: ptr(1000)},
			{Signature: "b", BlockTime: nil},
			{Signature: "c", BlockTime: ptr(970)},
			{Signature: "d", BlockTime: ptr(960)},
			{Signature: "e", BlockTime: ptr(930)},
		},
		txs: map[string]*ledger.TransactionMeta{
			"aaaaaaaaaaaaaaaaaaaaaaaaaaaa": txWithLogs("p1", 5000, "Program log: Diff 20"),
			"d":                            txWithLogs("p2", 10000, "Program log: Diff 10", "Program log: Diff 30"),
			"e":                            txWithLogs("p3", 5000, "Program log: Diff 99"),
		},
	}

	report, err := CollectMiners(context.Background(), zaptest.NewLogger(t), h, MinersOptions{
		Program: ledger.DefaultProgramAddress, Window: 60 * time.Second, Limit: 100,
	})
	require.NoError(t, err)

	// "c" fails to fetch and is skipped, "e" is outside the window.
	assert.Equal(t, []string{"aaaaaaaaaaaaaaaaaaaaaaaaaaaa", "c", "d"}, h.fetched)
	require.Len(t, report.Entries, 3)
	assert.Equal(t, "p1", report.Entries[0].FeePayer)
	assert.Equal(t, "aaaaaaaaaaaaaaaaaaa", report.Entries[0].ShortSignature())
	assert.Equal(t, 0.00001, report.Entries[1].FeeSOL)

	assert.Equal(t, 3, report.Stats.Count)
	assert.Equal(t, uint64(30), report.Stats.Max)
	assert.InDelta(t, 20.0, report.Stats.Mean, 1e-9)
	assert.InDelta(t, 10.0, report.Stats.StdDev, 1e-9)

	var out bytes.Buffer
	require.NoError(t, RenderMiners(&out, report))
	assert.Contains(t, out.String(), "Max difficulty for")
}

func TestCollectMinersLimit(t *testing.T) {
	h := &fakeHistory{
		sigs: []ledger.SignatureInfo{
			{Signature: "a", BlockTime: ptr(1000)},
			{Signature: "b", BlockTime: ptr(999)},
		},
		txs: map[string]*ledger.TransactionMeta{
			"a": txWithLogs("p", 0, "Program log: Diff 1", "Program log: Diff 2", "Program log: Diff 3"),
			"b": txWithLogs("p", 0, "Program log: Diff 4"),
		},
	}

	report, err := CollectMiners(context.Background(), zaptest.NewLogger(t), h, MinersOptions{Window: time.Minute, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, report.Entries, 2)
	assert.Equal(t, []string{"a"}, h.fetched)
}

func TestSummarise(t *testing.T) {
	assert.Equal(t, MinerStats{}, Summarise(nil))

	s := Summarise([]MinerEntry{{Difficulty: 7}})
	assert.Equal(t, MinerStats{Count: 1, Max: 7, Mean: 7}, s)
	assert.False(t, math.IsNaN(s.StdDev))
}
