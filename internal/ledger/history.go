package ledger

import (
	"strconv"
	"strings"
)

const diffLogPrefix = "Program log: Diff "

// SignatureInfo is one entry of a program's signature history.
type SignatureInfo struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Err       any    `json:"err"`
	Status    string `json:"confirmationStatus"`
}

// TransactionMeta is the subset of a confirmed transaction the miners
// report reads.
type TransactionMeta struct {
	Slot      uint64 `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Meta      *struct {
		Fee         uint64   `json:"fee"`
		LogMessages []string `json:"logMessages"`
	} `json:"meta"`
	Transaction struct {
		Signatures []string `json:"signatures"`
		Message    struct {
			AccountKeys []string `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
}

// FeePayer returns the first account key, or "" when unavailable.
func (t *TransactionMeta) FeePayer() string {
	if t == nil || len(t.Transaction.Message.AccountKeys) == 0 {
		return ""
	}
	return t.Transaction.Message.AccountKeys[0]
}

// Fee returns the transaction fee in lamports.
func (t *TransactionMeta) Fee() uint64 {
	if t == nil || t.Meta == nil {
		return 0
	}
	return t.Meta.Fee
}

// Difficulties returns every difficulty reported in the transaction logs.
func (t *TransactionMeta) Difficulties() []uint64 {
	if t == nil || t.Meta == nil {
		return nil
	}
	var out []uint64
	for _, line := range t.Meta.LogMessages {
		if d, ok := ParseDifficultyLog(line); ok {
			out = append(out, d)
		}
	}
	return out
}

// ParseDifficultyLog extracts N from a "Program log: Diff N" line.
func ParseDifficultyLog(line string) (uint64, bool) {
	rest, ok := strings.CutPrefix(line, diffLogPrefix)
	if !ok {
		return 0, false
	}
	d, err := strconv.ParseUint(strings.TrimSpace(rest), 10, 32)
	if err != nil {
		return 0, false
	}
	return d, true
}
