package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/andupopescu/ore-cli-extended-stats/internal/mining"
)

// MineRequest is the body of POST /mine.
type MineRequest struct {
	// Challenge is the hex encoding of exactly 32 bytes.
	Challenge string `json:"challenge"`
	// CutoffTime is the time budget in seconds.
	CutoffTime    uint64 `json:"cutoff_time"`
	Threads       uint64 `json:"threads"`
	MinDifficulty uint32 `json:"min_difficulty"`
	StartNonce    uint64 `json:"start_nonce"`
	EndNonce      uint64 `json:"end_nonce"`
	UseMaxThreads bool   `json:"use_max_threads"`
}

// MineResponse is the reply to POST /mine.
type MineResponse struct {
	BestNonce      uint64   `json:"best_nonce"`
	BestDifficulty uint32   `json:"best_difficulty"`
	BestHash       string   `json:"best_hash"`
	BestHashBytes  ByteList `json:"best_hash_bytes"`
	URL            string   `json:"url"`
}

// NewMineResponse builds the response for a job result. BestHash is the
// base58 form of the hash and BestHashBytes is the raw digest.
func NewMineResponse(result mining.JobResult, url string) MineResponse {
	return MineResponse{
		BestNonce:      result.Nonce,
		BestDifficulty: result.Difficulty,
		BestHash:       result.Solution.HashString(),
		BestHashBytes:  ByteList(result.Solution.D[:]),
		URL:            url,
	}
}

// ByteList marshals as a JSON array of numbers instead of base64.
type ByteList []byte

// MarshalJSON implements json.Marshaler.
func (b ByteList) MarshalJSON() ([]byte, error) {
	ints := make([]uint16, len(b))
	for i, v := range b {
		ints[i] = uint16(v)
	}
	return json.Marshal(ints)
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *ByteList) UnmarshalJSON(data []byte) error {
	var raw []json.Number
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]byte, 0, len(raw))
	for _, n := range raw {
		v, err := n.Int64()
		if err != nil || v < 0 || v > 255 {
			return fmt.Errorf("byte value out of range: %s", n)
		}
		out = append(out, byte(v))
	}
	*b = out
	return nil
}

// Response wraps non-mining API replies.
type Response struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	Field     string    `json:"field,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
