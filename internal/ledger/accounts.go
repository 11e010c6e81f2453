package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	// TokenDecimals is the number of decimals of the ORE token.
	TokenDecimals = 11
	// LamportsPerSOL converts fees to SOL.
	LamportsPerSOL = 1_000_000_000

	discriminatorSize = 8
	busSize           = discriminatorSize + 4*8
	configSize        = discriminatorSize + AddressSize + 4*8
)

// ErrShortAccount is returned when account data is smaller than its layout.
var ErrShortAccount = errors.New("account data too short")

// Bus is a reward bus account.
type Bus struct {
	ID                 uint64 `json:"id"`
	Rewards            uint64 `json:"rewards"`
	TheoreticalRewards uint64 `json:"theoretical_rewards"`
	TopBalance         uint64 `json:"top_balance"`
}

// DecodeBus decodes bus account data.
func DecodeBus(data []byte) (Bus, error) {
	if len(data) < busSize {
		return Bus{}, fmt.Errorf("bus: %w: %d bytes", ErrShortAccount, len(data))
	}
	b := data[discriminatorSize:]
	return Bus{
		ID:                 binary.LittleEndian.Uint64(b[0:]),
		Rewards:            binary.LittleEndian.Uint64(b[8:]),
		TheoreticalRewards: binary.LittleEndian.Uint64(b[16:]),
		TopBalance:         binary.LittleEndian.Uint64(b[24:]),
	}, nil
}

// ProgramConfig is the program's global config account.
type ProgramConfig struct {
	Admin          Address `json:"admin"`
	BaseRewardRate uint64  `json:"base_reward_rate"`
	LastResetAt    int64   `json:"last_reset_at"`
	MinDifficulty  uint64  `json:"min_difficulty"`
	TopBalance     uint64  `json:"top_balance"`
}

// DecodeConfig decodes config account data.
func DecodeConfig(data []byte) (ProgramConfig, error) {
	if len(data) < configSize {
		return ProgramConfig{}, fmt.Errorf("config: %w: %d bytes", ErrShortAccount, len(data))
	}
	b := data[discriminatorSize:]
	var c ProgramConfig
	copy(c.Admin[:], b[:AddressSize])
	b = b[AddressSize:]
	c.BaseRewardRate = binary.LittleEndian.Uint64(b[0:])
	c.LastResetAt = int64(binary.LittleEndian.Uint64(b[8:]))
	c.MinDifficulty = binary.LittleEndian.Uint64(b[16:])
	c.TopBalance = binary.LittleEndian.Uint64(b[24:])
	return c, nil
}

// FormatAmount renders a raw token amount with TokenDecimals decimals,
// trimming trailing zeros.
func FormatAmount(amount uint64) string {
	s := new(big.Rat).SetFrac(new(big.Int).SetUint64(amount), big.NewInt(1e11)).FloatString(TokenDecimals)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// TokenAmount converts a raw token amount to a float.
func TokenAmount(amount uint64) float64 {
	return float64(amount) / 1e11
}

// LamportsToSOL converts lamports to SOL.
func LamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / LamportsPerSOL
}
