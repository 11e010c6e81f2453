package ledger

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// AddressSize is the length of a ledger account address.
const AddressSize = 32

const pdaMarker = "ProgramDerivedAddress"

// ErrNoViableBump is returned when no bump seed yields an off-curve address.
var ErrNoViableBump = errors.New("unable to find a viable program address bump seed")

// Address is a ledger account address.
type Address [AddressSize]byte

// String returns the base58 form.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// ParseAddress decodes a base58 address.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw, err := base58.Decode(s)
	if err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(raw) != AddressSize {
		return a, fmt.Errorf("invalid address %q: decoded to %d bytes", s, len(raw))
	}
	copy(a[:], raw)
	return a, nil
}

// FindProgramAddress derives the program-owned address for seeds, trying bump
// seeds from 255 down until the hash is not a valid curve point.
func FindProgramAddress(seeds [][]byte, program Address) (Address, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, s := range seeds {
			h.Write(s)
		}
		h.Write([]byte{byte(bump)})
		h.Write(program[:])
		h.Write([]byte(pdaMarker))

		var candidate Address
		copy(candidate[:], h.Sum(nil))
		if !onCurve(candidate) {
			return candidate, uint8(bump), nil
		}
	}
	return Address{}, 0, ErrNoViableBump
}

// onCurve reports whether a decompresses to a curve point. SetBytes reduces
// a y coordinate in [p, 2^255) mod p and accepts x = 0 with the sign bit set,
// the same decoding the chain uses for program addresses.
func onCurve(a Address) bool {
	_, err := new(edwards25519.Point).SetBytes(a[:])
	return err == nil
}

// BusCount is the number of reward busses of the program.
const BusCount = 8

// DeriveBusAddresses returns the addresses of the program's reward busses.
func DeriveBusAddresses(program Address) ([]Address, error) {
	out := make([]Address, 0, BusCount)
	for i := 0; i < BusCount; i++ {
		addr, _, err := FindProgramAddress([][]byte{[]byte("bus"), {byte(i)}}, program)
		if err != nil {
			return nil, fmt.Errorf("bus %d: %w", i, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

// DeriveConfigAddress returns the address of the program's config account.
func DeriveConfigAddress(program Address) (Address, error) {
	addr, _, err := FindProgramAddress([][]byte{[]byte("config")}, program)
	return addr, err
}
