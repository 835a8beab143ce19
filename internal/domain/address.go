// internal/domain/address.go
package domain

import (
	"strings"

	"house-ledger/internal/util"
)

// AddressValidator checks addresses against the format of the chain in use:
// a fixed prefix followed by a fixed number of hex characters.
type AddressValidator struct {
	Prefix    string
	HexLength int
}

// NewAddressValidator returns a validator; an empty prefix or non-positive
// length falls back to EVM-style "0x" + 40 hex.
func NewAddressValidator(prefix string, hexLength int) AddressValidator {
	if prefix == "" {
		prefix = "0x"
	}
	if hexLength <= 0 {
		hexLength = 40
	}
	return AddressValidator{Prefix: strings.ToLower(prefix), HexLength: hexLength}
}

// Normalize validates address and returns its lower-cased form.
func (v AddressValidator) Normalize(address string) (string, error) {
	addr := strings.ToLower(strings.TrimSpace(address))
	if addr == "" || !strings.HasPrefix(addr, v.Prefix) {
		return "", util.ErrInvalidAddress
	}
	body := addr[len(v.Prefix):]
	if len(body) != v.HexLength {
		return "", util.ErrInvalidAddress
	}
	for _, c := range body {
		if !isHex(c) {
			return "", util.ErrInvalidAddress
		}
	}
	return addr, nil
}

func isHex(c rune) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f')
}
