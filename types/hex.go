package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

func HexToBytes(hexStr string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(hexStr, "0x"))
}

type HexBytes []byte

func (hb HexBytes) String() string {
	return "0x" + hex.EncodeToString(hb)
}

func (hb HexBytes) MarshalJSON() ([]byte, error) {
	return []byte(`"` + hb.String() + `"`), nil
}

func (hb *HexBytes) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid hex string: %s", data)
	}
	bz, err := HexToBytes(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*hb = bz
	return nil
}

// FieldHex renders a field element as 32 big-endian bytes.
func FieldHex(e fr.Element) HexBytes {
	b := e.Bytes()
	return b[:]
}

func FieldFromHex(s string) (fr.Element, error) {
	var e fr.Element
	bz, err := HexToBytes(s)
	if err != nil {
		return e, err
	}
	if len(bz) > fr.Bytes {
		return e, fmt.Errorf("field element too long: %d bytes", len(bz))
	}
	padded := make([]byte, fr.Bytes)
	copy(padded[fr.Bytes-len(bz):], bz)
	if err := e.SetBytesCanonical(padded); err != nil {
		return e, fmt.Errorf("field element out of range: %w", err)
	}
	return e, nil
}
