package protocol

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ChainSelector represents a numeric chain id.
type ChainSelector uint64

func (c ChainSelector) String() string {
	return fmt.Sprintf("ChainSelector(%d)", c)
}

// Nonce is a monotonic per-source-chain counter used for replay protection.
type Nonce uint64

func (n Nonce) String() string {
	return strconv.FormatUint(uint64(n), 10)
}

// MessageID is the opaque identifier assigned to a message at submission.
type MessageID string

func (id MessageID) String() string {
	return string(id)
}

// ValidatorID identifies a single member of the validator network.
type ValidatorID string

// ByteSlice is a wrapper around []byte that marshals/unmarshals to/from hex instead of base64.
type ByteSlice []byte

// MarshalJSON returns the hex representation of the bytes.
func (h ByteSlice) MarshalJSON() ([]byte, error) {
	if h == nil {
		return []byte("null"), nil
	}
	if len(h) == 0 {
		return []byte(`"0x"`), nil
	}
	return []byte(fmt.Sprintf(`"0x%s"`, hex.EncodeToString(h))), nil
}

// UnmarshalJSON decodes a hex string into a ByteSlice.
func (h *ByteSlice) UnmarshalJSON(data []byte) error {
	v := string(data)
	if v == "null" {
		*h = nil
		return nil
	}
	if len(v) < 2 {
		return fmt.Errorf("invalid ByteSlice: %s", v)
	}

	v = v[1 : len(v)-1]
	if v == "" || v == "0x" {
		*h = ByteSlice{}
		return nil
	}

	b, err := hex.DecodeString(strings.TrimPrefix(v, "0x"))
	if err != nil {
		return fmt.Errorf("failed to decode hex: %w", err)
	}

	*h = ByteSlice(b)
	return nil
}

// String returns the hex representation with 0x prefix.
func (h ByteSlice) String() string {
	if len(h) == 0 {
		return "0x"
	}
	return "0x" + hex.EncodeToString(h)
}

// Bytes32 is a fixed-width digest.
type Bytes32 [32]byte

// NewBytes32FromString creates 32-sized bytes array from hex-encoded string or returns an error.
func NewBytes32FromString(s string) (Bytes32, error) {
	if len(s) > 66 {
		return Bytes32{}, fmt.Errorf("Bytes32 must be at most 32 bytes (64 hex chars) long: %s", s)
	}

	if !strings.HasPrefix(s, "0x") {
		return Bytes32{}, fmt.Errorf("Bytes32 must start with '0x' prefix: %s", s)
	}

	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return Bytes32{}, fmt.Errorf("failed to decode hex: %w", err)
	}

	var res Bytes32
	copy(res[32-len(b):], b)
	return res, nil
}

func (b Bytes32) String() string {
	return "0x" + hex.EncodeToString(b[:])
}

func (b Bytes32) IsEmpty() bool {
	return b == Bytes32{}
}

func (b Bytes32) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`"%s"`, b.String())), nil
}

func (b *Bytes32) UnmarshalJSON(data []byte) error {
	v := string(data)
	if len(v) < 4 {
		return fmt.Errorf("invalid Bytes32: %s", v)
	}
	parsed, err := NewBytes32FromString(v[1 : len(v)-1])
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
