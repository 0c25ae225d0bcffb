// Package chain defines the supported EVM network identifiers.
package chain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// ID is a numeric EVM chain identifier.
type ID uint64

const (
	Ethereum  ID = 1
	Polygon   ID = 137
	Base      ID = 8453
	Arbitrum  ID = 42161
	Avalanche ID = 43114
)

// ErrUnsupported is wrapped by every parse failure.
var ErrUnsupported = fmt.Errorf("unsupported chain")

// All returns the supported chains in a stable order.
func All() []ID {
	return []ID{Ethereum, Polygon, Base, Arbitrum, Avalanche}
}

// Valid reports whether id is a supported chain.
func (id ID) Valid() bool {
	switch id {
	case Ethereum, Polygon, Base, Arbitrum, Avalanche:
		return true
	}
	return false
}

// Name returns the human-readable chain name, or "unknown" for an
// unsupported value.
func (id ID) Name() string {
	switch id {
	case Ethereum:
		return "Ethereum"
	case Polygon:
		return "Polygon"
	case Base:
		return "Base"
	case Arbitrum:
		return "Arbitrum"
	case Avalanche:
		return "Avalanche"
	}
	return "unknown"
}

func (id ID) String() string { return id.Name() }

// FromUint64 validates a raw numeric chain identifier.
func FromUint64(v uint64) (ID, error) {
	id := ID(v)
	if !id.Valid() {
		return 0, fmt.Errorf("%w: id %d (supported: 1, 137, 8453, 42161, 43114)", ErrUnsupported, v)
	}
	return id, nil
}

// Parse accepts a numeric chain ID ("137"), a chain name ("Polygon",
// case-insensitive), or a legacy ticker alias ("MATIC", "AVAX", "ARB",
// "UNI") kept for backward compatibility with older callers.
func Parse(s string) (ID, error) {
	if v, err := strconv.ParseUint(s, 10, 64); err == nil {
		return FromUint64(v)
	}
	switch strings.ToUpper(s) {
	case "ETHEREUM", "UNI":
		return Ethereum, nil
	case "POLYGON", "MATIC":
		return Polygon, nil
	case "BASE":
		return Base, nil
	case "ARBITRUM", "ARB":
		return Arbitrum, nil
	case "AVALANCHE", "AVAX":
		return Avalanche, nil
	}
	return 0, fmt.Errorf("%w: name %q (supported: Ethereum, Polygon, Base, Arbitrum, Avalanche)", ErrUnsupported, s)
}

// UnmarshalJSON accepts either a JSON number (137) or a string
// ("137", "Polygon", "MATIC"). Marshaling stays the default numeric form.
func (id *ID) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		parsed, err := FromUint64(uint64(v))
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	}
	return fmt.Errorf("%w: expected a chain ID number or name, got %s", ErrUnsupported, data)
}
