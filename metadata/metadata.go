// Package metadata defines the normalized contract metadata model shared by
// upstream providers and the aggregation service.
package metadata

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftguard/nftguard/chain"
	"github.com/nftguard/nftguard/internal/util"
)

// ContractType classifies a contract by token standard. Values follow the
// upstream wire form (uppercase).
type ContractType string

const (
	TypeERC20    ContractType = "ERC20"
	TypeERC721   ContractType = "ERC721"
	TypeERC1155  ContractType = "ERC1155"
	TypeContract ContractType = "CONTRACT"
	TypeUnknown  ContractType = "UNKNOWN"
)

// ParseContractType maps an upstream contract-type string to a ContractType.
// Anything unrecognized collapses to TypeUnknown rather than erroring; the
// upstream taxonomy is open-ended.
func ParseContractType(s string) ContractType {
	switch strings.ToUpper(s) {
	case "ERC20":
		return TypeERC20
	case "ERC721":
		return TypeERC721
	case "ERC1155":
		return TypeERC1155
	case "CONTRACT":
		return TypeContract
	}
	return TypeUnknown
}

// ContractMetadata is the provider-neutral view of a contract. Fields a
// provider cannot supply stay zero; Extra carries provider-specific
// attributes that have no normalized slot.
type ContractMetadata struct {
	Address      common.Address `json:"address"`
	Chain        chain.ID       `json:"chain"`
	Name         string         `json:"name,omitempty"`
	Symbol       string         `json:"symbol,omitempty"`
	Description  string         `json:"description,omitempty"`
	ContractType ContractType   `json:"contract_type,omitempty"`
	TotalSupply  string         `json:"total_supply,omitempty"`
	Verified     *bool          `json:"verified,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// IsNFT reports whether the contract follows an NFT token standard.
func (m *ContractMetadata) IsNFT() bool {
	return m.ContractType == TypeERC721 || m.ContractType == TypeERC1155
}

// Fingerprint is a stable digest of the classification-relevant fields,
// used to key derived results (e.g. spam predictions) so a metadata change
// invalidates them.
func (m *ContractMetadata) Fingerprint() uint64 {
	h := util.Fnv64aBytes(m.Address[:])
	h = util.Fnv64aMix(h, uint64(m.Chain))
	h = util.Fnv64aMixBytes(h, []byte(m.Name))
	h = util.Fnv64aMixBytes(h, []byte(m.Symbol))
	h = util.Fnv64aMixBytes(h, []byte(m.Description))
	h = util.Fnv64aMixBytes(h, []byte(m.ContractType))
	return h
}

// Key identifies a contract on a chain. It is the cache and registry key for
// metadata lookups.
type Key struct {
	Address common.Address
	Chain   chain.ID
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%s", uint64(k.Chain), strings.ToLower(k.Address.Hex()))
}

// HashKey is the shard hasher for Key: the chain ID folded into the address
// bytes' FNV-1a hash.
func HashKey(k Key) uint64 {
	return util.Fnv64aMix(util.Fnv64aBytes(k.Address[:]), uint64(k.Chain))
}
