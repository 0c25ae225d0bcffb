// Package util contains internal helpers (hashing, sharding, padding).
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import "fmt"

// Hasher produces a 64-bit shard hash for a key. Domain packages provide
// their own hashers for composite keys; DefaultHasher covers the common
// scalar key types.
type Hasher[K comparable] func(K) uint64

// DefaultHasher hashes common key types using 64-bit FNV-1a.
// Supported: string, []byte, fixed byte arrays up to 64 bytes, all int/uint
// widths, and fmt.Stringer. For composite struct keys, supply a custom
// Hasher instead. Panicking on unsupported types is deliberate to avoid
// silently poor hashing.
func DefaultHasher[K comparable](k K) uint64 {
	switch v := any(k).(type) {
	case string:
		return Fnv64aBytes([]byte(v))
	case []byte:
		return Fnv64aBytes(v)
	case [16]byte:
		return Fnv64aBytes(v[:])
	case [20]byte:
		return Fnv64aBytes(v[:])
	case [32]byte:
		return Fnv64aBytes(v[:])
	case [64]byte:
		return Fnv64aBytes(v[:])
	case uint8:
		return Fnv64aUint64(uint64(v))
	case uint16:
		return Fnv64aUint64(uint64(v))
	case uint32:
		return Fnv64aUint64(uint64(v))
	case uint64:
		return Fnv64aUint64(v)
	case uint:
		return Fnv64aUint64(uint64(v))
	case int8:
		return Fnv64aUint64(uint64(uint8(v)))
	case int16:
		return Fnv64aUint64(uint64(uint16(v)))
	case int32:
		return Fnv64aUint64(uint64(uint32(v)))
	case int64:
		return Fnv64aUint64(uint64(v))
	case int:
		return Fnv64aUint64(uint64(v))
	case fmt.Stringer:
		return Fnv64aBytes([]byte(v.String()))
	default:
		panic(fmt.Sprintf("util.DefaultHasher: unsupported key type %T; provide a custom hasher", k))
	}
}

const (
	fnvOffset64 = 1469598103934665603
	fnvPrime64  = 1099511628211
)

// Fnv64aBytes hashes a byte slice with 64-bit FNV-1a.
func Fnv64aBytes(b []byte) uint64 {
	h := uint64(fnvOffset64)
	for _, c := range b {
		h ^= uint64(c)
		h *= fnvPrime64
	}
	return h
}

// Fnv64aUint64 hashes the 8 little-endian bytes of u without allocating.
func Fnv64aUint64(u uint64) uint64 {
	return Fnv64aMix(fnvOffset64, u)
}

// Fnv64aMix folds an additional 64-bit word into an existing hash.
// Used to combine the parts of composite keys (address + chain, fingerprint
// + model + prompt) into one shard hash.
func Fnv64aMix(h, u uint64) uint64 {
	for i := 0; i < 8; i++ {
		h ^= uint64(byte(u))
		h *= fnvPrime64
		u >>= 8
	}
	return h
}

// Fnv64aMixBytes folds a byte slice into an existing hash.
func Fnv64aMixBytes(h uint64, b []byte) uint64 {
	for _, c := range b {
		h ^= uint64(c)
		h *= fnvPrime64
	}
	return h
}
