package relayer

import "math/big"

// Chained reference prefixes, stored in the top 16 bits of a uint256. Temporary
// references are cleared when read.
const (
	TemporaryPrefix = 0xba10
	ReadOnlyPrefix  = 0xba11
)

var (
	prefixShift = uint(256 - 16)
	keyMask     = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), prefixShift), big.NewInt(1))
)

// ChainedReference builds a temporary reference for key.
func ChainedReference(key int64) *big.Int {
	return NewReference(big.NewInt(key), true)
}

// ReadOnlyReference builds a reference that survives reads.
func ReadOnlyReference(key int64) *big.Int {
	return NewReference(big.NewInt(key), false)
}

// NewReference places the prefix above key. Bits of key above 240 are dropped.
func NewReference(key *big.Int, temporary bool) *big.Int {
	prefix := int64(ReadOnlyPrefix)
	if temporary {
		prefix = TemporaryPrefix
	}
	ref := new(big.Int).Lsh(big.NewInt(prefix), prefixShift)
	return ref.Or(ref, new(big.Int).And(key, keyMask))
}

// IsChainedReference reports whether value carries either reference prefix.
func IsChainedReference(value *big.Int) bool {
	if value == nil {
		return false
	}
	prefix := new(big.Int).Rsh(value, prefixShift).Int64()
	return prefix == TemporaryPrefix || prefix == ReadOnlyPrefix
}

// IsTemporary reports whether a reference is cleared on read.
func IsTemporary(ref *big.Int) bool {
	return ref != nil && new(big.Int).Rsh(ref, prefixShift).Int64() == TemporaryPrefix
}

// ReferenceKey returns the low 240 bits of a reference.
func ReferenceKey(ref *big.Int) *big.Int {
	return new(big.Int).And(ref, keyMask)
}
