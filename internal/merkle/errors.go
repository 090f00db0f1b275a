package merkle

import "errors"

// Failure modes per §4.1.
var (
	// ErrInvalidRecord is returned when traversal hits a node hash with no
	// matching record in the store.
	ErrInvalidRecord = errors.New("merkle: missing node during traversal")
	// ErrDeserialization is returned when a stored node fails to decode.
	ErrDeserialization = errors.New("merkle: node deserialization failed")
	// ErrInvalidHash is returned by ParseHash for a malformed hash string. A
	// well-formed root with no stored node surfaces as ErrInvalidRecord.
	ErrInvalidHash = errors.New("merkle: root hash not found")
	// ErrInvalidAddress is returned for malformed addresses (not 70 hex chars).
	ErrInvalidAddress = errors.New("merkle: address must be 70 hex characters")
)
