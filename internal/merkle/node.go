package merkle

import (
	"bytes"
	"crypto/sha512"
	"encoding/binary"
	"sort"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// Hash is the SHA-512 digest identifying a trie node (or, for a root node,
// the Merkle state root).
type Hash [64]byte

// String returns the lowercase hex encoding of h.
func (h Hash) String() string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 128)
	for i, b := range h {
		out[2*i] = hexdigits[b>>4]
		out[2*i+1] = hexdigits[b&0xf]
	}
	return string(out)
}

// IsZero reports whether h is the zero value (used to denote "empty trie").
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalJSON encodes h as a hex string for compact, readable change logs.
func (h Hash) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.String() + `"`), nil
}

// UnmarshalJSON decodes h from a hex string.
func (h *Hash) UnmarshalJSON(data []byte) error {
	if len(data) < 2 {
		return ErrDeserialization
	}
	s := string(data[1 : len(data)-1])
	if len(s) != 128 {
		return ErrDeserialization
	}
	for i := 0; i < 64; i++ {
		hi := hexVal(s[2*i])
		lo := hexVal(s[2*i+1])
		if hi < 0 || lo < 0 {
			return ErrDeserialization
		}
		h[i] = byte(hi<<4 | lo)
	}
	return nil
}

// ParseHash decodes a 128-character lowercase hex string (as produced by
// Hash.String) back into a Hash, for callers that store root hashes as
// plain strings (e.g. a block header's state_root_hash field).
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != 128 {
		return h, ErrInvalidHash
	}
	for i := 0; i < 64; i++ {
		hi := hexVal(s[2*i])
		lo := hexVal(s[2*i+1])
		if hi < 0 || lo < 0 {
			return Hash{}, ErrInvalidHash
		}
		h[i] = byte(hi<<4 | lo)
	}
	return h, nil
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return -1
	}
}

// node is a radix trie node: an optional value and up to 16 single-hex-digit
// children, addressed by nibble.
type node struct {
	hasValue bool
	value    []byte
	children map[byte]Hash // nibble -> child node hash
}

func newEmptyNode() *node {
	return &node{children: make(map[byte]Hash)}
}

func (n *node) clone() *node {
	c := &node{hasValue: n.hasValue, value: append([]byte(nil), n.value...), children: make(map[byte]Hash, len(n.children))}
	for k, v := range n.children {
		c.children[k] = v
	}
	return c
}

// encode produces the canonical byte encoding of n used for both hashing and
// persistence. Children are always iterated in ascending nibble order so
// that the same logical node always produces the same bytes.
func (n *node) encode() []byte {
	var buf bytes.Buffer
	if n.hasValue {
		buf.WriteByte(1)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(n.value)))
		buf.Write(lenBuf[:])
		buf.Write(n.value)
	} else {
		buf.WriteByte(0)
	}

	nibbles := make([]byte, 0, len(n.children))
	for k := range n.children {
		nibbles = append(nibbles, k)
	}
	sort.Slice(nibbles, func(i, j int) bool { return nibbles[i] < nibbles[j] })

	buf.WriteByte(byte(len(nibbles)))
	for _, nb := range nibbles {
		buf.WriteByte(nb)
		h := n.children[nb]
		buf.Write(h[:])
	}
	return buf.Bytes()
}

func decodeNode(raw []byte) (*node, error) {
	if len(raw) < 2 {
		return nil, ErrDeserialization
	}
	n := newEmptyNode()
	pos := 0
	hasValue := raw[pos]
	pos++
	switch hasValue {
	case 0:
		n.hasValue = false
	case 1:
		if pos+4 > len(raw) {
			return nil, ErrDeserialization
		}
		l := int(binary.BigEndian.Uint32(raw[pos : pos+4]))
		pos += 4
		if pos+l > len(raw) {
			return nil, ErrDeserialization
		}
		n.hasValue = true
		n.value = append([]byte(nil), raw[pos:pos+l]...)
		pos += l
	default:
		return nil, ErrDeserialization
	}
	if pos >= len(raw) {
		return nil, ErrDeserialization
	}
	count := int(raw[pos])
	pos++
	for i := 0; i < count; i++ {
		if pos+1+64 > len(raw) {
			return nil, ErrDeserialization
		}
		nb := raw[pos]
		pos++
		var h Hash
		copy(h[:], raw[pos:pos+64])
		pos += 64
		n.children[nb] = h
	}
	return n, nil
}

// hashNode returns the node's content-address identity.
func hashNode(n *node) Hash {
	return sha512.Sum512(n.encode())
}

// cidFor exposes a node's hash as a standard IPFS CIDv1 (raw codec, SHA-512
// multihash) for external tooling, additive to the SHA-512 identity that
// the root-hash invariants are defined over.
func cidFor(h Hash) (cid.Cid, error) {
	mhash, err := mh.Encode(h[:], mh.SHA2_512)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mhash), nil
}
