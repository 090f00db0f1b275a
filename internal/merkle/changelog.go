package merkle

import "encoding/json"

// ChangeLogEntry records, for a written root, the node hashes it introduced
// relative to its parent and the parent's node hashes it replaced. This is
// the only cross-root coupling in the store, kept deliberately small and
// local so that pruning never needs a global walk of the structure.
type ChangeLogEntry struct {
	Parent    Hash   `json:"parent"`
	Additions []Hash `json:"additions"`
	Removals  []Hash `json:"removals"`
}

func encodeChangeLog(e *ChangeLogEntry) ([]byte, error) {
	return json.Marshal(e)
}

func decodeChangeLog(raw []byte) (*ChangeLogEntry, error) {
	var e ChangeLogEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, ErrDeserialization
	}
	return &e, nil
}
