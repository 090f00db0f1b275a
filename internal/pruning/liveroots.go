package pruning

import (
	"ledgercore/internal/blockmgr"
	"ledgercore/internal/merkle"
)

// BlockManagerLiveRoots adapts a *blockmgr.Manager to LiveRoots: every
// block the Block Manager still tracks, on the committed chain or a live
// side branch, counts as a live root.
type BlockManagerLiveRoots struct {
	Mgr *blockmgr.Manager
}

// LiveRoots implements LiveRoots.
func (b BlockManagerLiveRoots) LiveRoots() map[merkle.Hash]struct{} {
	roots := b.Mgr.LiveStateRoots()
	out := make(map[merkle.Hash]struct{}, len(roots))
	for _, s := range roots {
		h, err := merkle.ParseHash(s)
		if err != nil {
			continue
		}
		out[h] = struct{}{}
	}
	return out
}
