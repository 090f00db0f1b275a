package main

import "ledgercore/internal/consensus"

// facadeNotifier bridges the block validator's Notifier seam (§4.5 step 4)
// into the consensus facade's BlockValid/BlockInvalid notifications.
type facadeNotifier struct {
	facade *consensus.Facade
}

func (n facadeNotifier) BlockValid(id string) {
	n.facade.Notify(consensus.Notification{Kind: consensus.KindBlockValid, BlockID: id})
}

func (n facadeNotifier) BlockInvalid(id string) {
	n.facade.Notify(consensus.Notification{Kind: consensus.KindBlockInvalid, BlockID: id})
}
