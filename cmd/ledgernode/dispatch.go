package main

import (
	"fmt"
	"sync"

	"ledgercore/internal/blockmgr"
	"ledgercore/internal/blockstore"
	"ledgercore/internal/blockvalidator"
	"ledgercore/internal/chaincontroller"
	"ledgercore/internal/consensus"
	"ledgercore/internal/publisher"
	"ledgercore/internal/pruning"
	"ledgercore/internal/types"
)

// Dispatcher turns one engine-to-core Command (§4.8) into a CommandResult,
// fanning each kind out to whichever component owns that concern. It is
// the concrete half of the command dispatch the consensus facade's own
// doc comment leaves to its caller.
type Dispatcher struct {
	publisher  *publisher.Publisher
	validator  *blockvalidator.Validator
	scheduler  *blockvalidator.Scheduler
	mgr        *blockmgr.Manager
	store      *blockstore.Store
	controller *chaincontroller.Controller
	facade     *consensus.Facade

	pruner         *pruning.Manager
	pruneDepth     uint64
	pruneInterval  int
	pruneMu        sync.Mutex
	commitsPending int
}

// NewDispatcher wires a Dispatcher atop the node's already-constructed
// components. pruner may be nil to disable the periodic post-commit prune
// sweep (e.g. in tests); pruneInterval <= 0 also disables it.
func NewDispatcher(
	pub *publisher.Publisher,
	validator *blockvalidator.Validator,
	scheduler *blockvalidator.Scheduler,
	mgr *blockmgr.Manager,
	store *blockstore.Store,
	controller *chaincontroller.Controller,
	facade *consensus.Facade,
	pruner *pruning.Manager,
	pruneDepth uint64,
	pruneInterval int,
) *Dispatcher {
	return &Dispatcher{
		publisher:     pub,
		validator:     validator,
		scheduler:     scheduler,
		mgr:           mgr,
		store:         store,
		controller:    controller,
		facade:        facade,
		pruner:        pruner,
		pruneDepth:    pruneDepth,
		pruneInterval: pruneInterval,
	}
}

// Dispatch executes cmd and returns its result. It never panics on a
// malformed command; unsupported or out-of-scope kinds come back as a
// CommandResult carrying a descriptive error instead.
func (d *Dispatcher) Dispatch(cmd consensus.Command) consensus.CommandResult {
	switch cmd.Kind {
	case consensus.CmdInitializeBlock:
		return d.initializeBlock(cmd)
	case consensus.CmdSummarizeBlock:
		digest, err := d.publisher.SummarizeBlock(cmd.Force)
		return consensus.CommandResult{Err: err, Digest: digest}
	case consensus.CmdFinalizeBlock:
		return d.finalizeBlock(cmd)
	case consensus.CmdCancelBlock:
		d.publisher.CancelBlock()
		return consensus.CommandResult{}
	case consensus.CmdCheckBlocks:
		return d.checkBlocks(cmd.BlockIDs)
	case consensus.CmdCommitBlock:
		if err := d.controller.Commit(cmd.BlockID); err != nil {
			return consensus.CommandResult{Err: err}
		}
		d.maybePrune()
		return consensus.CommandResult{}
	case consensus.CmdIgnoreBlock, consensus.CmdFailBlock:
		// Releasing the scheduler's hold on the block is all core-side
		// bookkeeping a failed or ignored block needs; per §4.5 it is not
		// retried automatically.
		d.scheduler.Done(cmd.BlockID)
		return consensus.CommandResult{}
	case consensus.CmdGetBlock:
		return d.getBlocks(cmd.BlockIDs)
	case consensus.CmdGetSetting, consensus.CmdGetState:
		return consensus.CommandResult{Err: fmt.Errorf("consensus: settings/state views are transaction-family concerns, out of scope")}
	case consensus.CmdSendTo, consensus.CmdBroadcast:
		return consensus.CommandResult{Err: fmt.Errorf("consensus: peer messaging is out of scope")}
	default:
		return consensus.CommandResult{Err: fmt.Errorf("consensus: unknown command kind %d", cmd.Kind)}
	}
}

// maybePrune runs the State Pruning Manager's sweep every pruneInterval
// commits, per §4.9 ("execute(depth)"): depth trails the current chain
// head by pruneDepth blocks so a just-committed fork's state stays around
// long enough for in-flight readers.
func (d *Dispatcher) maybePrune() {
	if d.pruner == nil || d.pruneInterval <= 0 {
		return
	}
	d.pruneMu.Lock()
	d.commitsPending++
	due := d.commitsPending >= d.pruneInterval
	if due {
		d.commitsPending = 0
	}
	d.pruneMu.Unlock()
	if !due {
		return
	}

	head, ok, err := d.store.ChainHead()
	if err != nil || !ok {
		return
	}
	block, ok, err := d.store.Get(head)
	if err != nil || !ok || block.Header.BlockNum < d.pruneDepth {
		return
	}
	d.pruner.Execute(block.Header.BlockNum - d.pruneDepth)
}

func (d *Dispatcher) initializeBlock(cmd consensus.Command) consensus.CommandResult {
	prev := cmd.PreviousBlockID
	if prev == "" {
		prev = types.NullBlockIdentifier
	}
	return consensus.CommandResult{Err: d.publisher.InitializeBlock(prev)}
}

// finalizeBlock closes the publisher's candidate and, on success, admits
// the new block to the Block Manager and announces it to the engine with
// BlockNew, mirroring §4.8's notification for a locally produced block
// (gossip being the network-facing source of BlockNew, out of scope here).
func (d *Dispatcher) finalizeBlock(cmd consensus.Command) consensus.CommandResult {
	result, err := d.publisher.FinalizeBlock(cmd.ConsensusData, cmd.Force)
	if err != nil {
		return consensus.CommandResult{Err: err}
	}
	if err := d.mgr.Put([]*types.Block{result.Block}); err != nil {
		return consensus.CommandResult{Err: err}
	}
	d.facade.Notify(consensus.Notification{Kind: consensus.KindBlockNew, Block: result.Block})
	return consensus.CommandResult{Blocks: []*types.Block{result.Block}}
}

// checkBlocks admits blocks already known to the Block Manager into the
// block scheduler, then submits whatever the scheduler says is
// immediately ready to the validator's worker pool. Results surface
// asynchronously via BlockValid/BlockInvalid, so this returns no result
// payload, matching §4.5's fire-and-forget scheduling contract.
func (d *Dispatcher) checkBlocks(ids []string) consensus.CommandResult {
	blocks := d.mgr.Get(ids)
	if len(blocks) != len(ids) {
		return consensus.CommandResult{Err: fmt.Errorf("consensus: check_blocks named an unknown block")}
	}
	ready := d.scheduler.Schedule(blocks)
	d.validator.Submit(ready)
	return consensus.CommandResult{}
}

// getBlocks resolves ids against the Block Manager first (live candidates
// and recent chain blocks), falling back to the persistent block store for
// anything the manager has already evicted.
func (d *Dispatcher) getBlocks(ids []string) consensus.CommandResult {
	blocks := make([]*types.Block, 0, len(ids))
	for _, id := range ids {
		if found := d.mgr.Get([]string{id}); len(found) == 1 {
			blocks = append(blocks, found[0])
			continue
		}
		b, ok, err := d.store.Get(id)
		if err != nil {
			return consensus.CommandResult{Err: err}
		}
		if !ok {
			return consensus.CommandResult{Err: fmt.Errorf("consensus: block not found: %s", id)}
		}
		blocks = append(blocks, b)
	}
	return consensus.CommandResult{Blocks: blocks}
}
