// Package consensus implements the bidirectional consensus facade (C9),
// per §4.8: core-to-engine notifications delivered by a single background
// worker, and engine-to-core commands. Grounded on the teacher's
// core/consensus.go, core/consensus_constructor.go, and
// core/consensus_methods.go for the notifier/worker shape, and on
// original_source's validator/src/consensus/notifier.rs and
// sdk/rust/src/consensus/{engine,service}.rs for the message catalogue and
// the per-connection EngineDeactivated scoping. **[EXPANSION]** the wire
// protocol named in §6 is modeled concretely: length-delimited protobuf
// framing (wire.go) keyed by a connection_id minted with google/uuid, with
// command failures expressed as gRPC status errors.
package consensus

import (
	"github.com/google/uuid"

	"ledgercore/internal/types"
)

// NotificationKind enumerates §4.8's core-to-engine notifications.
type NotificationKind int

const (
	KindBlockNew NotificationKind = iota
	KindBlockValid
	KindBlockInvalid
	KindBlockCommit
	KindPeerConnected
	KindPeerDisconnected
	KindPeerMessage
	KindEngineActivated
	KindEngineDeactivated
)

// Notification is a single core-to-engine event. Only the fields relevant
// to Kind are populated.
type Notification struct {
	Kind NotificationKind

	// ConnectionID scopes the notification to one engine connection;
	// required for EngineDeactivated, optional (broadcast to the only
	// attached engine) otherwise in a single-engine deployment.
	ConnectionID uuid.UUID

	Block   *types.Block // BlockNew
	BlockID string       // BlockValid, BlockInvalid, BlockCommit

	PeerID          string // PeerConnected, PeerDisconnected, PeerMessage (sender)
	PeerMessageType string // PeerMessage
	PeerPayload     []byte // PeerMessage

	ChainHead string   // EngineActivated
	Peers     []string // EngineActivated
	LocalID   string   // EngineActivated
}

// CommandKind enumerates §4.8's engine-to-core commands.
type CommandKind int

const (
	CmdInitializeBlock CommandKind = iota
	CmdSummarizeBlock
	CmdFinalizeBlock
	CmdCancelBlock
	CmdCheckBlocks
	CmdCommitBlock
	CmdIgnoreBlock
	CmdFailBlock
	CmdGetBlock
	CmdGetSetting
	CmdGetState
	CmdSendTo
	CmdBroadcast
)

// Command is a single engine-to-core request. Only the fields relevant to
// Kind are populated. Its outcome is the CommandResult that dispatching it
// returns.
type Command struct {
	Kind         CommandKind
	ConnectionID uuid.UUID

	PreviousBlockID string // InitializeBlock; empty means "none supplied"
	Force           bool   // SummarizeBlock, FinalizeBlock
	ConsensusData   []byte // FinalizeBlock

	BlockIDs []string // CheckBlocks, GetBlock
	BlockID  string   // CommitBlock, IgnoreBlock, FailBlock, GetSetting, GetState

	SettingKeys []string // GetSetting
	Address     string   // GetState

	PeerID      string // SendTo
	MessageType string // SendTo, Broadcast
	Payload     []byte // SendTo, Broadcast
}

// CommandResult is the outcome of dispatching a Command.
type CommandResult struct {
	Err error

	Blocks        []*types.Block    // FinalizeBlock, GetBlock
	Digest        []byte            // SummarizeBlock
	SettingValues map[string]string // GetSetting
	StateValue    []byte            // GetState
}
