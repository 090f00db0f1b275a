package consensus

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"ledgercore/internal/types"
)

// EncodeNotification renders n as a protobuf struct envelope. Using
// structpb.Struct (a pre-generated, ecosystem-maintained message type)
// rather than a hand-authored .pb.go lets this package produce genuine
// protobuf wire bytes without needing protoc codegen.
func EncodeNotification(n Notification) (*structpb.Struct, error) {
	fields := map[string]interface{}{"kind": float64(n.Kind)}
	if n.BlockID != "" {
		fields["block_id"] = n.BlockID
	}
	if n.Block != nil {
		fields["block_header_signature"] = n.Block.HeaderSignature
	}
	if n.PeerID != "" {
		fields["peer_id"] = n.PeerID
	}
	if n.PeerMessageType != "" {
		fields["peer_message_type"] = n.PeerMessageType
	}
	if len(n.PeerPayload) > 0 {
		fields["peer_payload"] = string(n.PeerPayload)
	}
	if n.ChainHead != "" {
		fields["chain_head"] = n.ChainHead
	}
	if len(n.Peers) > 0 {
		peers := make([]interface{}, len(n.Peers))
		for i, p := range n.Peers {
			peers[i] = p
		}
		fields["peers"] = peers
	}
	if n.LocalID != "" {
		fields["local_id"] = n.LocalID
	}
	return structpb.NewStruct(fields)
}

// EncodeCommand renders cmd as a protobuf struct envelope carrying its
// JSON-encoded form in a single command_json field. Unlike
// EncodeNotification, which maps each populated field into its own
// structpb.Value, this wraps the whole message, so no Command field needs
// a hand-written mapping.
func EncodeCommand(cmd Command) (*structpb.Struct, error) {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("consensus: marshal command: %w", err)
	}
	return structpb.NewStruct(map[string]interface{}{"command_json": string(raw)})
}

// DecodeCommand is the inverse of EncodeCommand.
func DecodeCommand(s *structpb.Struct) (Command, error) {
	var cmd Command
	field, ok := s.GetFields()["command_json"]
	if !ok {
		return cmd, fmt.Errorf("consensus: command envelope missing command_json field")
	}
	if err := json.Unmarshal([]byte(field.GetStringValue()), &cmd); err != nil {
		return cmd, fmt.Errorf("consensus: unmarshal command: %w", err)
	}
	return cmd, nil
}

// commandResultWire is CommandResult's JSON wire shape; Err is carried as a
// string since error does not itself round-trip through JSON.
type commandResultWire struct {
	Err           string            `json:"err,omitempty"`
	Blocks        []*types.Block    `json:"blocks,omitempty"`
	Digest        []byte            `json:"digest,omitempty"`
	SettingValues map[string]string `json:"setting_values,omitempty"`
	StateValue    []byte            `json:"state_value,omitempty"`
}

// EncodeCommandResult renders r as a protobuf struct envelope, the reply
// counterpart to EncodeCommand.
func EncodeCommandResult(r CommandResult) (*structpb.Struct, error) {
	w := commandResultWire{Blocks: r.Blocks, Digest: r.Digest, SettingValues: r.SettingValues, StateValue: r.StateValue}
	if r.Err != nil {
		w.Err = r.Err.Error()
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("consensus: marshal command result: %w", err)
	}
	return structpb.NewStruct(map[string]interface{}{"result_json": string(raw)})
}

// DecodeCommandResult is the inverse of EncodeCommandResult.
func DecodeCommandResult(s *structpb.Struct) (CommandResult, error) {
	var w commandResultWire
	field, ok := s.GetFields()["result_json"]
	if !ok {
		return CommandResult{}, fmt.Errorf("consensus: result envelope missing result_json field")
	}
	if err := json.Unmarshal([]byte(field.GetStringValue()), &w); err != nil {
		return CommandResult{}, fmt.Errorf("consensus: unmarshal command result: %w", err)
	}
	result := CommandResult{Blocks: w.Blocks, Digest: w.Digest, SettingValues: w.SettingValues, StateValue: w.StateValue}
	if w.Err != "" {
		result.Err = errors.New(w.Err)
	}
	return result, nil
}

// WriteDelimited writes msg to w as a 4-byte big-endian length prefix
// followed by its protobuf encoding, matching §6's "length-delimited
// protobuf messages over a duplex socket".
func WriteDelimited(w io.Writer, msg proto.Message) error {
	raw, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("consensus: marshal: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(raw)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("consensus: write length prefix: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("consensus: write message: %w", err)
	}
	return nil
}

// ReadDelimited reads one length-delimited protobuf message from r into
// msg.
func ReadDelimited(r io.Reader, msg proto.Message) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return fmt.Errorf("consensus: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("consensus: read message: %w", err)
	}
	if err := proto.Unmarshal(buf, msg); err != nil {
		return fmt.Errorf("consensus: unmarshal: %w", err)
	}
	return nil
}

// WireTransport delivers a notification to whichever engine connection
// ConnectionID names.
type WireTransport interface {
	Send(connID uuid.UUID, n Notification) error
}

// TCPTransport is a WireTransport over registered net.Conn duplex sockets,
// one per connection_id, per §6.
type TCPTransport struct {
	mu    sync.Mutex
	conns map[uuid.UUID]net.Conn
}

// NewTCPTransport builds an empty transport; engines register their
// connection as they attach.
func NewTCPTransport() *TCPTransport {
	return &TCPTransport{conns: make(map[uuid.UUID]net.Conn)}
}

// Register associates connID with conn, the duplex socket an attaching
// engine opened.
func (t *TCPTransport) Register(connID uuid.UUID, conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[connID] = conn
}

// Unregister drops connID's association, e.g. once EngineDeactivated has
// been delivered.
func (t *TCPTransport) Unregister(connID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, connID)
}

// Send implements WireTransport.
func (t *TCPTransport) Send(connID uuid.UUID, n Notification) error {
	t.mu.Lock()
	conn, ok := t.conns[connID]
	if !ok && connID == uuid.Nil && len(t.conns) == 1 {
		for _, c := range t.conns {
			conn, ok = c, true
		}
	}
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("consensus: no connection registered for %s", connID)
	}
	env, err := EncodeNotification(n)
	if err != nil {
		return err
	}
	return WriteDelimited(conn, env)
}
