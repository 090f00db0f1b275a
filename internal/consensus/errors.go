package consensus

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrUnknownBlock is returned by BeginCommit for a block id the caller's
// blockKnown predicate does not recognize. Expressed as a gRPC status error
// (rather than a plain sentinel) since commit failures cross the wire
// protocol boundary described in §6 and a consensus engine client expects
// a structured status, not just an error string.
var ErrUnknownBlock = status.New(codes.NotFound, "consensus: commit_block for unknown block id").Err()
