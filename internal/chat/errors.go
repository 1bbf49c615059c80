package chat

import "errors"

// Per-request failures surfaced by the orchestrator. All are caught at the
// transport boundary and mapped to a closed set of user-visible codes; store
// and crypto internals never leak.
var (
	// ErrRoomNotFound indicates the requested room does not exist.
	ErrRoomNotFound = errors.New("room not found")

	// ErrRoomInactive indicates the room has ended and rejects new turns.
	ErrRoomInactive = errors.New("room is not active")

	// ErrChainCycle indicates a room's parent-pointer chain loops back on
	// itself. The walk is depth-guarded so a corrupt chain is a detected
	// error, never an infinite loop.
	ErrChainCycle = errors.New("message chain contains a cycle")
)
