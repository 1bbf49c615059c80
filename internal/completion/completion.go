// Package completion abstracts the upstream text generator as a forward-only
// stream of reply fragments.
package completion

import "context"

// Source is the minimal interface the turn orchestrator needs to drive
// generation. StreamCompletion returns a fragment channel and an error
// channel; the producer closes both when the stream ends. The error channel
// is buffered so a mid-stream failure never blocks the producer. The sequence
// is single-pass and non-restartable; cancel ctx to stop generation early.
type Source interface {
	StreamCompletion(ctx context.Context, prompt string) (<-chan string, <-chan error)
}
