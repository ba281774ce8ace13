package domain

import "context"

// Lifecyclable is a supervised worker with deterministic start and stop.
// Start must return promptly after launching the worker's goroutines; Stop
// must honour ctx's deadline and return once the worker has quiesced.
type Lifecyclable interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
