package progress

import "context"

// Sink consumes progress events. Implementations must be safe for repeated
// calls and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, evt Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// scheduler can remain agnostic about where events land.
type Emitter interface {
	Emit(evt Event)
}
