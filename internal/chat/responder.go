// Package chat produces assistant replies for assembled prompts and drives
// the full turn cycle: assemble context, call the model, record both turns.
package chat

import (
	"context"

	"github.com/parley-ai/parley/internal/contextmgr"
)

// Responder turns an ordered message list into a reply. onDelta, when
// non-nil, receives partial output as it is produced; the full reply is
// always returned at the end. Implementations call out over the network,
// so callers bound them with the request context.
type Responder interface {
	Respond(ctx context.Context, messages []contextmgr.Message, onDelta func(string)) (string, error)
}

// ResponderFunc adapts a function to the Responder interface.
type ResponderFunc func(ctx context.Context, messages []contextmgr.Message, onDelta func(string)) (string, error)

func (f ResponderFunc) Respond(ctx context.Context, messages []contextmgr.Message, onDelta func(string)) (string, error) {
	return f(ctx, messages, onDelta)
}
