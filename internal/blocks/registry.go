package blocks

import (
	"context"
	"fmt"

	"github.com/mailflow/mailflow/internal/trigger"
)

// Request is the input handed to an action handler: the scope it runs in,
// the triggering event, and the block's stored configuration. A missing
// config arrives as an empty JSON document, never an error.
type Request struct {
	WorkspaceID string
	UserID      string
	BlockID     string
	Event       trigger.Event
	ConfigJSON  string
}

// Handler executes one action block kind. Execute returns a structured
// result and never panics the dispatch; internal failures become a result
// with StatusError.
type Handler interface {
	// Kind returns the single action kind this handler serves.
	Kind() Kind

	// Execute runs the action for the given request.
	Execute(ctx context.Context, req Request) Result
}

// Registry resolves action kinds to their handlers. Registration is the
// loud failure point: registering a non-action kind or a duplicate kind is
// an error, so a misconfigured handler set is caught at startup rather
// than silently skipped at dispatch time.
type Registry struct {
	handlers map[Kind]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind]Handler)}
}

// Register adds a handler for its kind.
func (r *Registry) Register(h Handler) error {
	kind := h.Kind()
	if !kind.IsAction() {
		return fmt.Errorf(
			"cannot register handler for non-action kind %s",
			kind,
		)
	}
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf(
			"handler for kind %s already registered", kind,
		)
	}

	r.handlers[kind] = h

	return nil
}

// MustRegister registers a handler and panics on failure. Used at daemon
// startup where a bad handler set must abort the process.
func (r *Registry) MustRegister(h Handler) {
	if err := r.Register(h); err != nil {
		panic(err)
	}
}

// Handler returns the handler for the given kind.
func (r *Registry) Handler(kind Kind) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}
