package persona

import (
	"context"
)

// Context holds information about the active persona and session.
type Context struct {
	// PersonaID is mandatory and determines the memory isolation boundary
	PersonaID ID

	// SessionID is optional and scopes experience retrieval and reflection
	SessionID string
}

// NewContext creates a new Context with the specified persona ID and optional
// session ID.
func NewContext(personaID ID, sessionID string) Context {
	return Context{
		PersonaID: personaID,
		SessionID: sessionID,
	}
}

// contextKey is a private type for context keys to avoid collisions
type contextKey int

const (
	// personaContextKey is the key for storing a persona.Context in a context.Context
	personaContextKey contextKey = iota
)

// ContextWithID adds a persona ID to a context.Context.
func ContextWithID(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, personaContextKey, Context{PersonaID: id})
}

// ContextWith adds a full persona.Context to a context.Context.
func ContextWith(ctx context.Context, pctx Context) context.Context {
	return context.WithValue(ctx, personaContextKey, pctx)
}

// FromContext retrieves the persona.Context from a context.Context.
// If none is found, it returns a zero-valued Context and false.
func FromContext(ctx context.Context) (Context, bool) {
	pctx, ok := ctx.Value(personaContextKey).(Context)
	return pctx, ok
}
