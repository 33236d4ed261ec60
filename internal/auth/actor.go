// Carelog - Clinic Audit and Compliance Trail
// Copyright 2026 Carelog Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/carelog/carelog

// Package auth consumes actor identity supplied by the clinic's
// authentication service. Carelog does not issue credentials; it only
// parses bearer tokens to attribute audit entries to an actor. Requests
// without a valid token proceed anonymously, since the audit model
// tolerates unauthenticated events.
package auth

import (
	"context"
)

// Actor is the authenticated principal attached to a request.
type Actor struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

type contextKey string

const actorKey contextKey = "actor"

// ContextWithActor returns a new context carrying the actor.
func ContextWithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext retrieves the actor from context.
// Returns nil for anonymous requests.
func ActorFromContext(ctx context.Context) *Actor {
	if actor, ok := ctx.Value(actorKey).(*Actor); ok {
		return actor
	}
	return nil
}
