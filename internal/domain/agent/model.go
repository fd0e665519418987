package agent

import (
	"context"
	"time"
)

// Agent is a registered participant. Identity is the caller's opaque
// identity string and is unique across agents; InboxRef names the ordered
// inbox provisioned for this agent at registration time.
type Agent struct {
	ID        string    `json:"agent_id"`
	Identity  string    `json:"identity"`
	InboxRef  string    `json:"inbox_ref"`
	CreatedAt time.Time `json:"created_at"`
}

type Repository interface {
	// GetByIdentity looks an agent up by its unique identity.
	// Returns a NotFound error when no agent is registered under it.
	GetByIdentity(ctx context.Context, identity string) (*Agent, error)

	// GetByID looks an agent up by agent id.
	GetByID(ctx context.Context, id string) (*Agent, error)

	// CreateIfAbsent persists a, unless another agent already holds the same
	// identity, in which case the existing row wins. The persisted winner is
	// returned either way, so concurrent registrations converge.
	CreateIfAbsent(ctx context.Context, a *Agent) (*Agent, error)
}
