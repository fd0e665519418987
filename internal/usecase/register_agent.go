package usecase

import (
	"context"
	"strings"
	"time"

	"eventrelay/internal/apperr"
	"eventrelay/internal/domain/agent"

	"github.com/google/uuid"
)

// InboxProvisioner creates the dedicated ordered inbox for a new agent and
// returns its ref.
type InboxProvisioner interface {
	Provision(ctx context.Context, agentID string) (string, error)
}

type RegisterAgent struct {
	agents  agent.Repository
	inboxes InboxProvisioner
}

func NewRegisterAgent(agents agent.Repository, inboxes InboxProvisioner) *RegisterAgent {
	return &RegisterAgent{
		agents:  agents,
		inboxes: inboxes,
	}
}

// Execute registers the caller identity, idempotently. The identity lookup
// happens first so retries after a partial failure return the existing
// agent; the inbox is provisioned before the agent row is written, so a
// failed registration never leaves a visible agent without an inbox. An
// orphaned inbox from a lost race is an acceptable, cleanable leak.
func (uc *RegisterAgent) Execute(ctx context.Context, identity string) (*agent.Agent, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, apperr.Errorf(apperr.Validation, "identity must not be empty")
	}

	existing, err := uc.agents.GetByIdentity(ctx, identity)
	if err == nil {
		return existing, nil
	}
	if !apperr.IsKind(err, apperr.NotFound) {
		return nil, err
	}

	a := &agent.Agent{
		ID:        uuid.NewString(),
		Identity:  identity,
		CreatedAt: time.Now().UTC(),
	}

	inboxRef, err := uc.inboxes.Provision(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	a.InboxRef = inboxRef

	// Conditional write: a concurrent registration of the same identity
	// wins or loses cleanly, and both callers get the same agent back.
	return uc.agents.CreateIfAbsent(ctx, a)
}
