package postgres

import (
	"context"
	"errors"
	"fmt"

	"eventrelay/internal/apperr"
	"eventrelay/internal/domain/agent"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AgentRepository struct {
	pool *pgxpool.Pool
}

func NewAgentRepository(pool *pgxpool.Pool) *AgentRepository {
	return &AgentRepository{pool: pool}
}

func (r *AgentRepository) GetByIdentity(ctx context.Context, identity string) (*agent.Agent, error) {
	const sql = `
		SELECT id, identity, inbox_ref, created_at
		FROM agents
		WHERE identity = $1
	`

	var a agent.Agent
	err := r.pool.QueryRow(ctx, sql, identity).Scan(&a.ID, &a.Identity, &a.InboxRef, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Errorf(apperr.NotFound, "agent with identity %q not found", identity)
	}
	if err != nil {
		return nil, apperr.E(apperr.Transient, fmt.Errorf("get agent by identity: %w", err))
	}

	return &a, nil
}

func (r *AgentRepository) GetByID(ctx context.Context, id string) (*agent.Agent, error) {
	const sql = `
		SELECT id, identity, inbox_ref, created_at
		FROM agents
		WHERE id = $1
	`

	var a agent.Agent
	err := r.pool.QueryRow(ctx, sql, id).Scan(&a.ID, &a.Identity, &a.InboxRef, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Errorf(apperr.NotFound, "agent %s not found", id)
	}
	if err != nil {
		return nil, apperr.E(apperr.Transient, fmt.Errorf("get agent by id: %w", err))
	}

	return &a, nil
}

// CreateIfAbsent inserts the agent unless the identity is already taken.
// On conflict nothing is written and the existing row is returned, so two
// racing registrations for the same identity converge on one agent.
func (r *AgentRepository) CreateIfAbsent(ctx context.Context, a *agent.Agent) (*agent.Agent, error) {
	const sql = `
		INSERT INTO agents (id, identity, inbox_ref, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identity) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, sql, a.ID, a.Identity, a.InboxRef, a.CreatedAt)
	if err != nil {
		return nil, apperr.E(apperr.Transient, fmt.Errorf("insert agent: %w", err))
	}

	if tag.RowsAffected() == 0 {
		// Lost the race; re-read the winner.
		return r.GetByIdentity(ctx, a.Identity)
	}

	return a, nil
}
