package usecase

import (
	"context"
	"errors"
	"testing"

	"eventrelay/internal/apperr"
	"eventrelay/internal/domain/agent"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memAgents struct {
	byIdentity map[string]*agent.Agent
}

func newMemAgents() *memAgents {
	return &memAgents{byIdentity: map[string]*agent.Agent{}}
}

func (m *memAgents) GetByIdentity(_ context.Context, identity string) (*agent.Agent, error) {
	if a, ok := m.byIdentity[identity]; ok {
		return a, nil
	}
	return nil, apperr.Errorf(apperr.NotFound, "agent with identity %q not found", identity)
}

func (m *memAgents) GetByID(_ context.Context, id string) (*agent.Agent, error) {
	for _, a := range m.byIdentity {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, apperr.Errorf(apperr.NotFound, "agent %s not found", id)
}

func (m *memAgents) CreateIfAbsent(_ context.Context, a *agent.Agent) (*agent.Agent, error) {
	if existing, ok := m.byIdentity[a.Identity]; ok {
		return existing, nil
	}
	m.byIdentity[a.Identity] = a
	return a, nil
}

type fakeProvisioner struct {
	provisioned []string
	err         error
}

func (f *fakeProvisioner) Provision(_ context.Context, agentID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.provisioned = append(f.provisioned, agentID)
	return "inbox:" + agentID, nil
}

func TestRegisterIsIdempotent(t *testing.T) {
	agents := newMemAgents()
	inboxes := &fakeProvisioner{}
	uc := NewRegisterAgent(agents, inboxes)

	first, err := uc.Execute(context.Background(), "arn:test:producer")
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	assert.Equal(t, "inbox:"+first.ID, first.InboxRef)

	second, err := uc.Execute(context.Background(), "arn:test:producer")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.InboxRef, second.InboxRef)

	// Second call must have no side effects.
	assert.Len(t, inboxes.provisioned, 1)
}

func TestRegisterEmptyIdentityFails(t *testing.T) {
	uc := NewRegisterAgent(newMemAgents(), &fakeProvisioner{})

	for _, identity := range []string{"", "   "} {
		_, err := uc.Execute(context.Background(), identity)
		assert.True(t, apperr.IsKind(err, apperr.Validation), "identity %q", identity)
	}
}

func TestRegisterProvisioningFailureLeavesNoAgent(t *testing.T) {
	agents := newMemAgents()
	inboxes := &fakeProvisioner{err: apperr.E(apperr.Provisioning, errors.New("stream create failed"))}
	uc := NewRegisterAgent(agents, inboxes)

	_, err := uc.Execute(context.Background(), "arn:test:producer")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Provisioning))
	assert.Empty(t, agents.byIdentity)

	// A retry after the transient failure clears must succeed cleanly.
	inboxes.err = nil
	a, err := uc.Execute(context.Background(), "arn:test:producer")
	require.NoError(t, err)
	assert.NotEmpty(t, a.InboxRef)
}

// racingAgents misses the identity lookup but already holds a winner at
// write time, simulating a concurrent registration landing between the
// index read and the conditional write.
type racingAgents struct {
	*memAgents
	winner *agent.Agent
}

func (r *racingAgents) GetByIdentity(ctx context.Context, identity string) (*agent.Agent, error) {
	if _, ok := r.byIdentity[identity]; !ok {
		return nil, apperr.Errorf(apperr.NotFound, "agent with identity %q not found", identity)
	}
	return r.memAgents.GetByIdentity(ctx, identity)
}

func (r *racingAgents) CreateIfAbsent(ctx context.Context, a *agent.Agent) (*agent.Agent, error) {
	r.byIdentity[r.winner.Identity] = r.winner
	return r.memAgents.CreateIfAbsent(ctx, a)
}

func TestRegisterLostRaceReturnsWinner(t *testing.T) {
	winner := &agent.Agent{ID: "winner", Identity: "arn:test:raced", InboxRef: "inbox:winner"}
	agents := &racingAgents{memAgents: newMemAgents(), winner: winner}
	uc := NewRegisterAgent(agents, &fakeProvisioner{})

	a, err := uc.Execute(context.Background(), "arn:test:raced")
	require.NoError(t, err)
	assert.Equal(t, "winner", a.ID)
	assert.Equal(t, "inbox:winner", a.InboxRef)
}
