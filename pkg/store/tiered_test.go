package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyRemote wraps a Local store and fails every call while down is set.
type flakyRemote struct {
	*Local
	down bool
}

var errRemoteDown = errors.New("connection refused")

func (f *flakyRemote) GetConfig(ctx context.Context) (AgentConfig, error) {
	if f.down {
		return AgentConfig{}, errRemoteDown
	}
	return f.Local.GetConfig(ctx)
}

func (f *flakyRemote) SaveConfig(ctx context.Context, cfg AgentConfig) error {
	if f.down {
		return errRemoteDown
	}
	return f.Local.SaveConfig(ctx, cfg)
}

func (f *flakyRemote) ListLeads(ctx context.Context) ([]Lead, error) {
	if f.down {
		return nil, errRemoteDown
	}
	return f.Local.ListLeads(ctx)
}

func (f *flakyRemote) CreateLead(ctx context.Context, lead Lead) (Lead, error) {
	if f.down {
		return Lead{}, errRemoteDown
	}
	return f.Local.CreateLead(ctx, lead)
}

func (f *flakyRemote) UpdateLead(ctx context.Context, id string, patch LeadPatch) error {
	if f.down {
		return errRemoteDown
	}
	return f.Local.UpdateLead(ctx, id, patch)
}

func (f *flakyRemote) DeleteLead(ctx context.Context, id string) error {
	if f.down {
		return errRemoteDown
	}
	return f.Local.DeleteLead(ctx, id)
}

func (f *flakyRemote) ListSessions(ctx context.Context, leadID string) ([]CallSession, error) {
	if f.down {
		return nil, errRemoteDown
	}
	return f.Local.ListSessions(ctx, leadID)
}

func (f *flakyRemote) CreateSession(ctx context.Context, leadID string) (CallSession, error) {
	if f.down {
		return CallSession{}, errRemoteDown
	}
	return f.Local.CreateSession(ctx, leadID)
}

func (f *flakyRemote) AppendTranscript(ctx context.Context, sessionID string, turns []Turn) error {
	if f.down {
		return errRemoteDown
	}
	return f.Local.AppendTranscript(ctx, sessionID, turns)
}

func (f *flakyRemote) AttachRecording(ctx context.Context, sessionID string, wav []byte) (string, error) {
	if f.down {
		return "", errRemoteDown
	}
	return f.Local.AttachRecording(ctx, sessionID, wav)
}

func newTieredHarness(t *testing.T) (*Tiered, *flakyRemote, *Local) {
	t.Helper()
	remoteBacking, err := OpenLocal(t.TempDir())
	require.NoError(t, err)
	local, err := OpenLocal(t.TempDir())
	require.NoError(t, err)
	remote := &flakyRemote{Local: remoteBacking}
	return NewTiered(remote, local, nil), remote, local
}

func TestTieredReadsThroughAndMirrors(t *testing.T) {
	ctx := context.Background()
	tiered, remote, local := newTieredHarness(t)

	require.NoError(t, remote.Local.SaveConfig(ctx, AgentConfig{CompanyName: "Acme"}))

	cfg, err := tiered.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Acme", cfg.CompanyName)

	// The read mirrored the config into the fallback copy.
	mirrored, err := local.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Acme", mirrored.CompanyName)
}

func TestTieredFallsBackWhenRemoteDown(t *testing.T) {
	ctx := context.Background()
	tiered, remote, _ := newTieredHarness(t)

	require.NoError(t, tiered.SaveConfig(ctx, AgentConfig{CompanyName: "Acme"}))
	lead, err := tiered.CreateLead(ctx, Lead{Name: "Jordan"})
	require.NoError(t, err)

	remote.down = true

	// Reads degrade to the last known-good local copy; no error surfaces.
	cfg, err := tiered.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Acme", cfg.CompanyName)

	leads, err := tiered.ListLeads(ctx)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, lead.ID, leads[0].ID)

	// Writes keep working against the local copy.
	require.NoError(t, tiered.UpdateLead(ctx, lead.ID, LeadPatch{Status: strPtr("interested")}))
	leads, err = tiered.ListLeads(ctx)
	require.NoError(t, err)
	assert.Equal(t, "interested", leads[0].Status)
}

func TestTieredRecoversAfterRemoteReturns(t *testing.T) {
	ctx := context.Background()
	tiered, remote, _ := newTieredHarness(t)

	remote.down = true
	_, err := tiered.CreateLead(ctx, Lead{Name: "Sam"})
	require.NoError(t, err)

	remote.down = false
	created, err := tiered.CreateLead(ctx, Lead{Name: "Casey"})
	require.NoError(t, err)

	// The remote copy has the lead created while it was reachable.
	remoteLeads, err := remote.Local.ListLeads(ctx)
	require.NoError(t, err)
	require.Len(t, remoteLeads, 1)
	assert.Equal(t, created.ID, remoteLeads[0].ID)
}

func TestTieredSessionsFlowThrough(t *testing.T) {
	ctx := context.Background()
	tiered, remote, local := newTieredHarness(t)

	lead, err := tiered.CreateLead(ctx, Lead{Name: "Riley"})
	require.NoError(t, err)
	session, err := tiered.CreateSession(ctx, lead.ID)
	require.NoError(t, err)

	turns := []Turn{{Role: "user", Text: "hello", Timestamp: time.Now()}}
	require.NoError(t, tiered.AppendTranscript(ctx, session.ID, turns))

	remote.down = true
	sessions, err := tiered.ListSessions(ctx, lead.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, session.ID, sessions[0].ID)

	// Recording lands locally even with the remote down.
	ref, err := tiered.AttachRecording(ctx, session.ID, []byte("RIFFdata"))
	require.NoError(t, err)
	assert.NotEmpty(t, ref)

	localSessions, err := local.ListSessions(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, ref, localSessions[0].RecordingRef)
}

func TestTieredWithoutRemoteIsLocal(t *testing.T) {
	ctx := context.Background()
	local, err := OpenLocal(t.TempDir())
	require.NoError(t, err)
	tiered := NewTiered(nil, local, nil)

	lead, err := tiered.CreateLead(ctx, Lead{Name: "Morgan"})
	require.NoError(t, err)
	leads, err := tiered.ListLeads(ctx)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, lead.ID, leads[0].ID)
}
