package store

import (
	"context"
	"errors"
)

// Tiered composes a remote store with the local fallback. Reads go to the
// remote first and mirror successful results into the local copy; writes
// go to both. Remote failures are logged and never surfaced, so callers
// degrade transparently to local-only operation. The remote may be nil,
// in which case every call is local.
type Tiered struct {
	remote Store
	local  *Local
	debug  func(category, message string)
}

// NewTiered builds the two-tier store. debug may be nil.
func NewTiered(remote Store, local *Local, debug func(category, message string)) *Tiered {
	if debug == nil {
		debug = func(string, string) {}
	}
	return &Tiered{remote: remote, local: local, debug: debug}
}

func (t *Tiered) remoteDown(op string, err error) {
	t.debug("STORE", op+" on remote store failed, using local: "+err.Error())
}

func (t *Tiered) GetConfig(ctx context.Context) (AgentConfig, error) {
	if t.remote != nil {
		cfg, err := t.remote.GetConfig(ctx)
		if err == nil {
			t.local.setConfig(cfg)
			return cfg, nil
		}
		if errors.Is(err, ErrNotFound) {
			return AgentConfig{}, ErrNotFound
		}
		t.remoteDown("get config", err)
	}
	return t.local.GetConfig(ctx)
}

func (t *Tiered) SaveConfig(ctx context.Context, cfg AgentConfig) error {
	if t.remote != nil {
		if err := t.remote.SaveConfig(ctx, cfg); err != nil {
			t.remoteDown("save config", err)
		}
	}
	return t.local.SaveConfig(ctx, cfg)
}

func (t *Tiered) ListLeads(ctx context.Context) ([]Lead, error) {
	if t.remote != nil {
		leads, err := t.remote.ListLeads(ctx)
		if err == nil {
			t.local.replaceLeads(leads)
			return leads, nil
		}
		t.remoteDown("list leads", err)
	}
	return t.local.ListLeads(ctx)
}

func (t *Tiered) CreateLead(ctx context.Context, lead Lead) (Lead, error) {
	if t.remote != nil {
		created, err := t.remote.CreateLead(ctx, lead)
		if err == nil {
			t.local.upsertLead(created)
			return created, nil
		}
		t.remoteDown("create lead", err)
	}
	return t.local.CreateLead(ctx, lead)
}

func (t *Tiered) UpdateLead(ctx context.Context, id string, patch LeadPatch) error {
	if t.remote != nil {
		if err := t.remote.UpdateLead(ctx, id, patch); err != nil && !errors.Is(err, ErrNotFound) {
			t.remoteDown("update lead", err)
		}
	}
	err := t.local.UpdateLead(ctx, id, patch)
	if errors.Is(err, ErrNotFound) && t.remote != nil {
		// The lead may only exist remotely; local stays best-effort.
		return nil
	}
	return err
}

func (t *Tiered) DeleteLead(ctx context.Context, id string) error {
	if t.remote != nil {
		if err := t.remote.DeleteLead(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			t.remoteDown("delete lead", err)
		}
	}
	err := t.local.DeleteLead(ctx, id)
	if errors.Is(err, ErrNotFound) && t.remote != nil {
		return nil
	}
	return err
}

func (t *Tiered) ListSessions(ctx context.Context, leadID string) ([]CallSession, error) {
	if t.remote != nil {
		sessions, err := t.remote.ListSessions(ctx, leadID)
		if err == nil {
			for _, session := range sessions {
				t.local.upsertSession(session)
			}
			return sessions, nil
		}
		t.remoteDown("list sessions", err)
	}
	return t.local.ListSessions(ctx, leadID)
}

func (t *Tiered) CreateSession(ctx context.Context, leadID string) (CallSession, error) {
	if t.remote != nil {
		session, err := t.remote.CreateSession(ctx, leadID)
		if err == nil {
			t.local.upsertSession(session)
			return session, nil
		}
		t.remoteDown("create session", err)
	}
	return t.local.CreateSession(ctx, leadID)
}

func (t *Tiered) AppendTranscript(ctx context.Context, sessionID string, turns []Turn) error {
	if t.remote != nil {
		if err := t.remote.AppendTranscript(ctx, sessionID, turns); err != nil && !errors.Is(err, ErrNotFound) {
			t.remoteDown("append transcript", err)
		}
	}
	err := t.local.AppendTranscript(ctx, sessionID, turns)
	if errors.Is(err, ErrNotFound) && t.remote != nil {
		return nil
	}
	return err
}

func (t *Tiered) AttachRecording(ctx context.Context, sessionID string, wav []byte) (string, error) {
	// The local copy is written first so the recording survives even if
	// the remote upload fails.
	localRef, localErr := t.local.AttachRecording(ctx, sessionID, wav)
	if t.remote != nil {
		ref, err := t.remote.AttachRecording(ctx, sessionID, wav)
		if err == nil {
			return ref, nil
		}
		if !errors.Is(err, ErrNotFound) {
			t.remoteDown("attach recording", err)
		}
	}
	if localErr != nil && errors.Is(localErr, ErrNotFound) && t.remote != nil {
		return "", nil
	}
	return localRef, localErr
}

var _ Store = (*Tiered)(nil)
