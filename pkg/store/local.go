package store

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Alphas-DBS/Nova-Core/pkg/core"
)

// Local is the JSON-file fallback store. State lives in a single file
// under the base directory; recordings are written alongside it. All
// operations are safe for concurrent use.
type Local struct {
	mu     sync.Mutex
	path   string
	recDir string
	state  localState
}

type localState struct {
	Config   *AgentConfig  `json:"config,omitempty"`
	Leads    []Lead        `json:"leads"`
	Sessions []CallSession `json:"sessions"`
}

// OpenLocal opens (or creates) the local store rooted at dir.
func OpenLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, core.NewStorageError("create local store dir", err)
	}
	recDir := filepath.Join(dir, "recordings")
	if err := os.MkdirAll(recDir, 0o755); err != nil {
		return nil, core.NewStorageError("create recordings dir", err)
	}

	s := &Local{
		path:   filepath.Join(dir, "store.json"),
		recDir: recDir,
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, core.NewStorageError("read local store", err)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, core.NewStorageError("decode local store", err)
	}
	return s, nil
}

// persist writes the state atomically. Callers hold the mutex.
func (s *Local) persist() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return core.NewStorageError("encode local store", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return core.NewStorageError("write local store", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return core.NewStorageError("replace local store", err)
	}
	return nil
}

func (s *Local) GetConfig(ctx context.Context) (AgentConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Config == nil {
		return AgentConfig{}, ErrNotFound
	}
	return *s.state.Config, nil
}

func (s *Local) SaveConfig(ctx context.Context, cfg AgentConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Config = &cfg
	return s.persist()
}

func (s *Local) ListLeads(ctx context.Context) ([]Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	leads := append([]Lead(nil), s.state.Leads...)
	sort.SliceStable(leads, func(i, j int) bool {
		return leads[i].CreatedAt.After(leads[j].CreatedAt)
	})
	return leads, nil
}

func (s *Local) CreateLead(ctx context.Context, lead Lead) (Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	lead.CreatedAt = now
	lead.UpdatedAt = now
	s.state.Leads = append(s.state.Leads, lead)
	if err := s.persist(); err != nil {
		return Lead{}, err
	}
	return lead, nil
}

func (s *Local) UpdateLead(ctx context.Context, id string, patch LeadPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Leads {
		if s.state.Leads[i].ID != id {
			continue
		}
		if patch.apply(&s.state.Leads[i]) {
			s.state.Leads[i].UpdatedAt = time.Now().UTC()
			return s.persist()
		}
		return nil
	}
	return ErrNotFound
}

func (s *Local) DeleteLead(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Leads {
		if s.state.Leads[i].ID != id {
			continue
		}
		s.state.Leads = append(s.state.Leads[:i], s.state.Leads[i+1:]...)
		return s.persist()
	}
	return ErrNotFound
}

func (s *Local) ListSessions(ctx context.Context, leadID string) ([]CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sessions []CallSession
	for _, session := range s.state.Sessions {
		if session.LeadID == leadID {
			sessions = append(sessions, session)
		}
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (s *Local) CreateSession(ctx context.Context, leadID string) (CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := CallSession{
		ID:        uuid.NewString(),
		LeadID:    leadID,
		CreatedAt: time.Now().UTC(),
	}
	s.state.Sessions = append(s.state.Sessions, session)
	if err := s.persist(); err != nil {
		return CallSession{}, err
	}
	return session, nil
}

func (s *Local) AppendTranscript(ctx context.Context, sessionID string, turns []Turn) error {
	if len(turns) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Sessions {
		if s.state.Sessions[i].ID != sessionID {
			continue
		}
		s.state.Sessions[i].Transcript = append(s.state.Sessions[i].Transcript, turns...)
		return s.persist()
	}
	return ErrNotFound
}

func (s *Local) AttachRecording(ctx context.Context, sessionID string, wav []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Sessions {
		if s.state.Sessions[i].ID != sessionID {
			continue
		}
		path := filepath.Join(s.recDir, sessionID+".wav")
		if err := os.WriteFile(path, wav, 0o644); err != nil {
			return "", core.NewStorageError("write recording", err)
		}
		s.state.Sessions[i].RecordingRef = path
		if err := s.persist(); err != nil {
			return "", err
		}
		return path, nil
	}
	return "", ErrNotFound
}

// upsertLead mirrors a remote lead into the local state. Used by the
// tiered store to keep the fallback consistent with last known-good data.
func (s *Local) upsertLead(lead Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Leads {
		if s.state.Leads[i].ID == lead.ID {
			s.state.Leads[i] = lead
			_ = s.persist()
			return
		}
	}
	s.state.Leads = append(s.state.Leads, lead)
	_ = s.persist()
}

// replaceLeads mirrors a remote lead listing into the local state.
func (s *Local) replaceLeads(leads []Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Leads = append([]Lead(nil), leads...)
	_ = s.persist()
}

// setConfig mirrors a remote config read into the local state.
func (s *Local) setConfig(cfg AgentConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Config = &cfg
	_ = s.persist()
}

// upsertSession mirrors a remote session into the local state.
func (s *Local) upsertSession(session CallSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Sessions {
		if s.state.Sessions[i].ID == session.ID {
			s.state.Sessions[i] = session
			_ = s.persist()
			return
		}
	}
	s.state.Sessions = append(s.state.Sessions, session)
	_ = s.persist()
}
