package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested record does not exist. Absent
// agent config is reported the same way.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence capability set. Implementations: Postgres
// (remote), Local (JSON file), Tiered (remote with local fallback).
type Store interface {
	// GetConfig returns the agent knowledge base, or ErrNotFound when
	// none was saved yet.
	GetConfig(ctx context.Context) (AgentConfig, error)
	SaveConfig(ctx context.Context, cfg AgentConfig) error

	// ListLeads returns all leads, newest first.
	ListLeads(ctx context.Context) ([]Lead, error)
	// CreateLead assigns the lead an ID and timestamps and stores it.
	CreateLead(ctx context.Context, lead Lead) (Lead, error)
	UpdateLead(ctx context.Context, id string, patch LeadPatch) error
	DeleteLead(ctx context.Context, id string) error

	// ListSessions returns the lead's call sessions, newest first.
	ListSessions(ctx context.Context, leadID string) ([]CallSession, error)
	CreateSession(ctx context.Context, leadID string) (CallSession, error)
	AppendTranscript(ctx context.Context, sessionID string, turns []Turn) error
	// AttachRecording stores the WAV blob and returns a reference to it.
	AttachRecording(ctx context.Context, sessionID string, wav []byte) (string, error)
}
