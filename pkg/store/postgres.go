package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/Alphas-DBS/Nova-Core/pkg/core"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres is the remote store. The schema is created and upgraded by the
// embedded migrations at open time.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, runs pending migrations, and returns the store.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if err := migrate(dsn); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, core.NewStorageError("open postgres pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, core.NewStorageError("ping postgres", err)
	}
	return &Postgres{pool: pool}, nil
}

func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return core.NewStorageError("open postgres", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return core.NewStorageError("set migration dialect", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return core.NewStorageError("run migrations", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) GetConfig(ctx context.Context) (AgentConfig, error) {
	var cfg AgentConfig
	err := p.pool.QueryRow(ctx, `SELECT data FROM agent_config WHERE id = 1`).Scan(&cfg)
	if errors.Is(err, pgx.ErrNoRows) {
		return AgentConfig{}, ErrNotFound
	}
	if err != nil {
		return AgentConfig{}, core.NewStorageError("get config", err)
	}
	return cfg, nil
}

func (p *Postgres) SaveConfig(ctx context.Context, cfg AgentConfig) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO agent_config (id, data, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		cfg)
	if err != nil {
		return core.NewStorageError("save config", err)
	}
	return nil
}

func (p *Postgres) ListLeads(ctx context.Context) ([]Lead, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, phone, interested_in, notes, sentiment, status, created_at, updated_at
		FROM leads ORDER BY created_at DESC`)
	if err != nil {
		return nil, core.NewStorageError("list leads", err)
	}
	defer rows.Close()

	var leads []Lead
	for rows.Next() {
		var lead Lead
		if err := rows.Scan(&lead.ID, &lead.Name, &lead.Phone, &lead.InterestedIn,
			&lead.Notes, &lead.Sentiment, &lead.Status, &lead.CreatedAt, &lead.UpdatedAt); err != nil {
			return nil, core.NewStorageError("scan lead", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewStorageError("list leads", err)
	}
	return leads, nil
}

func (p *Postgres) CreateLead(ctx context.Context, lead Lead) (Lead, error) {
	now := time.Now().UTC()
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	lead.CreatedAt = now
	lead.UpdatedAt = now
	_, err := p.pool.Exec(ctx, `
		INSERT INTO leads (id, name, phone, interested_in, notes, sentiment, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		lead.ID, lead.Name, lead.Phone, lead.InterestedIn, lead.Notes,
		lead.Sentiment, lead.Status, lead.CreatedAt, lead.UpdatedAt)
	if err != nil {
		return Lead{}, core.NewStorageError("create lead", err)
	}
	return lead, nil
}

func (p *Postgres) UpdateLead(ctx context.Context, id string, patch LeadPatch) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return core.NewStorageError("begin update", err)
	}
	defer tx.Rollback(ctx)

	var lead Lead
	err = tx.QueryRow(ctx, `
		SELECT id, name, phone, interested_in, notes, sentiment, status, created_at, updated_at
		FROM leads WHERE id = $1 FOR UPDATE`, id).
		Scan(&lead.ID, &lead.Name, &lead.Phone, &lead.InterestedIn,
			&lead.Notes, &lead.Sentiment, &lead.Status, &lead.CreatedAt, &lead.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return core.NewStorageError("load lead", err)
	}

	if !patch.apply(&lead) {
		return nil
	}
	lead.UpdatedAt = time.Now().UTC()
	_, err = tx.Exec(ctx, `
		UPDATE leads SET name = $2, phone = $3, interested_in = $4, notes = $5,
			sentiment = $6, status = $7, updated_at = $8
		WHERE id = $1`,
		lead.ID, lead.Name, lead.Phone, lead.InterestedIn, lead.Notes,
		lead.Sentiment, lead.Status, lead.UpdatedAt)
	if err != nil {
		return core.NewStorageError("update lead", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return core.NewStorageError("commit update", err)
	}
	return nil
}

func (p *Postgres) DeleteLead(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM leads WHERE id = $1`, id)
	if err != nil {
		return core.NewStorageError("delete lead", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListSessions(ctx context.Context, leadID string) ([]CallSession, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, lead_id, created_at, recording_ref
		FROM call_sessions WHERE lead_id = $1 ORDER BY created_at DESC`, leadID)
	if err != nil {
		return nil, core.NewStorageError("list sessions", err)
	}
	defer rows.Close()

	var sessions []CallSession
	for rows.Next() {
		var session CallSession
		if err := rows.Scan(&session.ID, &session.LeadID, &session.CreatedAt, &session.RecordingRef); err != nil {
			return nil, core.NewStorageError("scan session", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewStorageError("list sessions", err)
	}

	for i := range sessions {
		turns, err := p.sessionTurns(ctx, sessions[i].ID)
		if err != nil {
			return nil, err
		}
		sessions[i].Transcript = turns
	}
	return sessions, nil
}

func (p *Postgres) sessionTurns(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT role, text, created_at FROM call_turns
		WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, core.NewStorageError("list turns", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var turn Turn
		if err := rows.Scan(&turn.Role, &turn.Text, &turn.Timestamp); err != nil {
			return nil, core.NewStorageError("scan turn", err)
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

func (p *Postgres) CreateSession(ctx context.Context, leadID string) (CallSession, error) {
	session := CallSession{
		ID:        uuid.NewString(),
		LeadID:    leadID,
		CreatedAt: time.Now().UTC(),
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO call_sessions (id, lead_id, created_at) VALUES ($1, $2, $3)`,
		session.ID, session.LeadID, session.CreatedAt)
	if err != nil {
		return CallSession{}, core.NewStorageError("create session", err)
	}
	return session, nil
}

func (p *Postgres) AppendTranscript(ctx context.Context, sessionID string, turns []Turn) error {
	if len(turns) == 0 {
		return nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return core.NewStorageError("begin append", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM call_sessions WHERE id = $1)`, sessionID).Scan(&exists); err != nil {
		return core.NewStorageError("check session", err)
	}
	if !exists {
		return ErrNotFound
	}
	for _, turn := range turns {
		if _, err := tx.Exec(ctx, `
			INSERT INTO call_turns (session_id, role, text, created_at)
			VALUES ($1, $2, $3, $4)`,
			sessionID, turn.Role, turn.Text, turn.Timestamp); err != nil {
			return core.NewStorageError("append turn", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return core.NewStorageError("commit append", err)
	}
	return nil
}

func (p *Postgres) AttachRecording(ctx context.Context, sessionID string, wav []byte) (string, error) {
	ref := "pg://call_sessions/" + sessionID + "/recording"
	tag, err := p.pool.Exec(ctx, `
		UPDATE call_sessions SET recording = $2, recording_ref = $3 WHERE id = $1`,
		sessionID, wav, ref)
	if err != nil {
		return "", core.NewStorageError("attach recording", err)
	}
	if tag.RowsAffected() == 0 {
		return "", ErrNotFound
	}
	return ref, nil
}

var _ Store = (*Postgres)(nil)
