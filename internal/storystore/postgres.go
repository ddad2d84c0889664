package storystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tbleier/fabelwerk/internal/script"
	"github.com/tbleier/fabelwerk/internal/voice"
	"github.com/tbleier/fabelwerk/pkg/fault"
)

// Schema is the SQL DDL for the draft and story tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS story_drafts (
    id         TEXT PRIMARY KEY,
    script     JSONB NOT NULL,
    voice_map  JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS stories (
    id         TEXT PRIMARY KEY,
    title      TEXT NOT NULL,
    script     JSONB NOT NULL,
    voice_map  JSONB NOT NULL DEFAULT '{}',
    audio_path TEXT NOT NULL DEFAULT '',
    cover_path TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_stories_title ON stories(title);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Pinger is optionally implemented by the DB (pgxpool.Pool does).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PostgresStore is a [Store] backed by a PostgreSQL database. Scripts and
// voice assignments are serialised as JSONB.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("storystore: migrate: %w", err)
	}
	return nil
}

// UpsertDraft implements [Store].
func (s *PostgresStore) UpsertDraft(ctx context.Context, d *Draft) error {
	scriptJSON, voiceJSON, err := marshalPayload(d.Script, d.VoiceMap)
	if err != nil {
		return fmt.Errorf("storystore: draft %q: %w", d.ID, err)
	}

	const query = `
		INSERT INTO story_drafts (id, script, voice_map)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			script = EXCLUDED.script,
			voice_map = EXCLUDED.voice_map,
			updated_at = now()
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query, d.ID, scriptJSON, voiceJSON).
		Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storystore: upsert draft: %w", err)
	}
	return nil
}

// GetDraft implements [Store].
func (s *PostgresStore) GetDraft(ctx context.Context, id string) (*Draft, error) {
	const query = `
		SELECT id, script, voice_map, created_at, updated_at
		FROM story_drafts
		WHERE id = $1`

	var d Draft
	var scriptJSON, voiceJSON []byte
	err := s.db.QueryRow(ctx, query, id).Scan(
		&d.ID, &scriptJSON, &voiceJSON, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.NotFoundf("draft %s not found", id)
		}
		return nil, fmt.Errorf("storystore: get draft %q: %w", id, err)
	}

	if d.Script, d.VoiceMap, err = unmarshalPayload(scriptJSON, voiceJSON); err != nil {
		return nil, fmt.Errorf("storystore: draft %q: %w", id, err)
	}
	return &d, nil
}

// DeleteDraft implements [Store].
func (s *PostgresStore) DeleteDraft(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM story_drafts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("storystore: delete draft %q: %w", id, err)
	}
	return nil
}

// SaveStory implements [Store].
func (s *PostgresStore) SaveStory(ctx context.Context, st *Story) error {
	scriptJSON, voiceJSON, err := marshalPayload(st.Script, st.VoiceMap)
	if err != nil {
		return fmt.Errorf("storystore: story %q: %w", st.ID, err)
	}

	const query = `
		INSERT INTO stories (id, title, script, voice_map, audio_path, cover_path)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			script = EXCLUDED.script,
			voice_map = EXCLUDED.voice_map,
			audio_path = EXCLUDED.audio_path,
			cover_path = EXCLUDED.cover_path,
			updated_at = now()
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		st.ID, st.Title, scriptJSON, voiceJSON, st.AudioPath, st.CoverPath,
	).Scan(&st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storystore: save story: %w", err)
	}
	return nil
}

// GetStory implements [Store].
func (s *PostgresStore) GetStory(ctx context.Context, id string) (*Story, error) {
	const query = `
		SELECT id, title, script, voice_map, audio_path, cover_path, created_at, updated_at
		FROM stories
		WHERE id = $1`

	var st Story
	var scriptJSON, voiceJSON []byte
	err := s.db.QueryRow(ctx, query, id).Scan(
		&st.ID, &st.Title, &scriptJSON, &voiceJSON,
		&st.AudioPath, &st.CoverPath, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.NotFoundf("story %s not found", id)
		}
		return nil, fmt.Errorf("storystore: get story %q: %w", id, err)
	}

	if st.Script, st.VoiceMap, err = unmarshalPayload(scriptJSON, voiceJSON); err != nil {
		return nil, fmt.Errorf("storystore: story %q: %w", id, err)
	}
	return &st, nil
}

// Ping implements [Store]. It degrades to a trivial query when the underlying
// DB has no Ping method.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if p, ok := s.db.(Pinger); ok {
		return p.Ping(ctx)
	}
	_, err := s.db.Exec(ctx, `SELECT 1`)
	return err
}

// marshalPayload serialises the JSONB columns shared by drafts and stories.
func marshalPayload(sc *script.Script, vm voice.Assignment) (scriptJSON, voiceJSON []byte, err error) {
	if sc == nil {
		return nil, nil, fmt.Errorf("script must not be nil")
	}
	if vm == nil {
		vm = voice.Assignment{}
	}
	if scriptJSON, err = json.Marshal(sc); err != nil {
		return nil, nil, fmt.Errorf("marshal script: %w", err)
	}
	if voiceJSON, err = json.Marshal(vm); err != nil {
		return nil, nil, fmt.Errorf("marshal voice map: %w", err)
	}
	return scriptJSON, voiceJSON, nil
}

func unmarshalPayload(scriptJSON, voiceJSON []byte) (*script.Script, voice.Assignment, error) {
	var sc script.Script
	if err := json.Unmarshal(scriptJSON, &sc); err != nil {
		return nil, nil, fmt.Errorf("unmarshal script: %w", err)
	}
	vm := voice.Assignment{}
	if err := json.Unmarshal(voiceJSON, &vm); err != nil {
		return nil, nil, fmt.Errorf("unmarshal voice map: %w", err)
	}
	return &sc, vm, nil
}
