// Package storystore persists script drafts and finished stories.
//
// Drafts are the durable side of the preview phase: a draft written before
// the caller confirms lets the service offer the preview again after a
// restart. Finished stories keep the script, the voice assignment and the
// media file locations so individual voices can be swapped later.
package storystore

import (
	"context"
	"time"

	"github.com/tbleier/fabelwerk/internal/script"
	"github.com/tbleier/fabelwerk/internal/voice"
)

// Draft is a generated script awaiting confirmation.
type Draft struct {
	ID        string
	Script    *script.Script
	VoiceMap  voice.Assignment
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Story is a fully produced audio story.
type Story struct {
	ID        string
	Title     string
	Script    *script.Script
	VoiceMap  voice.Assignment
	AudioPath string
	CoverPath string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store provides persistence for drafts and stories.
// Implementations must be safe for concurrent use. Lookups of unknown IDs
// return an error wrapping fault.ErrNotFound.
type Store interface {
	// UpsertDraft creates or replaces a draft.
	UpsertDraft(ctx context.Context, d *Draft) error

	// GetDraft retrieves a draft by ID.
	GetDraft(ctx context.Context, id string) (*Draft, error)

	// DeleteDraft removes a draft. Deleting a non-existent draft is not an
	// error.
	DeleteDraft(ctx context.Context, id string) error

	// SaveStory creates or replaces a finished story.
	SaveStory(ctx context.Context, s *Story) error

	// GetStory retrieves a story by ID.
	GetStory(ctx context.Context, id string) (*Story, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
}
