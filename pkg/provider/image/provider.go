// Package image defines the Provider interface for cover-art generation
// backends.
//
// Cover art is best-effort everywhere in the pipeline: callers treat any
// failure as "no cover" and never let it abort a story. Providers therefore
// only need to report errors honestly; swallowing happens at the call site.
package image

import "context"

// CoverRequest describes the story a cover should be generated for.
type CoverRequest struct {
	// Title of the story, shown nowhere but used to steer the image.
	Title string

	// Summary is a one-paragraph description of the story.
	Summary string

	// CharacterNames lists the cast for visual reference.
	CharacterNames []string
}

// Provider is the abstraction over any image-generation backend.
type Provider interface {
	// GenerateCover produces one cover image and returns the raw encoded
	// image bytes (PNG unless documented otherwise).
	GenerateCover(ctx context.Context, req CoverRequest) ([]byte, error)
}
