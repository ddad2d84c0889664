// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs) and
// presents a uniform request/response interface. Synthesis is per-line: the
// caller passes the line text together with surrounding-line context so the
// backend can blend intonation across line boundaries. The resulting clips
// are later concatenated with only a short silence gap, and mismatched
// prosody at the boundaries is audibly jarring.
//
// Implementations must be safe for concurrent use across different voices.
// Concurrent calls against the same voice are not guaranteed to be safe;
// callers serialise per-voice work.
package tts

import "context"

// Settings tunes the expressiveness of a synthesis request. The zero value
// means provider defaults.
type Settings struct {
	// Stability in [0,1]; lower values allow more expressive variation.
	Stability float64 `json:"stability,omitempty"`

	// SimilarityBoost in [0,1]; higher values stay closer to the voice sample.
	SimilarityBoost float64 `json:"similarityBoost,omitempty"`

	// Speed adjusts speaking rate in [0.7, 1.2]. 0 means default.
	Speed float64 `json:"speed,omitempty"`
}

// Request is a single-line synthesis request.
type Request struct {
	// Text is the line to voice. Must be non-empty.
	Text string

	// VoiceID selects the provider voice.
	VoiceID string

	// Settings tunes expressiveness. Zero value uses provider defaults.
	Settings Settings

	// PreviousText carries up to two sentences of the preceding line so the
	// synthesized clip's opening intonation continues from it. Optional.
	PreviousText string

	// NextText carries the following line's full text so the clip's closing
	// intonation leads into it. Optional.
	NextText string
}

// VoiceProfile describes one voice available from a provider's remote catalogue.
type VoiceProfile struct {
	ID       string
	Name     string
	Provider string
	Metadata map[string]string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize voices one line and returns the encoded audio bytes
	// (MP3 unless the implementation documents otherwise). Returns an error
	// wrapping fault.ErrUpstream when the backend answers non-success.
	Synthesize(ctx context.Context, req Request) ([]byte, error)

	// ListVoices returns the voices available from the backend for the
	// configured credentials. Used by readiness checks to verify the
	// credential without spending synthesis quota.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
