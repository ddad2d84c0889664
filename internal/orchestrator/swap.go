package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/tbleier/fabelwerk/internal/storystore"
	"github.com/tbleier/fabelwerk/pkg/fault"
	"github.com/tbleier/fabelwerk/pkg/provider/tts"
)

// ErrNoLines is returned when a voice swap targets a character that never
// speaks. There is nothing to re-voice in that case.
var ErrNoLines = fmt.Errorf("%w: character has no spoken lines", fault.ErrValidation)

// maxSuggestDistance caps the edit distance for "did you mean" hints on
// character names.
const maxSuggestDistance = 3

// SwapVoice re-voices one character of a finished story with a different
// catalog voice, regenerates only that character's clips, and reassembles the
// story file in place.
func (o *Orchestrator) SwapVoice(ctx context.Context, storyID, character, voiceID string) (*Status, error) {
	story, err := o.store.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}

	if _, ok := o.catalog.Voice(voiceID); !ok {
		return nil, fault.Validationf("unknown voice %q", voiceID)
	}

	if _, ok := story.Script.Character(character); !ok {
		if hint := suggestName(character, characterNames(story)); hint != "" {
			return nil, fault.NotFoundf("character %q not in story, did you mean %q", character, hint)
		}
		return nil, fault.NotFoundf("character %q not in story", character)
	}

	lines := story.Script.Lines()
	voiced, n, err := o.synth.ResynthesizeCharacter(ctx, storyID, lines, character, voiceID, o.mediaDir)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w (character %q)", ErrNoLines, character)
	}

	clipPaths := make([]string, len(voiced))
	for i, l := range voiced {
		clipPaths[i] = l.AudioPath
	}
	if err := o.assembler.Combine(ctx, clipPaths, story.AudioPath); err != nil {
		return nil, err
	}

	story.Script.SetAudioPaths(voiced)
	story.VoiceMap[character] = voiceID
	if err := o.store.SaveStory(ctx, story); err != nil {
		return nil, err
	}

	slog.Info("voice swapped", "story", storyID, "character", character,
		"voice", voiceID, "clips", n)
	return o.Status(ctx, storyID)
}

// PreviewLine synthesizes a single line with an arbitrary catalog voice and
// returns the audio bytes. Nothing is persisted; the caller hears how a
// voice sounds before committing to a swap. Settings and the surrounding-text
// context are passed through to the backend unchanged.
func (o *Orchestrator) PreviewLine(ctx context.Context, req tts.Request) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fault.Validationf("text must not be empty")
	}
	if _, ok := o.catalog.Voice(req.VoiceID); !ok {
		return nil, fault.Validationf("unknown voice %q", req.VoiceID)
	}

	tmp, err := os.CreateTemp("", "fabelwerk-preview-*.mp3")
	if err != nil {
		return nil, fmt.Errorf("preview: temp file: %w", err)
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	if err := o.synth.SynthesizeLine(ctx, req, tmp.Name()); err != nil {
		return nil, err
	}
	return os.ReadFile(tmp.Name())
}

// characterNames lists the cast of a story for name suggestions.
func characterNames(story *storystore.Story) []string {
	names := make([]string, 0, len(story.Script.Characters))
	for _, c := range story.Script.Characters {
		names = append(names, c.Name)
	}
	return names
}

// suggestName returns the closest known name within the edit distance cap,
// or "" when nothing is close enough.
func suggestName(input string, known []string) string {
	best := ""
	bestDist := maxSuggestDistance + 1
	for _, name := range known {
		d := matchr.Levenshtein(strings.ToLower(input), strings.ToLower(name))
		if d < bestDist {
			best, bestDist = name, d
		}
	}
	if bestDist > maxSuggestDistance {
		return ""
	}
	return best
}
