// Package synth voices individual script lines through a TTS provider and
// post-processes the resulting clips.
//
// Lines are synthesized strictly sequentially: the TTS collaborator does not
// guarantee thread-safety across concurrent calls against the same voice, and
// sequential order keeps progress reporting deterministic.
package synth

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tbleier/fabelwerk/internal/script"
	"github.com/tbleier/fabelwerk/internal/voice"
	"github.com/tbleier/fabelwerk/pkg/fault"
	"github.com/tbleier/fabelwerk/pkg/provider/tts"
)

// loudnormFilter is the EBU-R128 loudness target applied to every clip.
// Matching loudness across clips matters more than the absolute level:
// neighbouring lines from different voices must not jump in volume.
const loudnormFilter = "loudnorm=I=-16:TP=-1.5:LRA=11"

// contextSentences is how many trailing sentences of the previous line are
// passed as prosody context.
const contextSentences = 2

// Option is a functional option for the Synthesizer.
type Option func(*Synthesizer)

// WithFFmpeg overrides the ffmpeg binary used for loudness normalization.
func WithFFmpeg(path string) Option {
	return func(s *Synthesizer) {
		s.ffmpeg = path
	}
}

// WithoutNormalization disables the loudness post-process (used in tests and
// for providers that already deliver normalized audio).
func WithoutNormalization() Option {
	return func(s *Synthesizer) {
		s.normalize = false
	}
}

// WithSettings sets the default voice settings applied to every request.
func WithSettings(settings tts.Settings) Option {
	return func(s *Synthesizer) {
		s.settings = settings
	}
}

// WithTimeout bounds each individual synthesis call. Zero means no
// synthesizer-imposed deadline beyond the provider's own.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) {
		s.timeout = d
	}
}

// Synthesizer turns script lines into loudness-normalized audio clips.
type Synthesizer struct {
	tts       tts.Provider
	ffmpeg    string
	normalize bool
	settings  tts.Settings
	timeout   time.Duration
}

// New creates a Synthesizer. provider may be nil when no TTS credential is
// configured; synthesis then fails with fault.ErrConfiguration.
func New(provider tts.Provider, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		tts:       provider,
		ffmpeg:    "ffmpeg",
		normalize: true,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SynthesizeLine voices one line into outPath. The request's context fields
// must already be populated by the caller (see [ContextFor]).
//
// Normalization failures keep the raw clip: a voiced line beats a polished
// missing one.
func (s *Synthesizer) SynthesizeLine(ctx context.Context, req tts.Request, outPath string) error {
	if s.tts == nil {
		return fault.Configurationf("no TTS provider configured")
	}
	if req.Settings == (tts.Settings{}) {
		req.Settings = s.settings
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	audio, err := s.tts.Synthesize(ctx, req)
	if err != nil {
		return fmt.Errorf("synth: voice %s: %w", req.VoiceID, err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("synth: create clip dir: %w", err)
	}
	if err := os.WriteFile(outPath, audio, 0o644); err != nil {
		return fmt.Errorf("synth: write clip: %w", err)
	}

	if s.normalize {
		if err := s.normalizeLoudness(ctx, outPath); err != nil {
			slog.Warn("loudness normalization failed, keeping raw clip",
				"path", outPath, "error", err)
		}
	}
	return nil
}

// SynthesizeLines voices every line in order, writing clips under dir and
// returning a copy of lines with AudioPath set. progress is called after each
// finished line with (done, total); it may be nil.
func (s *Synthesizer) SynthesizeLines(ctx context.Context, storyID string, lines []script.Line, assignment voice.Assignment, dir string, progress func(done, total int)) ([]script.Line, error) {
	out := make([]script.Line, len(lines))
	copy(out, lines)

	for i := range out {
		req, err := s.lineRequest(out, i, assignment)
		if err != nil {
			return nil, err
		}
		path := ClipPath(dir, storyID, out[i])
		if err := s.SynthesizeLine(ctx, req, path); err != nil {
			return nil, fmt.Errorf("line %d/%d (%s): %w", i+1, len(out), out[i].Speaker, err)
		}
		out[i].AudioPath = path
		if progress != nil {
			progress(i+1, len(out))
		}
	}
	return out, nil
}

// ResynthesizeCharacter re-voices only the lines spoken by character with the
// given voice, leaving every other clip file untouched. Context is recomputed
// from the full line list, not from the subset being replaced, so the new
// clips blend with their actual neighbours. Returns the updated lines and the
// number of regenerated clips.
func (s *Synthesizer) ResynthesizeCharacter(ctx context.Context, storyID string, lines []script.Line, character, voiceID, dir string) ([]script.Line, int, error) {
	out := make([]script.Line, len(lines))
	copy(out, lines)

	regenerated := 0
	for i := range out {
		if out[i].Speaker != character {
			continue
		}
		prev, next := ContextFor(out, i)
		req := tts.Request{
			Text:         out[i].Text,
			VoiceID:      voiceID,
			PreviousText: prev,
			NextText:     next,
		}
		path := ClipPath(dir, storyID, out[i])
		if err := s.SynthesizeLine(ctx, req, path); err != nil {
			return nil, regenerated, fmt.Errorf("reline scene %d line %d: %w", out[i].SceneIndex, out[i].LineIndex, err)
		}
		out[i].AudioPath = path
		regenerated++
	}
	return out, regenerated, nil
}

// lineRequest builds the synthesis request for line i, resolving the voice
// from the assignment and attaching neighbouring-line context.
func (s *Synthesizer) lineRequest(lines []script.Line, i int, assignment voice.Assignment) (tts.Request, error) {
	voiceID, ok := assignment[lines[i].Speaker]
	if !ok {
		return tts.Request{}, fmt.Errorf("synth: no voice assigned to speaker %q", lines[i].Speaker)
	}
	prev, next := ContextFor(lines, i)
	return tts.Request{
		Text:         lines[i].Text,
		VoiceID:      voiceID,
		PreviousText: prev,
		NextText:     next,
	}, nil
}

// ClipPath is the canonical clip location for a line. Stable across
// re-synthesis so a voice swap overwrites in place and leaves the other
// clip files byte-identical.
func ClipPath(dir, storyID string, line script.Line) string {
	return filepath.Join(dir, fmt.Sprintf("%s_s%02d_l%02d.mp3", storyID, line.SceneIndex, line.LineIndex))
}

// ContextFor returns the prosody context for line i: up to two sentences of
// the preceding line and the full text of the following line. Clips are later
// concatenated with only a short silence gap; without this context the
// intonation at the boundaries does not blend.
func ContextFor(lines []script.Line, i int) (previous, next string) {
	if i > 0 {
		previous = LastSentences(lines[i-1].Text, contextSentences)
	}
	if i+1 < len(lines) {
		next = lines[i+1].Text
	}
	return previous, next
}

// LastSentences returns the final n sentences of text. Sentence boundaries
// are terminal punctuation followed by whitespace or end of text.
func LastSentences(text string, n int) string {
	text = strings.TrimSpace(text)
	if text == "" || n <= 0 {
		return ""
	}

	// Indices one past each sentence end.
	var ends []int
	runes := []rune(text)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' && r != '…' {
			continue
		}
		if i+1 == len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' {
			ends = append(ends, i+1)
		}
	}
	if len(ends) <= n {
		return text
	}
	start := ends[len(ends)-n-1]
	return strings.TrimSpace(string(runes[start:]))
}

// normalizeLoudness rewrites path with the loudness filter applied. The
// original file stays in place when ffmpeg fails.
func (s *Synthesizer) normalizeLoudness(ctx context.Context, path string) error {
	tmp := path + ".norm.mp3"
	cmd := exec.CommandContext(ctx, s.ffmpeg,
		"-hide_banner", "-loglevel", "error",
		"-y", "-i", path,
		"-af", loudnormFilter,
		tmp,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("ffmpeg loudnorm: %v: %s", err, out)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace clip: %w", err)
	}
	return nil
}
