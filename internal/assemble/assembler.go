// Package assemble stitches per-line audio clips into the final story file
// using ffmpeg.
package assemble

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Defaults for the pause between lines and the opening fade.
const (
	DefaultGap    = 400 * time.Millisecond
	DefaultFadeIn = 500 * time.Millisecond
)

// Option is a functional option for the Assembler.
type Option func(*Assembler)

// WithFFmpeg overrides the ffmpeg binary.
func WithFFmpeg(path string) Option {
	return func(a *Assembler) {
		a.ffmpeg = path
	}
}

// WithGap sets the silence inserted between consecutive clips.
func WithGap(d time.Duration) Option {
	return func(a *Assembler) {
		a.gap = d
	}
}

// WithFadeIn sets the fade-in applied to the start of the combined file.
// Zero disables the fade.
func WithFadeIn(d time.Duration) Option {
	return func(a *Assembler) {
		a.fadeIn = d
	}
}

// Assembler combines clips into one audio file.
type Assembler struct {
	ffmpeg string
	gap    time.Duration
	fadeIn time.Duration
}

// New creates an Assembler with the default gap and fade.
func New(opts ...Option) *Assembler {
	a := &Assembler{
		ffmpeg: "ffmpeg",
		gap:    DefaultGap,
		fadeIn: DefaultFadeIn,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Combine concatenates the clips in order into outPath, with a silence gap
// between neighbouring clips but not before the first or after the last, and
// a fade-in on the opening. All clips must share the codec and sample rate of
// the synthesizer's output; the concat itself runs without re-encoding.
//
// Unlike synthesis post-processing, assembly failures are fatal: there is no
// partial result worth keeping.
func (a *Assembler) Combine(ctx context.Context, clipPaths []string, outPath string) error {
	if len(clipPaths) == 0 {
		return fmt.Errorf("assemble: no clips to combine")
	}

	workDir, err := os.MkdirTemp("", "fabelwerk-assemble-*")
	if err != nil {
		return fmt.Errorf("assemble: temp dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	silencePath := filepath.Join(workDir, "gap.mp3")
	if a.gap > 0 && len(clipPaths) > 1 {
		if err := a.renderSilence(ctx, silencePath); err != nil {
			return err
		}
	}

	listPath := filepath.Join(workDir, "concat.txt")
	if err := os.WriteFile(listPath, []byte(a.concatList(clipPaths, silencePath)), 0o644); err != nil {
		return fmt.Errorf("assemble: write concat list: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("assemble: create output dir: %w", err)
	}

	joined := outPath
	if a.fadeIn > 0 {
		joined = filepath.Join(workDir, "joined.mp3")
	}
	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-hide_banner", "-loglevel", "error",
		"-y", "-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c", "copy",
		joined,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("assemble: ffmpeg concat: %v: %s", err, out)
	}

	if a.fadeIn > 0 {
		if err := a.applyFade(ctx, joined, outPath); err != nil {
			return err
		}
	}
	return nil
}

// renderSilence writes the gap clip used between lines. Sample rate and
// layout match the synthesizer's mp3 output so the stream concat stays
// copy-only.
func (a *Assembler) renderSilence(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-hide_banner", "-loglevel", "error",
		"-y", "-f", "lavfi",
		"-i", "anullsrc=r=44100:cl=mono",
		"-t", formatSeconds(a.gap),
		"-b:a", "128k",
		path,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("assemble: render silence: %v: %s", err, out)
	}
	return nil
}

// applyFade re-encodes src into dst with the opening fade.
func (a *Assembler) applyFade(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-hide_banner", "-loglevel", "error",
		"-y", "-i", src,
		"-af", fmt.Sprintf("afade=t=in:st=0:d=%s", formatSeconds(a.fadeIn)),
		dst,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("assemble: apply fade: %v: %s", err, out)
	}
	return nil
}

// concatList renders the ffmpeg concat demuxer input: clips alternating with
// the silence gap, gap strictly between clips.
func (a *Assembler) concatList(clipPaths []string, silencePath string) string {
	var b strings.Builder
	for i, clip := range clipPaths {
		if i > 0 && a.gap > 0 {
			fmt.Fprintf(&b, "file '%s'\n", escapeConcatPath(silencePath))
		}
		fmt.Fprintf(&b, "file '%s'\n", escapeConcatPath(clip))
	}
	return b.String()
}

// escapeConcatPath quotes single quotes for the concat demuxer's file syntax.
func escapeConcatPath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}

// formatSeconds renders a duration as fractional seconds for ffmpeg flags.
func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}
