// Package orchestrator drives a story from prompt to finished audio file.
//
// The flow has two asynchronous phases separated by an explicit confirmation:
// script generation ends in a preview the caller must approve, and only the
// approval starts the expensive synthesis and assembly work. Job state lives
// in memory; the draft persisted at preview time lets the service pick the
// preview back up after a restart.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tbleier/fabelwerk/internal/assemble"
	"github.com/tbleier/fabelwerk/internal/job"
	"github.com/tbleier/fabelwerk/internal/observe"
	"github.com/tbleier/fabelwerk/internal/script"
	"github.com/tbleier/fabelwerk/internal/scriptgen"
	"github.com/tbleier/fabelwerk/internal/storystore"
	"github.com/tbleier/fabelwerk/internal/synth"
	"github.com/tbleier/fabelwerk/internal/voice"
	"github.com/tbleier/fabelwerk/pkg/fault"
	"github.com/tbleier/fabelwerk/pkg/provider/image"
)

// Orchestrator owns the generation pipeline. All dependencies are injected;
// the image provider may be nil, in which case stories are produced without
// cover art.
type Orchestrator struct {
	jobs      *job.Store
	store     storystore.Store
	generator *scriptgen.Generator
	catalog   *voice.Catalog
	assigner  *voice.Assigner
	synth     *synth.Synthesizer
	assembler *assemble.Assembler
	images    image.Provider
	metrics   *observe.Metrics
	mediaDir  string
}

// Config bundles the Orchestrator's collaborators.
type Config struct {
	Jobs      *job.Store
	Store     storystore.Store
	Generator *scriptgen.Generator
	Catalog   *voice.Catalog
	Synth     *synth.Synthesizer
	Assembler *assemble.Assembler
	Images    image.Provider
	Metrics   *observe.Metrics
	MediaDir  string
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Orchestrator{
		jobs:      cfg.Jobs,
		store:     cfg.Store,
		generator: cfg.Generator,
		catalog:   cfg.Catalog,
		assigner:  voice.NewAssigner(cfg.Catalog),
		synth:     cfg.Synth,
		assembler: cfg.Assembler,
		images:    cfg.Images,
		metrics:   m,
		mediaDir:  cfg.MediaDir,
	}
}

// SubmitRequest carries a new story wish.
type SubmitRequest struct {
	// ID optionally fixes the story ID. Empty means a fresh UUID.
	ID string

	Prompt         string
	AgeGroup       string
	CharacterHints []scriptgen.CharacterHint
}

// Submit validates the request, registers a job, and starts script
// generation in the background. It returns the story ID immediately.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if req.Prompt == "" {
		return "", fault.Validationf("prompt must not be empty")
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	o.jobs.Create(id)
	o.metrics.ActiveJobs.Add(ctx, 1)

	go o.runScript(context.WithoutCancel(ctx), id, req)
	return id, nil
}

// Confirm approves the previewed script and starts audio production. Only a
// job in the preview state can be confirmed; the state transition is atomic,
// so concurrent confirms start synthesis exactly once. A confirm against any
// other state reports the story as not found, the same answer an unknown id
// gets.
//
// A preview that only exists as a persisted draft (service restarted since
// generation, or the job record expired) is first re-registered as a job. The
// re-registration inserts only when the record is still absent; a racing
// confirm that registered first keeps whatever state it has reached since.
func (o *Orchestrator) Confirm(ctx context.Context, id string) error {
	if _, err := o.jobs.Get(id); err != nil {
		if _, derr := o.store.GetDraft(ctx, id); derr != nil {
			return derr
		}
		if o.jobs.CreateIfAbsent(id, job.StatePreview) {
			o.metrics.ActiveJobs.Add(ctx, 1)
		}
	}

	if err := o.jobs.Transition(id, job.StatePreview, job.StateGeneratingAudio); err != nil {
		if errors.Is(err, fault.ErrValidation) {
			return fault.NotFoundf("story %s has no preview awaiting confirmation", id)
		}
		return err
	}

	draft, err := o.store.GetDraft(ctx, id)
	if err != nil {
		o.failJob(ctx, id, fmt.Errorf("load confirmed draft: %w", err))
		return err
	}

	go o.runAudio(context.WithoutCancel(ctx), id, draft)
	return nil
}

// Status is the externally visible state of a story request.
type Status struct {
	ID       string
	State    job.State
	Progress string
	Error    string

	// Preview carries the script and voice plan while the job awaits
	// confirmation.
	Preview *storystore.Draft

	// AudioPath and CoverPath are set once the story is done.
	AudioPath string
	CoverPath string
	Title     string
}

// Status reports the current state of a story request. Lookup order: live
// job, then persisted draft (a preview surviving a restart), then finished
// story.
func (o *Orchestrator) Status(ctx context.Context, id string) (*Status, error) {
	if snap, err := o.jobs.Get(id); err == nil {
		st := &Status{ID: id, State: snap.State, Progress: snap.Progress, Error: snap.Error}
		switch snap.State {
		case job.StatePreview:
			if draft, err := o.store.GetDraft(ctx, id); err == nil {
				st.Preview = draft
			}
		case job.StateDone:
			if story, err := o.store.GetStory(ctx, id); err == nil {
				st.AudioPath = story.AudioPath
				st.CoverPath = story.CoverPath
				st.Title = story.Title
			}
		}
		return st, nil
	}

	if draft, err := o.store.GetDraft(ctx, id); err == nil {
		return &Status{ID: id, State: job.StatePreview, Preview: draft}, nil
	}

	if story, err := o.store.GetStory(ctx, id); err == nil {
		return &Status{
			ID:        id,
			State:     job.StateDone,
			AudioPath: story.AudioPath,
			CoverPath: story.CoverPath,
			Title:     story.Title,
		}, nil
	}

	return nil, fault.NotFoundf("story %s not found", id)
}

// Watch subscribes to live state changes of a job. See [job.Store.Watch].
func (o *Orchestrator) Watch(id string) (<-chan job.Snapshot, func(), error) {
	return o.jobs.Watch(id)
}

// Catalog exposes the voice catalog for listing endpoints.
func (o *Orchestrator) Catalog() *voice.Catalog {
	return o.catalog
}

// runScript is the first pipeline phase: generate, clean, cast, persist,
// preview.
func (o *Orchestrator) runScript(ctx context.Context, id string, req SubmitRequest) {
	start := time.Now()
	sc, err := o.generator.Generate(ctx, scriptgen.Request{
		Prompt:         req.Prompt,
		AgeGroup:       req.AgeGroup,
		CharacterHints: req.CharacterHints,
	})
	o.metrics.ScriptDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		o.metrics.RecordProviderRequest(ctx, "llm", "complete", "error")
		o.failJob(ctx, id, err)
		return
	}
	o.metrics.RecordProviderRequest(ctx, "llm", "complete", "ok")

	// Spelled-out laughter and sound effects read badly when a voice speaks
	// them literally, so they are stripped before anyone hears the preview.
	// The narrator is injected first so the cleanup's narrator exemption
	// also covers scripts whose cast omitted the narrator.
	script.InjectNarrator(sc)
	script.CleanOnomatopoeia(sc)

	assignment := o.assigner.Assign(sc.Cast())

	draft := &storystore.Draft{ID: id, Script: sc, VoiceMap: assignment}
	if err := o.store.UpsertDraft(ctx, draft); err != nil {
		o.failJob(ctx, id, err)
		return
	}

	o.jobs.Set(id, job.StatePreview)
	slog.Info("script ready for preview",
		"story", id, "title", sc.Title,
		"characters", len(sc.Characters), "lines", len(sc.Lines()))
}

// runAudio is the second pipeline phase: synthesize every line, generate the
// cover in parallel, assemble, persist.
//
// Cover art is best-effort. A story without a picture is still a story; a
// failed cover must never sink an otherwise finished generation.
func (o *Orchestrator) runAudio(ctx context.Context, id string, draft *storystore.Draft) {
	lines := draft.Script.Lines()
	total := len(lines)
	if total == 0 {
		o.failJob(ctx, id, fault.Validationf("script has no lines to voice"))
		return
	}

	var (
		voiced    []script.Line
		coverPath string
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		start := time.Now()
		var err error
		voiced, err = o.synth.SynthesizeLines(gctx, id, lines, draft.VoiceMap, o.mediaDir,
			func(done, _ int) {
				o.jobs.Progress(id, fmt.Sprintf("Voices: %d/%d", done, total))
				o.metrics.RecordProviderRequest(gctx, "tts", "synthesize", "ok")
			})
		if err != nil {
			o.metrics.RecordProviderRequest(gctx, "tts", "synthesize", "error")
			return fmt.Errorf("synthesize: %w", err)
		}
		o.metrics.SynthesisDuration.Record(gctx, time.Since(start).Seconds())

		start = time.Now()
		clipPaths := make([]string, len(voiced))
		for i, l := range voiced {
			clipPaths[i] = l.AudioPath
		}
		outPath := filepath.Join(o.mediaDir, id+".mp3")
		if err := o.assembler.Combine(gctx, clipPaths, outPath); err != nil {
			return err
		}
		o.metrics.AssemblyDuration.Record(gctx, time.Since(start).Seconds())
		return nil
	})

	g.Go(func() error {
		coverPath = o.generateCover(gctx, id, draft.Script)
		return nil
	})

	if err := g.Wait(); err != nil {
		o.failJob(ctx, id, err)
		return
	}

	draft.Script.SetAudioPaths(voiced)
	story := &storystore.Story{
		ID:        id,
		Title:     draft.Script.Title,
		Script:    draft.Script,
		VoiceMap:  draft.VoiceMap,
		AudioPath: filepath.Join(o.mediaDir, id+".mp3"),
		CoverPath: coverPath,
	}
	if err := o.store.SaveStory(ctx, story); err != nil {
		o.failJob(ctx, id, err)
		return
	}
	if err := o.store.DeleteDraft(ctx, id); err != nil {
		slog.Warn("could not delete confirmed draft", "story", id, "error", err)
	}

	o.jobs.Set(id, job.StateDone)
	o.metrics.ActiveJobs.Add(ctx, -1)
	o.metrics.RecordStoryCompleted(ctx, "done")
	slog.Info("story finished", "story", id, "audio", story.AudioPath, "cover", coverPath != "")
}

// generateCover produces the cover image and returns its path, or "" when no
// provider is configured or generation fails.
func (o *Orchestrator) generateCover(ctx context.Context, id string, sc *script.Script) string {
	if o.images == nil {
		return ""
	}

	names := make([]string, 0, len(sc.Characters))
	for _, c := range sc.Characters {
		if c.Category != voice.CategoryNarrator {
			names = append(names, c.Name)
		}
	}

	start := time.Now()
	png, err := o.images.GenerateCover(ctx, image.CoverRequest{
		Title:          sc.Title,
		Summary:        sc.Summary,
		CharacterNames: names,
	})
	o.metrics.CoverDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		slog.Warn("cover generation failed, continuing without cover", "story", id, "error", err)
		o.metrics.RecordProviderRequest(ctx, "image", "cover", "error")
		o.metrics.RecordProviderError(ctx, "image", "cover")
		return ""
	}
	o.metrics.RecordProviderRequest(ctx, "image", "cover", "ok")

	path := filepath.Join(o.mediaDir, id+".png")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		slog.Warn("could not write cover image", "story", id, "error", err)
		return ""
	}
	return path
}

// failJob records a pipeline failure on the job and in the metrics.
func (o *Orchestrator) failJob(ctx context.Context, id string, err error) {
	slog.Error("story generation failed", "story", id, "error", err)
	o.jobs.Fail(id, err)
	o.metrics.ActiveJobs.Add(ctx, -1)
	o.metrics.RecordStoryCompleted(ctx, "error")
}
