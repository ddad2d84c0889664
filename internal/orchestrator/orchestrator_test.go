package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/tbleier/fabelwerk/internal/assemble"
	"github.com/tbleier/fabelwerk/internal/job"
	"github.com/tbleier/fabelwerk/internal/observe"
	"github.com/tbleier/fabelwerk/internal/script"
	"github.com/tbleier/fabelwerk/internal/scriptgen"
	"github.com/tbleier/fabelwerk/internal/storystore"
	"github.com/tbleier/fabelwerk/internal/synth"
	"github.com/tbleier/fabelwerk/internal/voice"
	"github.com/tbleier/fabelwerk/pkg/fault"
	imgmock "github.com/tbleier/fabelwerk/pkg/provider/image/mock"
	"github.com/tbleier/fabelwerk/pkg/provider/llm"
	llmmock "github.com/tbleier/fabelwerk/pkg/provider/llm/mock"
	ttsmock "github.com/tbleier/fabelwerk/pkg/provider/tts/mock"
)

// draftJSON is the canned LLM answer used by most tests. The fox line opens
// with spelled-out laughter so the cleanup step is visible in the preview.
const draftJSON = `{
  "title": "Der Fuchs lernt teilen",
  "summary": "Ein kleiner Fuchs entdeckt, wie schön Teilen ist.",
  "characters": [
    {"name": "Erzähler", "category": "narrator", "traits": []},
    {"name": "Fuchs", "category": "creature", "traits": ["klein", "neugierig"]},
    {"name": "Igel", "category": "creature", "traits": ["freundlich"]}
  ],
  "scenes": [
    {"lines": [
      {"speaker": "Erzähler", "text": "Es war einmal ein Fuchs."},
      {"speaker": "Fuchs", "text": "Haha, das sind meine Beeren!"},
      {"speaker": "Igel", "text": "Wollen wir teilen?"}
    ]}
  ]
}`

type env struct {
	orch  *Orchestrator
	jobs  *job.Store
	store *storystore.MemStore
	llm   *llmmock.Provider
	tts   *ttsmock.Provider
	img   *imgmock.Provider
	media string
}

func newEnv(t *testing.T) *env {
	t.Helper()

	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	e := &env{
		jobs:  job.NewStore(),
		store: storystore.NewMemStore(),
		llm:   &llmmock.Provider{CompleteResult: &llm.CompletionResponse{Content: draftJSON}},
		tts:   &ttsmock.Provider{SynthesizeResult: []byte("mp3")},
		img:   &imgmock.Provider{GenerateResult: []byte("png")},
		media: t.TempDir(),
	}
	e.orch = New(Config{
		Jobs:      e.jobs,
		Store:     e.store,
		Generator: scriptgen.New(e.llm),
		Catalog:   voice.Default(),
		Synth:     synth.New(e.tts, synth.WithoutNormalization()),
		Assembler: assemble.New(assemble.WithFFmpeg(ffmpegStub(t)), assemble.WithFadeIn(0)),
		Images:    e.img,
		Metrics:   metrics,
		MediaDir:  e.media,
	})
	return e
}

// ffmpegStub stands in for the real binary: it touches its output file (the
// last argument) and exits cleanly.
func ffmpegStub(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	stub := filepath.Join(dir, "ffmpeg")
	body := "#!/bin/sh\nfor last; do :; done\ntouch \"$last\"\n"
	if err := os.WriteFile(stub, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	return stub
}

// slowDrafts delays draft reads the way a remote store would, widening the
// window between the draft existence check and the state transition inside
// Confirm.
type slowDrafts struct {
	storystore.Store
	delay time.Duration
}

func (s *slowDrafts) GetDraft(ctx context.Context, id string) (*storystore.Draft, error) {
	time.Sleep(s.delay)
	return s.Store.GetDraft(ctx, id)
}

// waitStatus polls until the story reaches the wanted state or fails the
// test on error or timeout.
func waitStatus(t *testing.T, o *Orchestrator, id string, want job.State) *Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := o.Status(context.Background(), id)
		if err == nil {
			if st.State == want {
				return st
			}
			if st.State == job.StateError && want != job.StateError {
				t.Fatalf("generation failed: %s", st.Error)
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s", want)
	return nil
}

func TestSubmit(t *testing.T) {
	t.Parallel()

	t.Run("empty prompt fails synchronously", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		_, err := e.orch.Submit(context.Background(), SubmitRequest{})
		if !errors.Is(err, fault.ErrValidation) {
			t.Fatalf("want fault.ErrValidation, got %v", err)
		}
	})

	t.Run("produces a preview with cast and cleaned lines", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		id, err := e.orch.Submit(context.Background(), SubmitRequest{Prompt: "ein Fuchs lernt teilen"})
		if err != nil {
			t.Fatal(err)
		}

		st := waitStatus(t, e.orch, id, job.StatePreview)
		if st.Preview == nil {
			t.Fatal("preview has no draft")
		}

		if got := st.Preview.VoiceMap["Erzähler"]; got != voice.Default().Narrator().ID {
			t.Fatalf("narrator voice = %q", got)
		}
		if st.Preview.VoiceMap["Fuchs"] == "" || st.Preview.VoiceMap["Igel"] == "" {
			t.Fatalf("cast not fully voiced: %v", st.Preview.VoiceMap)
		}

		foxLine := st.Preview.Script.Scenes[0].Lines[1].Text
		if strings.Contains(strings.ToLower(foxLine), "haha") {
			t.Fatalf("laughter not cleaned: %q", foxLine)
		}

		// The draft must be durable, not just job state.
		if _, err := e.store.GetDraft(context.Background(), id); err != nil {
			t.Fatalf("draft not persisted: %v", err)
		}
	})

	t.Run("narrator lines stay intact when the cast omits the narrator", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.llm.CompleteResult = &llm.CompletionResponse{Content: `{
		  "title": "T",
		  "characters": [
		    {"name": "Fuchs", "category": "creature", "traits": []}
		  ],
		  "scenes": [
		    {"lines": [
		      {"speaker": "Erzähler", "text": "Haha, rief der Fuchs und rannte los."},
		      {"speaker": "Fuchs", "text": "Haha, das war knapp!"}
		    ]}
		  ]
		}`}

		id, err := e.orch.Submit(context.Background(), SubmitRequest{Prompt: "x"})
		if err != nil {
			t.Fatal(err)
		}
		st := waitStatus(t, e.orch, id, job.StatePreview)

		if _, ok := st.Preview.Script.Narrator(); !ok {
			t.Fatal("narrator not injected")
		}
		lines := st.Preview.Script.Scenes[0].Lines
		if !strings.Contains(lines[0].Text, "Haha") {
			t.Fatalf("narrator line cleaned: %q", lines[0].Text)
		}
		if strings.Contains(lines[1].Text, "Haha") {
			t.Fatalf("character line not cleaned: %q", lines[1].Text)
		}
	})

	t.Run("LLM failure lands in the error state", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.llm.CompleteResult = nil
		e.llm.CompleteErr = fault.Upstreamf("model unavailable")

		id, err := e.orch.Submit(context.Background(), SubmitRequest{Prompt: "x"})
		if err != nil {
			t.Fatal(err)
		}
		st := waitStatus(t, e.orch, id, job.StateError)
		if st.Error == "" {
			t.Fatal("error state without message")
		}
	})
}

func TestConfirm(t *testing.T) {
	t.Parallel()

	t.Run("full run produces the story", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		id, _ := e.orch.Submit(context.Background(), SubmitRequest{Prompt: "ein Fuchs"})
		waitStatus(t, e.orch, id, job.StatePreview)

		if err := e.orch.Confirm(context.Background(), id); err != nil {
			t.Fatal(err)
		}
		st := waitStatus(t, e.orch, id, job.StateDone)

		if st.AudioPath == "" {
			t.Fatal("done without audio path")
		}
		if _, err := os.Stat(st.AudioPath); err != nil {
			t.Fatalf("story file missing: %v", err)
		}
		if st.CoverPath == "" {
			t.Fatal("cover path not set")
		}

		// One synthesis call per line.
		if got := len(e.tts.Calls()); got != 3 {
			t.Fatalf("synthesize calls = %d, want 3", got)
		}
		// The confirmed draft is gone.
		if _, err := e.store.GetDraft(context.Background(), id); !errors.Is(err, fault.ErrNotFound) {
			t.Fatalf("draft still present: %v", err)
		}
	})

	t.Run("confirm before preview is rejected", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		block := make(chan struct{})
		defer close(block)
		// Keep the job stuck in waiting_for_script.
		e.llm.CompleteFunc = func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			<-block
			return &llm.CompletionResponse{Content: draftJSON}, nil
		}
		id, _ := e.orch.Submit(context.Background(), SubmitRequest{Prompt: "x"})

		err := e.orch.Confirm(context.Background(), id)
		if !errors.Is(err, fault.ErrNotFound) {
			t.Fatalf("want fault.ErrNotFound, got %v", err)
		}
	})

	t.Run("concurrent confirms start synthesis once", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		id, _ := e.orch.Submit(context.Background(), SubmitRequest{Prompt: "x"})
		waitStatus(t, e.orch, id, job.StatePreview)

		var wg sync.WaitGroup
		errs := make([]error, 6)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = e.orch.Confirm(context.Background(), id)
			}(i)
		}
		wg.Wait()

		won := 0
		for _, err := range errs {
			if err == nil {
				won++
			}
		}
		if won != 1 {
			t.Fatalf("want exactly one accepted confirm, got %d", won)
		}

		waitStatus(t, e.orch, id, job.StateDone)
		if got := len(e.tts.Calls()); got != 3 {
			t.Fatalf("synthesize calls = %d, want 3", got)
		}
	})

	t.Run("concurrent confirms of a recovered draft start synthesis once", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		id, _ := e.orch.Submit(context.Background(), SubmitRequest{Prompt: "x"})
		waitStatus(t, e.orch, id, job.StatePreview)

		// Fresh job registry over the same drafts, as after a restart or
		// after the sweep expired the preview record. Slow draft reads make
		// the re-registration window wide enough for confirms to overlap.
		e2 := newEnv(t)
		recovered := New(Config{
			Jobs:      e2.jobs,
			Store:     &slowDrafts{Store: e.store, delay: 2 * time.Millisecond},
			Generator: scriptgen.New(e.llm),
			Catalog:   voice.Default(),
			Synth:     synth.New(e.tts, synth.WithoutNormalization()),
			Assembler: assemble.New(assemble.WithFFmpeg(ffmpegStub(t)), assemble.WithFadeIn(0)),
			Metrics:   e2.orch.metrics,
			MediaDir:  e.media,
		})

		var wg sync.WaitGroup
		errs := make([]error, 4)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				time.Sleep(time.Duration(i*500) * time.Microsecond)
				errs[i] = recovered.Confirm(context.Background(), id)
			}(i)
		}
		wg.Wait()

		won := 0
		for _, err := range errs {
			if err == nil {
				won++
			} else if !errors.Is(err, fault.ErrNotFound) {
				t.Fatalf("loser got %v, want fault.ErrNotFound", err)
			}
		}
		if won != 1 {
			t.Fatalf("want exactly one accepted confirm, got %d", won)
		}

		waitStatus(t, recovered, id, job.StateDone)
		// One audio pass: one synthesis call per line, not per accepted
		// confirm.
		if got := len(e.tts.Calls()); got != 3 {
			t.Fatalf("synthesize calls = %d, want 3", got)
		}
	})

	t.Run("draft survives a restart and can be confirmed", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		id, _ := e.orch.Submit(context.Background(), SubmitRequest{Prompt: "x"})
		waitStatus(t, e.orch, id, job.StatePreview)

		// Fresh orchestrator over the same store simulates a restart; only
		// the in-memory job registry is lost.
		e2 := newEnv(t)
		restarted := New(Config{
			Jobs:      e2.jobs,
			Store:     e.store,
			Generator: scriptgen.New(e.llm),
			Catalog:   voice.Default(),
			Synth:     synth.New(e.tts, synth.WithoutNormalization()),
			Assembler: assemble.New(assemble.WithFFmpeg(ffmpegStub(t)), assemble.WithFadeIn(0)),
			Metrics:   e2.orch.metrics,
			MediaDir:  e.media,
		})

		st, err := restarted.Status(context.Background(), id)
		if err != nil || st.State != job.StatePreview {
			t.Fatalf("restarted status = %+v, %v", st, err)
		}
		if err := restarted.Confirm(context.Background(), id); err != nil {
			t.Fatal(err)
		}
		waitStatus(t, restarted, id, job.StateDone)
	})

	t.Run("cover failure does not sink the story", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.img.GenerateErr = fault.Upstreamf("content filter")

		id, _ := e.orch.Submit(context.Background(), SubmitRequest{Prompt: "x"})
		waitStatus(t, e.orch, id, job.StatePreview)
		if err := e.orch.Confirm(context.Background(), id); err != nil {
			t.Fatal(err)
		}

		st := waitStatus(t, e.orch, id, job.StateDone)
		if st.CoverPath != "" {
			t.Fatalf("cover path set despite failure: %q", st.CoverPath)
		}
		if st.AudioPath == "" {
			t.Fatal("audio missing")
		}
	})
}

func TestProviderRequestMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	e := newEnv(t)
	orch := New(Config{
		Jobs:      e.jobs,
		Store:     e.store,
		Generator: scriptgen.New(e.llm),
		Catalog:   voice.Default(),
		Synth:     synth.New(e.tts, synth.WithoutNormalization()),
		Assembler: assemble.New(assemble.WithFFmpeg(ffmpegStub(t)), assemble.WithFadeIn(0)),
		Images:    e.img,
		Metrics:   metrics,
		MediaDir:  e.media,
	})

	id, err := orch.Submit(context.Background(), SubmitRequest{Prompt: "x"})
	if err != nil {
		t.Fatal(err)
	}
	waitStatus(t, orch, id, job.StatePreview)
	if err := orch.Confirm(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, orch, id, job.StateDone)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "fabelwerk.provider.requests" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected counter data: %+v", m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	// One LLM completion, three line syntheses, one cover.
	if total != 5 {
		t.Fatalf("provider requests = %d, want 5", total)
	}
}

func TestStatusLookup(t *testing.T) {
	t.Parallel()

	t.Run("unknown id is not found", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		if _, err := e.orch.Status(context.Background(), "nope"); !errors.Is(err, fault.ErrNotFound) {
			t.Fatalf("want fault.ErrNotFound, got %v", err)
		}
	})

	t.Run("finished story without job reports done", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		sc := &script.Script{
			Title:      "T",
			Characters: []script.Character{{Name: "Erzähler", Category: voice.CategoryNarrator}},
			Scenes:     []script.Scene{{Lines: []script.Line{{Speaker: "Erzähler", Text: "x"}}}},
		}
		st := &storystore.Story{ID: "s1", Title: "T", Script: sc, AudioPath: "/media/s1.mp3"}
		if err := e.store.SaveStory(context.Background(), st); err != nil {
			t.Fatal(err)
		}

		got, err := e.orch.Status(context.Background(), "s1")
		if err != nil {
			t.Fatal(err)
		}
		if got.State != job.StateDone || got.AudioPath != "/media/s1.mp3" {
			t.Fatalf("status = %+v", got)
		}
	})
}
