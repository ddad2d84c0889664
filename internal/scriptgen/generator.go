// Package scriptgen turns a story prompt into a structured script by driving
// an LLM provider and parsing its JSON answer.
package scriptgen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tbleier/fabelwerk/internal/script"
	"github.com/tbleier/fabelwerk/internal/voice"
	"github.com/tbleier/fabelwerk/pkg/fault"
	"github.com/tbleier/fabelwerk/pkg/provider/llm"
)

// systemPrompt instructs the model to answer with the script JSON shape and
// nothing else. Kept minimal on purpose; prompt tuning lives with the model
// configuration, not in code.
const systemPrompt = `You write scripts for personalized children's audio stories.
Answer with a single JSON object and nothing else, using this exact shape:
{"title":"...","summary":"...",
 "characters":[{"name":"...","category":"child-male|child-female|adult-male|adult-female|elder-male|elder-female|creature|narrator","traits":["..."]}],
 "scenes":[{"lines":[{"speaker":"<character name>","text":"..."}]}]}
Include a narrator character. Give each character at most 3 short personality traits.
Write dialogue suitable for reading aloud.`

// Request carries the caller's story wishes.
type Request struct {
	// Prompt is the free-text story idea. Must be non-empty.
	Prompt string

	// AgeGroup is an optional target age hint (e.g., "4-6").
	AgeGroup string

	// CharacterHints optionally seeds the cast.
	CharacterHints []CharacterHint
}

// CharacterHint is a caller-supplied character suggestion.
type CharacterHint struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// scriptDraft is the wire shape the LLM is asked to produce. It is converted
// into the domain script after validation; persisted drafts use the domain
// types, never this DTO.
type scriptDraft struct {
	Title      string `json:"title"`
	Summary    string `json:"summary"`
	Characters []struct {
		Name     string   `json:"name"`
		Category string   `json:"category"`
		Traits   []string `json:"traits"`
	} `json:"characters"`
	Scenes []struct {
		Lines []struct {
			Speaker string `json:"speaker"`
			Text    string `json:"text"`
		} `json:"lines"`
	} `json:"scenes"`
}

// Generator produces scripts from prompts.
type Generator struct {
	llm llm.Provider
}

// New creates a Generator. provider may be nil when no LLM credential is
// configured; Generate then fails with fault.ErrConfiguration.
func New(provider llm.Provider) *Generator {
	return &Generator{llm: provider}
}

// Generate asks the LLM for a script and parses the structured result.
// A malformed answer counts as an upstream failure: the model did not hold
// up its contract.
func (g *Generator) Generate(ctx context.Context, req Request) (*script.Script, error) {
	if g.llm == nil {
		return nil, fault.Configurationf("no LLM provider configured")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fault.Validationf("prompt must not be empty")
	}

	resp, err := g.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Prompt:       buildPrompt(req),
		Temperature:  0.8,
		JSONOnly:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("scriptgen: %w", err)
	}

	s, err := parseDraft(resp.Content)
	if err != nil {
		return nil, fault.Upstreamf("scriptgen: %v", err)
	}
	return s, nil
}

// buildPrompt renders the user message from the request.
func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Story idea: ")
	b.WriteString(req.Prompt)
	if req.AgeGroup != "" {
		fmt.Fprintf(&b, "\nTarget age group: %s", req.AgeGroup)
	}
	for _, h := range req.CharacterHints {
		fmt.Fprintf(&b, "\nCharacter: %s", h.Name)
		if h.Description != "" {
			fmt.Fprintf(&b, " — %s", h.Description)
		}
	}
	return b.String()
}

// parseDraft decodes and validates the LLM's JSON answer and converts it into
// the domain script.
func parseDraft(content string) (*script.Script, error) {
	var draft scriptDraft
	if err := json.Unmarshal([]byte(stripFences(content)), &draft); err != nil {
		return nil, fmt.Errorf("decode script JSON: %v", err)
	}
	if draft.Title == "" {
		return nil, fmt.Errorf("script has no title")
	}
	if len(draft.Scenes) == 0 {
		return nil, fmt.Errorf("script has no scenes")
	}

	s := &script.Script{Title: draft.Title, Summary: draft.Summary}
	seen := make(map[string]bool, len(draft.Characters))
	for _, c := range draft.Characters {
		if c.Name == "" || seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		s.Characters = append(s.Characters, script.Character{
			Name:     c.Name,
			Category: normalizeCategory(c.Category, c.Name),
			Traits:   clampTraits(c.Traits),
		})
	}
	if len(s.Characters) == 0 {
		return nil, fmt.Errorf("script has no characters")
	}

	lineCount := 0
	for _, sc := range draft.Scenes {
		var scene script.Scene
		for _, l := range sc.Lines {
			if strings.TrimSpace(l.Text) == "" {
				continue
			}
			scene.Lines = append(scene.Lines, script.Line{Speaker: l.Speaker, Text: l.Text})
			lineCount++
		}
		if len(scene.Lines) > 0 {
			s.Scenes = append(s.Scenes, scene)
		}
	}
	if lineCount == 0 {
		return nil, fmt.Errorf("script has no lines")
	}
	return s, nil
}

// normalizeCategory maps the model's category string onto the closed enum.
// Unknown categories land in the creature pool rather than failing the story.
func normalizeCategory(raw, name string) voice.Category {
	cat := voice.Category(strings.ToLower(strings.TrimSpace(raw)))
	if cat.IsValid() {
		return cat
	}
	slog.Warn("script character has unknown category, using creature pool",
		"character", name, "category", raw)
	return voice.CategoryCreature
}

// clampTraits keeps at most 3 non-empty traits.
func clampTraits(traits []string) []string {
	var out []string
	for _, t := range traits {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		out = append(out, t)
		if len(out) == 3 {
			break
		}
	}
	return out
}

// stripFences removes a Markdown code fence around the JSON, which some models
// emit despite the JSON-only instruction.
func stripFences(content string) string {
	c := strings.TrimSpace(content)
	if !strings.HasPrefix(c, "```") {
		return c
	}
	c = strings.TrimPrefix(c, "```json")
	c = strings.TrimPrefix(c, "```")
	c = strings.TrimSuffix(strings.TrimSpace(c), "```")
	return strings.TrimSpace(c)
}
