// Package script defines the story-script data model produced by the LLM
// collaborator and consumed by the audio pipeline, plus the deterministic
// text-cleanup passes applied between the two.
package script

import "github.com/tbleier/fabelwerk/internal/voice"

// DefaultNarratorName is the cast name used when a script arrives without a
// narrator and one has to be injected.
const DefaultNarratorName = "Erzähler"

// Character is one member of a story's cast. Immutable once the script is
// accepted, except that the narrator is injected if the script omitted one.
type Character struct {
	// Name is unique within the cast and referenced by Line.Speaker.
	Name string `json:"name"`

	// Category selects the demographic voice pool.
	Category voice.Category `json:"category"`

	// Traits are 0–3 personality tags driving fine-grained voice matching.
	Traits []string `json:"traits,omitempty"`
}

// Line is one clip-producing unit of dialogue. SceneIndex and LineIndex
// together form the total order of the story. AudioPath is the only mutable
// field: it is rewritten whenever the line's audio is regenerated.
type Line struct {
	SceneIndex int    `json:"sceneIndex"`
	LineIndex  int    `json:"lineIndex"`
	Speaker    string `json:"speaker"`
	Text       string `json:"text"`
	AudioPath  string `json:"audioPath,omitempty"`
}

// Scene is an ordered group of lines.
type Scene struct {
	Title string `json:"title,omitempty"`
	Lines []Line `json:"lines"`
}

// Script is the full story script: title, summary, cast, and ordered scenes.
type Script struct {
	Title      string      `json:"title"`
	Summary    string      `json:"summary,omitempty"`
	Characters []Character `json:"characters"`
	Scenes     []Scene     `json:"scenes"`
}

// Lines returns a flattened copy of all lines in scene/line order with their
// indices populated.
func (s *Script) Lines() []Line {
	var out []Line
	for si, scene := range s.Scenes {
		for li, line := range scene.Lines {
			line.SceneIndex = si
			line.LineIndex = li
			out = append(out, line)
		}
	}
	return out
}

// SetAudioPaths writes the audio paths of the given flattened lines back into
// the scene structure, matching by scene/line index.
func (s *Script) SetAudioPaths(lines []Line) {
	for _, l := range lines {
		if l.SceneIndex < len(s.Scenes) && l.LineIndex < len(s.Scenes[l.SceneIndex].Lines) {
			s.Scenes[l.SceneIndex].Lines[l.LineIndex].AudioPath = l.AudioPath
		}
	}
}

// Narrator returns the cast member with the narrator category, if present.
func (s *Script) Narrator() (Character, bool) {
	for _, c := range s.Characters {
		if c.Category == voice.CategoryNarrator {
			return c, true
		}
	}
	return Character{}, false
}

// Character looks up a cast member by name.
func (s *Script) Character(name string) (Character, bool) {
	for _, c := range s.Characters {
		if c.Name == name {
			return c, true
		}
	}
	return Character{}, false
}

// Cast converts the characters into the assigner's input shape, preserving order.
func (s *Script) Cast() []voice.CastMember {
	out := make([]voice.CastMember, 0, len(s.Characters))
	for _, c := range s.Characters {
		out = append(out, voice.CastMember{Name: c.Name, Category: c.Category, Traits: c.Traits})
	}
	return out
}
