package script

import (
	"strings"

	"github.com/tbleier/fabelwerk/internal/voice"
)

// onomatopoeia is the closed list of sound-effect tokens stripped from
// character dialogue. Narrator lines are exempt: the narrator may describe
// sounds, characters must not "speak" them. Synthesized laughter and effect
// words sound wrong and break the prosody of the surrounding sentence.
var onomatopoeia = map[string]bool{
	"haha": true, "hahaha": true, "hihi": true, "hihihi": true,
	"hehe": true, "hohoho": true,
	"seufz": true, "schluchz": true, "schnief": true,
	"ächz": true, "stöhn": true, "uff": true, "puh": true,
	"grr": true, "brumm": true, "knurr": true,
	"miau": true, "wuff": true, "muh": true, "piep": true,
	"boing": true, "peng": true, "knall": true, "klirr": true,
	"zisch": true, "wusch": true, "plumps": true, "rums": true,
	"tatütata": true,
}

// punctCutset covers the punctuation stripped around candidate tokens.
const punctCutset = ".,!?;:…\"'«»„“”-—()"

// CleanOnomatopoeia rewrites every non-narrator line, removing onomatopoeia
// tokens together with their trailing punctuation and whitespace. Lines whose
// text becomes empty are dropped entirely, there is nothing left to voice.
// The pass is deterministic and idempotent.
func CleanOnomatopoeia(s *Script) {
	narratorName := ""
	if n, ok := s.Narrator(); ok {
		narratorName = n.Name
	}

	for si := range s.Scenes {
		kept := s.Scenes[si].Lines[:0]
		for _, line := range s.Scenes[si].Lines {
			if line.Speaker != narratorName {
				line.Text = StripOnomatopoeia(line.Text)
				if line.Text == "" {
					continue
				}
			}
			kept = append(kept, line)
		}
		s.Scenes[si].Lines = kept
	}
}

// StripOnomatopoeia removes every standalone onomatopoeia token from text,
// including punctuation attached to the token ("Haha, das war lustig!" →
// "das war lustig!"). Surrounding words keep their own punctuation; word
// spacing is normalized to single spaces.
func StripOnomatopoeia(text string) string {
	fields := strings.Fields(text)
	kept := fields[:0]
	for _, f := range fields {
		bare := strings.ToLower(strings.Trim(f, punctCutset))
		if onomatopoeia[bare] {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

// InjectNarrator appends a narrator character to the cast when the script
// omitted one. Scripts are expected to carry a narrator; the LLM occasionally
// drops it for single-character prompts.
func InjectNarrator(s *Script) {
	if _, ok := s.Narrator(); ok {
		return
	}
	s.Characters = append(s.Characters, Character{
		Name:     DefaultNarratorName,
		Category: voice.CategoryNarrator,
	})
}
