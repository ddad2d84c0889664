package voice

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	c := Default()

	if c.Narrator().ID == "" {
		t.Fatal("default catalog has no narrator voice")
	}
	if got := len(c.Pool(CategoryElderMale)); got != 0 {
		t.Fatalf("elder-male pool should be empty in the reference catalog, got %d", got)
	}
	if fb, ok := c.Fallback(CategoryElderMale); !ok || fb != CategoryAdultMale {
		t.Fatalf("want elder-male fallback adult-male, got %q (ok=%v)", fb, ok)
	}

	// Every rule voice must belong to the rule's category.
	for _, cat := range Categories() {
		for _, r := range c.Rules(cat) {
			v, ok := c.Voice(r.VoiceID)
			if !ok {
				t.Fatalf("rule for %s references unknown voice %s", cat, r.VoiceID)
			}
			if v.Category != cat {
				t.Fatalf("rule voice %s is %s, expected %s", v.DisplayName, v.Category, cat)
			}
		}
	}
}

func TestNewCatalogValidation(t *testing.T) {
	t.Parallel()

	narrator := VoiceIdentity{ID: "n1", DisplayName: "N", Category: CategoryNarrator}

	t.Run("missing narrator", func(t *testing.T) {
		t.Parallel()
		_, err := NewCatalog([]VoiceIdentity{{ID: "v1", Category: CategoryCreature}}, nil)
		if err == nil {
			t.Fatal("want error for catalog without narrator")
		}
	})

	t.Run("duplicate id", func(t *testing.T) {
		t.Parallel()
		_, err := NewCatalog([]VoiceIdentity{
			narrator,
			{ID: "v1", Category: CategoryCreature},
			{ID: "v1", Category: CategoryChildMale},
		}, nil)
		if err == nil {
			t.Fatal("want error for duplicate voice id")
		}
	})

	t.Run("rule referencing unknown voice", func(t *testing.T) {
		t.Parallel()
		_, err := NewCatalog(
			[]VoiceIdentity{narrator, {ID: "v1", Category: CategoryCreature}},
			map[Category][]TraitRule{CategoryCreature: {{Traits: []string{"klein"}, VoiceID: "nope"}}},
		)
		if err == nil {
			t.Fatal("want error for rule with unknown voice id")
		}
	})
}

func TestLoadCatalogYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voices.yaml")
	data := `
voices:
  - id: n1
    display_name: Erzählerin
    description: calm narrator
    category: narrator
  - id: c1
    display_name: Pieps
    description: squeaky critter
    category: creature
rules:
  creature:
    - traits: [klein, quirlig]
      voice_id: c1
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Narrator().DisplayName != "Erzählerin" {
		t.Fatalf("want narrator Erzählerin, got %s", c.Narrator().DisplayName)
	}
	if got := len(c.Pool(CategoryCreature)); got != 1 {
		t.Fatalf("want 1 creature voice, got %d", got)
	}
}
