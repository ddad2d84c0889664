// Package voice holds the static voice catalog and the deterministic
// character-to-voice assignment logic.
//
// The catalog groups pre-recorded voice identities by demographic category and
// carries per-category trait rules used for fine-grained matching. It is built
// once at process start, either from the compiled-in default or from a YAML
// file, and never mutated afterwards.
package voice

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Category is the closed demographic classification driving voice-pool selection.
type Category string

const (
	CategoryChildMale   Category = "child-male"
	CategoryChildFemale Category = "child-female"
	CategoryAdultMale   Category = "adult-male"
	CategoryAdultFemale Category = "adult-female"
	CategoryElderMale   Category = "elder-male"
	CategoryElderFemale Category = "elder-female"
	CategoryCreature    Category = "creature"
	CategoryNarrator    Category = "narrator"
)

// IsValid reports whether c is a recognised category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryChildMale, CategoryChildFemale, CategoryAdultMale, CategoryAdultFemale,
		CategoryElderMale, CategoryElderFemale, CategoryCreature, CategoryNarrator:
		return true
	}
	return false
}

// Categories lists all valid categories in a stable order.
func Categories() []Category {
	return []Category{
		CategoryChildMale, CategoryChildFemale,
		CategoryAdultMale, CategoryAdultFemale,
		CategoryElderMale, CategoryElderFemale,
		CategoryCreature, CategoryNarrator,
	}
}

// VoiceIdentity is one entry of the voice catalog. Immutable after load.
type VoiceIdentity struct {
	// ID is the provider-specific voice identifier (opaque).
	ID string `yaml:"id"`

	// DisplayName is the human-readable voice name shown in pickers.
	DisplayName string `yaml:"display_name"`

	// Description is a short human description of the voice's character.
	Description string `yaml:"description"`

	// Category is the demographic pool this voice belongs to.
	Category Category `yaml:"category"`
}

// TraitRule maps a set of personality traits to a preferred voice within a
// category. Rules are evaluated in insertion order; the first highest-scoring
// unused voice wins.
type TraitRule struct {
	Traits  []string `yaml:"traits"`
	VoiceID string   `yaml:"voice_id"`
}

// Catalog is the immutable voice directory. Safe for concurrent use.
type Catalog struct {
	pools     map[Category][]VoiceIdentity
	rules     map[Category][]TraitRule
	fallbacks map[Category]Category
	narrator  VoiceIdentity
	byID      map[string]VoiceIdentity
}

// catalogFile is the YAML schema for an external catalog file.
type catalogFile struct {
	Voices []VoiceIdentity          `yaml:"voices"`
	Rules  map[Category][]TraitRule `yaml:"rules"`
}

// NewCatalog builds a validated catalog from a flat voice list and per-category
// trait rules. Exactly one narrator voice must be present; all rule voice ids
// must refer to catalog entries.
func NewCatalog(voices []VoiceIdentity, rules map[Category][]TraitRule) (*Catalog, error) {
	c := &Catalog{
		pools: make(map[Category][]VoiceIdentity),
		rules: rules,
		fallbacks: map[Category]Category{
			CategoryElderMale:   CategoryAdultMale,
			CategoryElderFemale: CategoryAdultFemale,
		},
		byID: make(map[string]VoiceIdentity, len(voices)),
	}
	if c.rules == nil {
		c.rules = map[Category][]TraitRule{}
	}

	var narrators int
	for i, v := range voices {
		if v.ID == "" {
			return nil, fmt.Errorf("voice: catalog entry %d has no id", i)
		}
		if !v.Category.IsValid() {
			return nil, fmt.Errorf("voice: catalog entry %q has invalid category %q", v.ID, v.Category)
		}
		if _, dup := c.byID[v.ID]; dup {
			return nil, fmt.Errorf("voice: duplicate voice id %q", v.ID)
		}
		c.byID[v.ID] = v
		if v.Category == CategoryNarrator {
			narrators++
			c.narrator = v
			continue
		}
		c.pools[v.Category] = append(c.pools[v.Category], v)
	}
	if narrators != 1 {
		return nil, fmt.Errorf("voice: catalog must contain exactly one narrator voice, got %d", narrators)
	}

	for cat, catRules := range c.rules {
		if !cat.IsValid() {
			return nil, fmt.Errorf("voice: rules reference invalid category %q", cat)
		}
		for i, r := range catRules {
			if _, ok := c.byID[r.VoiceID]; !ok {
				return nil, fmt.Errorf("voice: rule %d for category %q references unknown voice %q", i, cat, r.VoiceID)
			}
		}
	}
	return c, nil
}

// Load reads a catalog from the YAML file at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("voice: read catalog %q: %w", path, err)
	}
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("voice: decode catalog %q: %w", path, err)
	}
	return NewCatalog(cf.Voices, cf.Rules)
}

// Narrator returns the single fixed narrator voice.
func (c *Catalog) Narrator() VoiceIdentity { return c.narrator }

// Pool returns the voices of cat in catalog order. The returned slice must not
// be modified. The narrator is never part of a pool.
func (c *Catalog) Pool(cat Category) []VoiceIdentity { return c.pools[cat] }

// Rules returns the trait rules of cat in insertion order.
func (c *Catalog) Rules(cat Category) []TraitRule { return c.rules[cat] }

// Fallback returns the substitute category used when cat's pool is empty
// (elder categories fall back to the corresponding adult category).
func (c *Catalog) Fallback(cat Category) (Category, bool) {
	fb, ok := c.fallbacks[cat]
	return fb, ok
}

// Voice looks up a voice identity by id.
func (c *Catalog) Voice(id string) (VoiceIdentity, bool) {
	v, ok := c.byID[id]
	return v, ok
}

// All returns every catalog voice grouped by category in stable order,
// narrator last.
func (c *Catalog) All() []VoiceIdentity {
	var out []VoiceIdentity
	for _, cat := range Categories() {
		if cat == CategoryNarrator {
			continue
		}
		out = append(out, c.pools[cat]...)
	}
	return append(out, c.narrator)
}

// Default returns the compiled-in reference catalog.
//
// Note: elder-male deliberately has no voices of its own; assignment falls
// back to the adult-male pool.
func Default() *Catalog {
	voices := []VoiceIdentity{
		{ID: "pNLavGHqKrkcsSegjPqB", DisplayName: "Johanna", Description: "calm, warm storyteller voice", Category: CategoryNarrator},

		{ID: "Tw2LqBdYhqkCrkEfxvQA", DisplayName: "Finn", Description: "bright, cheeky boy", Category: CategoryChildMale},
		{ID: "qJxvRrnYmtcWbpgzqaXL", DisplayName: "Jonte", Description: "soft, shy boy", Category: CategoryChildMale},

		{ID: "XfWtqaMHCSrAbXzvmNGd", DisplayName: "Lotta", Description: "lively, curious girl", Category: CategoryChildFemale},
		{ID: "kTZvBnWqLhrcPsdYjuEM", DisplayName: "Mila", Description: "gentle, dreamy girl", Category: CategoryChildFemale},

		{ID: "VhGxnWrYdPstLczkBqAF", DisplayName: "Bruno", Description: "deep, hearty man", Category: CategoryAdultMale},
		{ID: "ZmQcRtvWyBhsnKdLpxgE", DisplayName: "Paul", Description: "friendly, easy-going man", Category: CategoryAdultMale},
		{ID: "cNdXsWvMqGtrBzkyLhpJ", DisplayName: "Viktor", Description: "crisp, theatrical man", Category: CategoryAdultMale},

		{ID: "HsKwmZrtXcvLnBqdYgpa", DisplayName: "Greta", Description: "warm, motherly woman", Category: CategoryAdultFemale},
		{ID: "RbLtnXwqZsvcKmdGhyfE", DisplayName: "Ida", Description: "clear, energetic woman", Category: CategoryAdultFemale},
		{ID: "mWpYvKdrStcxLnzBqhgA", DisplayName: "Nora", Description: "soft, soothing woman", Category: CategoryAdultFemale},

		{ID: "GtRzvLwnXsqcYmdKbhpe", DisplayName: "Hilde", Description: "slow, kindly grandmother", Category: CategoryElderFemale},

		{ID: "xQnWvZrtLsckBmdYghpF", DisplayName: "Knuffel", Description: "squeaky, bouncy critter", Category: CategoryCreature},
		{ID: "dKmXsWvZqLtrcnByghpE", DisplayName: "Grommel", Description: "gravelly, rumbling beast", Category: CategoryCreature},
	}

	rules := map[Category][]TraitRule{
		CategoryChildMale: {
			{Traits: []string{"mutig", "frech", "wild"}, VoiceID: "Tw2LqBdYhqkCrkEfxvQA"},
			{Traits: []string{"schüchtern", "ruhig", "verträumt"}, VoiceID: "qJxvRrnYmtcWbpgzqaXL"},
		},
		CategoryChildFemale: {
			{Traits: []string{"neugierig", "aufgeweckt", "mutig"}, VoiceID: "XfWtqaMHCSrAbXzvmNGd"},
			{Traits: []string{"verträumt", "sanft", "ruhig"}, VoiceID: "kTZvBnWqLhrcPsdYjuEM"},
		},
		CategoryAdultMale: {
			{Traits: []string{"stark", "mutig"}, VoiceID: "VhGxnWrYdPstLczkBqAF"},
			{Traits: []string{"freundlich", "hilfsbereit"}, VoiceID: "ZmQcRtvWyBhsnKdLpxgE"},
			{Traits: []string{"stolz", "geheimnisvoll"}, VoiceID: "cNdXsWvMqGtrBzkyLhpJ"},
		},
		CategoryAdultFemale: {
			{Traits: []string{"fürsorglich", "warmherzig"}, VoiceID: "HsKwmZrtXcvLnBqdYgpa"},
			{Traits: []string{"energisch", "clever"}, VoiceID: "RbLtnXwqZsvcKmdGhyfE"},
			{Traits: []string{"sanft", "geduldig"}, VoiceID: "mWpYvKdrStcxLnzBqhgA"},
		},
		CategoryElderFemale: {
			{Traits: []string{"weise", "gütig"}, VoiceID: "GtRzvLwnXsqcYmdKbhpe"},
		},
		CategoryCreature: {
			{Traits: []string{"klein", "quirlig", "lustig"}, VoiceID: "xQnWvZrtLsckBmdYghpF"},
			{Traits: []string{"groß", "brummig"}, VoiceID: "dKmXsWvZqLtrcnByghpE"},
		},
	}

	c, err := NewCatalog(voices, rules)
	if err != nil {
		// The compiled-in catalog is validated by tests; reaching this is a bug.
		panic(err)
	}
	return c
}
