package voice

import (
	"reflect"
	"testing"
)

func member(name string, cat Category, traits ...string) CastMember {
	return CastMember{Name: name, Category: cat, Traits: traits}
}

func TestAssignNarrator(t *testing.T) {
	t.Parallel()

	c := Default()
	a := NewAssigner(c)

	t.Run("narrator always gets the fixed narrator voice", func(t *testing.T) {
		t.Parallel()
		got := a.Assign([]CastMember{
			member("Erzähler", CategoryNarrator, "mutig", "frech"),
			member("Finn", CategoryChildMale),
		})
		if got["Erzähler"] != c.Narrator().ID {
			t.Fatalf("narrator voice: want %s, got %s", c.Narrator().ID, got["Erzähler"])
		}
	})

	t.Run("narrator traits are ignored", func(t *testing.T) {
		t.Parallel()
		withTraits := a.Assign([]CastMember{member("Erzähler", CategoryNarrator, "weise", "gütig")})
		withoutTraits := a.Assign([]CastMember{member("Erzähler", CategoryNarrator)})
		if withTraits["Erzähler"] != withoutTraits["Erzähler"] {
			t.Fatalf("narrator voice changed with traits: %s vs %s", withTraits["Erzähler"], withoutTraits["Erzähler"])
		}
	})
}

func TestAssignTraitMatch(t *testing.T) {
	t.Parallel()

	c := Default()
	a := NewAssigner(c)

	t.Run("exact trait hit wins over pool order", func(t *testing.T) {
		t.Parallel()
		got := a.Assign([]CastMember{member("Mia", CategoryChildFemale, "verträumt")})
		want, _ := find(c, "Mila")
		if got["Mia"] != want {
			t.Fatalf("want dreamy voice %s, got %s", want, got["Mia"])
		}
	})

	t.Run("substring-tolerant comparison matches partial traits", func(t *testing.T) {
		t.Parallel()
		// "mutig,neugierig,aufgeweckt" as one sloppy tag still hits the
		// curious-girl rule via containment.
		got := a.Assign([]CastMember{member("Pia", CategoryChildFemale, "mutig,neugierig,aufgeweckt")})
		want, _ := find(c, "Lotta")
		if got["Pia"] != want {
			t.Fatalf("want curious voice %s, got %s", want, got["Pia"])
		}
	})

	t.Run("used voice is skipped by later trait lookups", func(t *testing.T) {
		t.Parallel()
		got := a.Assign([]CastMember{
			member("Lena", CategoryChildFemale, "neugierig"),
			member("Pia", CategoryChildFemale, "neugierig"),
		})
		if got["Lena"] == got["Pia"] {
			t.Fatalf("both curious girls got voice %s", got["Lena"])
		}
	})

	t.Run("score tie keeps the earlier rule", func(t *testing.T) {
		t.Parallel()
		// "mutig" appears in both the brave-boy rule and nowhere else for
		// child-male; a trait hitting two rules equally must keep rule order.
		got := a.Assign([]CastMember{member("Tom", CategoryChildMale, "ruhig", "wild")})
		want, _ := find(c, "Finn")
		if got["Tom"] != want {
			t.Fatalf("tie should keep first rule (Finn %s), got %s", want, got["Tom"])
		}
	})
}

func TestAssignRoundRobin(t *testing.T) {
	t.Parallel()

	c := Default()
	a := NewAssigner(c)

	t.Run("no duplicates while the pool lasts", func(t *testing.T) {
		t.Parallel()
		got := a.Assign([]CastMember{
			member("A", CategoryAdultMale),
			member("B", CategoryAdultMale),
			member("C", CategoryAdultMale),
		})
		seen := map[string]bool{}
		for name, id := range got {
			if seen[id] {
				t.Fatalf("voice %s assigned twice (last to %s)", id, name)
			}
			seen[id] = true
		}
	})

	t.Run("exhausted pool repeats instead of failing", func(t *testing.T) {
		t.Parallel()
		cast := []CastMember{
			member("A", CategoryChildMale),
			member("B", CategoryChildMale),
			member("C", CategoryChildMale), // pool size 2, C must repeat
		}
		got := a.Assign(cast)
		for _, m := range cast {
			if got[m.Name] == "" {
				t.Fatalf("no voice for %s under scarcity", m.Name)
			}
		}
	})

	t.Run("empty elder-male pool falls back to adult-male", func(t *testing.T) {
		t.Parallel()
		got := a.Assign([]CastMember{member("Opa", CategoryElderMale)})
		v, ok := c.Voice(got["Opa"])
		if !ok {
			t.Fatalf("unknown voice id %s", got["Opa"])
		}
		if v.Category != CategoryAdultMale {
			t.Fatalf("want adult-male fallback, got category %s", v.Category)
		}
	})
}

func TestAssignDeterminism(t *testing.T) {
	t.Parallel()

	a := NewAssigner(Default())
	cast := []CastMember{
		member("Erzähler", CategoryNarrator),
		member("Fuchs", CategoryCreature, "klein", "lustig"),
		member("Bär", CategoryCreature),
		member("Lina", CategoryChildFemale, "neugierig"),
		member("Opa Heinrich", CategoryElderMale),
	}

	first := a.Assign(cast)
	for range 10 {
		if got := a.Assign(cast); !reflect.DeepEqual(first, got) {
			t.Fatalf("assignment not deterministic:\nfirst: %v\n  got: %v", first, got)
		}
	}
	if len(first) != len(cast) {
		t.Fatalf("want %d assignments, got %d", len(cast), len(first))
	}
}

// find resolves a default-catalog voice id by display name.
func find(c *Catalog, displayName string) (string, bool) {
	for _, v := range c.All() {
		if v.DisplayName == displayName {
			return v.ID, true
		}
	}
	return "", false
}
