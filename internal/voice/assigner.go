package voice

import "strings"

// CastMember is the assigner's view of one character in a story's cast.
type CastMember struct {
	// Name is the character's name, unique within the cast.
	Name string

	// Category is the demographic pool the character draws voices from.
	Category Category

	// Traits are 0–3 short personality tags used for fine-grained matching.
	Traits []string
}

// Assignment maps character names to voice ids.
type Assignment map[string]string

// Assigner produces a stable character→voice mapping for one story's cast.
//
// Every Assign call starts from a fresh used-voice set and fresh per-category
// round-robin cursors, so assignment depends only on the cast and the catalog,
// never on earlier stories.
type Assigner struct {
	catalog *Catalog
}

// NewAssigner creates an Assigner over the given catalog.
func NewAssigner(c *Catalog) *Assigner {
	return &Assigner{catalog: c}
}

// Assign walks the cast in order and maps each character to a voice:
//
//  1. The narrator always receives the fixed narrator voice.
//  2. Otherwise the character's category trait rules are scored against the
//     character's traits; the highest-scoring rule whose voice is still unused
//     wins, ties broken by rule order.
//  3. Without a trait match, a voice is taken round-robin from the category's
//     pool, skipping voices already used in this pass. A fully used pool
//     yields a repeat rather than a failure.
//  4. An empty pool falls back to the related category (elder→adult).
//
// Voices handed out are marked used for the remainder of the pass regardless
// of how they were obtained. The result is deterministic for identical input.
func (a *Assigner) Assign(cast []CastMember) Assignment {
	out := make(Assignment, len(cast))
	used := make(map[string]bool)
	cursors := make(map[Category]int)

	for _, member := range cast {
		if member.Category == CategoryNarrator {
			narrator := a.catalog.Narrator()
			out[member.Name] = narrator.ID
			used[narrator.ID] = true
			continue
		}

		if id, ok := a.traitMatch(member, used); ok {
			out[member.Name] = id
			used[id] = true
			continue
		}

		id := a.roundRobin(member.Category, used, cursors)
		out[member.Name] = id
		used[id] = true
	}
	return out
}

// traitMatch scores the category's rules against the member's traits and
// returns the winning unused voice, if any scored above zero.
func (a *Assigner) traitMatch(member CastMember, used map[string]bool) (string, bool) {
	if len(member.Traits) == 0 {
		return "", false
	}

	bestScore := 0
	bestID := ""
	for _, rule := range a.catalog.Rules(member.Category) {
		if used[rule.VoiceID] {
			continue
		}
		score := overlap(member.Traits, rule.Traits)
		// Strictly greater: ties keep the earlier rule.
		if score > bestScore {
			bestScore = score
			bestID = rule.VoiceID
		}
	}
	if bestScore == 0 {
		return "", false
	}
	return bestID, true
}

// roundRobin scans the category pool forward from its cursor for the first
// unused voice. A fully used pool repeats the voice at the cursor; an empty
// pool falls back to the related category. Voice scarcity never blocks
// assignment; as a last resort the narrator voice is reused.
func (a *Assigner) roundRobin(cat Category, used map[string]bool, cursors map[Category]int) string {
	pool := a.catalog.Pool(cat)
	if len(pool) == 0 {
		if fb, ok := a.catalog.Fallback(cat); ok {
			cat = fb
			pool = a.catalog.Pool(cat)
		}
	}
	if len(pool) == 0 {
		return a.catalog.Narrator().ID
	}

	start := cursors[cat] % len(pool)
	for i := range pool {
		idx := (start + i) % len(pool)
		if !used[pool[idx].ID] {
			cursors[cat] = (idx + 1) % len(pool)
			return pool[idx].ID
		}
	}

	// Every voice in the pool is taken: accept a repeat at the cursor.
	cursors[cat] = (start + 1) % len(pool)
	return pool[start].ID
}

// overlap counts trait pairs that match under the substring-tolerant
// comparison: a trait matches a rule trait when either contains the other,
// case-insensitively. The catalog rule tables were tuned against this
// fuzziness; exact-set overlap would reroute existing casts.
func overlap(traits, ruleTraits []string) int {
	n := 0
	for _, t := range traits {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		for _, rt := range ruleTraits {
			rt = strings.ToLower(rt)
			if strings.Contains(t, rt) || strings.Contains(rt, t) {
				n++
				break
			}
		}
	}
	return n
}
