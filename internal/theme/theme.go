// Package theme provides lightweight lexical theme detection for prose.
//
// Detection is deliberately zero-dependency: lower-casing, regex
// tokenization, and constant-time set membership. No embeddings, no
// ML. That makes it cheap enough to run against the query and every
// retrieval candidate on every request, and deterministic: the same
// text always yields the same theme set for a given table.
package theme

// Theme is a named semantic cluster triggered by keyword occurrence.
type Theme struct {
	// Name identifies the theme (e.g. "love_romance").
	Name string

	// Keywords trigger the theme. All terms must be lowercase; a
	// theme matches a text when at least one keyword occurs in it.
	Keywords map[string]struct{}

	// Narrative marks themes built from concrete plot elements
	// (ceremonies, investigations) rather than abstract motifs.
	// Their keywords double as narrative-continuity markers.
	Narrative bool

	// Weight scales the theme's contribution when boosting. 1.0 for
	// every built-in theme; kept in the model so corpus-tuned tables
	// can down-weight noisy clusters.
	Weight float64
}

// Table is an immutable set of themes plus the narrative-element
// vocabulary. Construct once at startup and share by reference; it is
// never mutated after construction and safe for concurrent use.
type Table struct {
	themes    []Theme
	narrative map[string]struct{}
}

// Themes returns the table's themes. Callers must not modify them.
func (t *Table) Themes() []Theme { return t.themes }

func keys(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// DefaultTable builds the built-in theme table. Keyword sets are kept
// small on purpose; expand them from corpus statistics when needed.
func DefaultTable() *Table {
	return &Table{
		themes: []Theme{
			{Name: "love_romance", Weight: 1, Keywords: keys(
				"love", "passion", "desire", "courtship", "heart",
				"affection", "soulmate", "devotion")},
			{Name: "conflict_war", Weight: 1, Keywords: keys(
				"battle", "siege", "rebellion", "enemy", "clash",
				"troops", "victory", "defeat")},
			{Name: "betrayal_deceit", Weight: 1, Keywords: keys(
				"treachery", "conspiracy", "secret", "double-cross",
				"lie", "spy", "backstab")},
			{Name: "coming_of_age", Weight: 1, Keywords: keys(
				"adolescence", "growth", "rite", "mentor", "trial",
				"discovery", "maturity")},
			{Name: "quest_journey", Weight: 1, Keywords: keys(
				"voyage", "pilgrimage", "odyssey", "road", "expedition",
				"map", "destination", "guide")},
			{Name: "survival_endurance", Weight: 1, Keywords: keys(
				"struggle", "starvation", "shelter", "wilderness",
				"escape", "resilience", "peril")},
			{Name: "identity_self_discovery", Weight: 1, Keywords: keys(
				"mask", "reflection", "heritage", "transformation",
				"purpose", "inner", "voice")},
			{Name: "power_ambition", Weight: 1, Keywords: keys(
				"throne", "crown", "dominance", "conquest",
				"empire", "influence", "authority")},
			{Name: "justice_revenge", Weight: 1, Keywords: keys(
				"judgment", "trial", "retribution", "vengeance",
				"reckoning", "debt", "atonement")},
			{Name: "loss_grief", Weight: 1, Keywords: keys(
				"mourning", "funeral", "tomb", "absence", "widow",
				"sorrow", "memory")},
			{Name: "redemption_forgiveness", Weight: 1, Keywords: keys(
				"penance", "absolution", "salvation", "repent",
				"mercy", "clean", "slate")},
			{Name: "good_vs_evil", Weight: 1, Keywords: keys(
				"virtue", "corruption", "temptation", "sin",
				"righteousness", "sacrifice")},
			{Name: "chaos_apocalypse", Weight: 1, Keywords: keys(
				"plague", "cataclysm", "ruin", "collapse",
				"extinction", "doom", "aftermath")},
			{Name: "hope_renewal", Weight: 1, Keywords: keys(
				"dawn", "rebirth", "seed", "phoenix",
				"resurgence", "healing", "promise")},

			// Plot-point themes: concrete story events rather than
			// abstract motifs.
			{Name: "social_ceremony", Weight: 1, Narrative: true, Keywords: keys(
				"wedding", "ceremony", "witness", "church", "marriage",
				"bride", "groom", "celebration", "vow", "officiate")},
			{Name: "investigation", Weight: 1, Narrative: true, Keywords: keys(
				"detective", "clue", "mystery", "evidence", "witness",
				"crime", "suspect", "investigate", "puzzle", "case")},
		},
		narrative: keys(
			"witness", "wedding", "church", "bride", "ceremony", "chapel",
			"investigation", "detective", "evidence", "crime"),
	}
}
