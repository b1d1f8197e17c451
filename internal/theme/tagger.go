package theme

import (
	"regexp"
	"sort"
	"strings"
)

// tokenRE matches letters and apostrophes, the same vocabulary the
// keyword sets are written in.
var tokenRE = regexp.MustCompile(`[A-Za-z']+`)

// Tokenize lower-cases text and splits it into alpha tokens.
func Tokenize(text string) []string {
	return tokenRE.FindAllString(strings.ToLower(text), -1)
}

// Tagger detects themes and narrative elements against one table.
type Tagger struct {
	table *Table
}

// NewTagger returns a Tagger bound to the given table.
func NewTagger(table *Table) *Tagger {
	return &Tagger{table: table}
}

// TagThemes returns, for every theme that appears at least once in
// text, the sorted trigger keywords that matched.
//
//	TagThemes("Love and battle in the shadow of the throne.")
//	  => {"love_romance": ["love"], "conflict_war": ["battle"],
//	      "power_ambition": ["throne"]}
func (t *Tagger) TagThemes(text string) map[string][]string {
	tokens := make(map[string]struct{})
	for _, tok := range Tokenize(text) {
		tokens[tok] = struct{}{}
	}

	hits := make(map[string][]string)
	for _, th := range t.table.themes {
		var matched []string
		for kw := range th.Keywords {
			if _, ok := tokens[kw]; ok {
				matched = append(matched, kw)
			}
		}
		if len(matched) > 0 {
			sort.Strings(matched)
			hits[th.Name] = matched
		}
	}
	return hits
}

// NarrativeElements returns the narrative-continuity markers present
// in text, in table order of occurrence check (sorted for stability).
func (t *Tagger) NarrativeElements(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for elem := range t.table.narrative {
		if strings.Contains(lower, elem) {
			found = append(found, elem)
		}
	}
	sort.Strings(found)
	return found
}

// QueryAnalysis is the per-query theme context, computed once and
// reused against every candidate.
type QueryAnalysis struct {
	Themes   map[string][]string
	Elements []string
}

// AnalyzeQuery tags a query's themes and narrative elements in one
// pass.
func (t *Tagger) AnalyzeQuery(query string) QueryAnalysis {
	return QueryAnalysis{
		Themes:   t.TagThemes(query),
		Elements: t.NarrativeElements(query),
	}
}

// Weight returns the configured weight for a theme name, defaulting
// to 1 for unknown names.
func (t *Tagger) Weight(name string) float64 {
	for _, th := range t.table.themes {
		if th.Name == name {
			return th.Weight
		}
	}
	return 1
}
