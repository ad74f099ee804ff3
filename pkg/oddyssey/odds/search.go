package odds

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName folds a team or league name for matching: lowercase, accents
// stripped, club suffixes dropped and whitespace collapsed.
func NormalizeName(name string) string {
	name = strings.ToLower(name)

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	name, _, _ = transform.String(t, name)

	fields := strings.Fields(name)
	out := fields[:0]
	for _, f := range fields {
		if f == "fc" || f == "afc" || f == "cf" {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

// Search returns the matches whose home team, away team or league contains
// query after normalization. An empty query returns every match.
func (s Snapshot) Search(query string) []Match {
	q := NormalizeName(query)
	if q == "" {
		return s.Matches
	}
	var out []Match
	for _, m := range s.Matches {
		if strings.Contains(NormalizeName(m.HomeTeam), q) ||
			strings.Contains(NormalizeName(m.AwayTeam), q) ||
			strings.Contains(NormalizeName(m.League), q) {
			out = append(out, m)
		}
	}
	return out
}
