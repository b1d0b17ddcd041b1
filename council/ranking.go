package council

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// finalRankingMarker is the literal sentinel every ranking prompt instructs
// council models to emit before their ordered list. The parser below is
// deliberately three fixed regex passes, not a general grammar — do not
// relax it.
const finalRankingMarker = "FINAL RANKING:"

var (
	numberedResponseRe = regexp.MustCompile(`\d+\.\s*Response [A-Z]`)
	responseLabelRe    = regexp.MustCompile(`Response [A-Z]`)
)

// AssignLabels assigns "Response A", "Response B", … to modelIDs in the
// order given, and returns the bijective label -> model id map alongside
// the parallel label slice.
func AssignLabels(modelIDs []string) (labels []string, labelToModel map[string]string) {
	labels = make([]string, len(modelIDs))
	labelToModel = make(map[string]string, len(modelIDs))
	for i, id := range modelIDs {
		label := fmt.Sprintf("Response %c", rune('A'+i))
		labels[i] = label
		labelToModel[label] = id
	}
	return labels, labelToModel
}

// ParseRanking extracts an ordered list of "Response X" labels from a
// ranker's raw text, per the three-pass fallback contract:
//  1. find the literal marker, then extract "<n>. Response <X>" matches
//     after it, in order;
//  2. if none, extract bare "Response <X>" occurrences after the marker;
//  3. if the marker is absent altogether, extract "Response <X>"
//     occurrences anywhere in the text.
// A short or duplicate-containing result is valid and returned as-is.
func ParseRanking(text string) []string {
	idx := strings.Index(text, finalRankingMarker)
	if idx < 0 {
		return extractLabels(responseLabelRe, text)
	}

	section := text[idx+len(finalRankingMarker):]

	numbered := numberedResponseRe.FindAllString(section, -1)
	if len(numbered) > 0 {
		labels := make([]string, 0, len(numbered))
		for _, m := range numbered {
			if lbl := responseLabelRe.FindString(m); lbl != "" {
				labels = append(labels, lbl)
			}
		}
		return labels
	}

	return extractLabels(responseLabelRe, section)
}

func extractLabels(re *regexp.Regexp, text string) []string {
	matches := re.FindAllString(text, -1)
	if matches == nil {
		return []string{}
	}
	return matches
}

// AggregateEntry is one model's position in the Aggregate Ranking.
type AggregateEntry struct {
	Model         string
	MeanPosition  float64
	RankingsCount int
}

// AggregateRankings computes, for each model referenced by label in
// parsedRankings, its mean position and vote count across all rankers,
// sorted ascending by mean position with ties broken by higher vote count
// then lexicographically smaller model id. Models with zero positions are
// excluded.
func AggregateRankings(parsedRankings [][]string, labelToModel map[string]string) []AggregateEntry {
	positions := make(map[string][]float64)

	for _, parsed := range parsedRankings {
		for i, label := range parsed {
			model, ok := labelToModel[label]
			if !ok {
				continue
			}
			positions[model] = append(positions[model], float64(i+1))
		}
	}

	entries := make([]AggregateEntry, 0, len(positions))
	for model, pos := range positions {
		if len(pos) == 0 {
			continue
		}
		entries = append(entries, AggregateEntry{
			Model:         model,
			MeanPosition:  stat.Mean(pos, nil),
			RankingsCount: len(pos),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.MeanPosition != b.MeanPosition {
			return a.MeanPosition < b.MeanPosition
		}
		if a.RankingsCount != b.RankingsCount {
			return a.RankingsCount > b.RankingsCount
		}
		return a.Model < b.Model
	})

	return entries
}
