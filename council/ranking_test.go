package council

import (
	"reflect"
	"testing"
)

func TestAssignLabels(t *testing.T) {
	models := []string{"m1", "m2", "m3"}
	labels, labelToModel := AssignLabels(models)

	want := []string{"Response A", "Response B", "Response C"}
	if !reflect.DeepEqual(labels, want) {
		t.Fatalf("labels = %v, want %v", labels, want)
	}

	if len(labelToModel) != len(models) {
		t.Fatalf("labelToModel has %d entries, want %d", len(labelToModel), len(models))
	}
	for i, label := range labels {
		if labelToModel[label] != models[i] {
			t.Errorf("labelToModel[%q] = %q, want %q", label, labelToModel[label], models[i])
		}
	}
}

func TestAssignLabelsEmpty(t *testing.T) {
	labels, labelToModel := AssignLabels(nil)
	if len(labels) != 0 || len(labelToModel) != 0 {
		t.Fatalf("expected empty outputs, got labels=%v labelToModel=%v", labels, labelToModel)
	}
}

func TestParseRankingWithMarker(t *testing.T) {
	text := `Response A is thorough. Response B is concise.

FINAL RANKING:
1. Response B
2. Response A`

	got := ParseRanking(text)
	want := []string{"Response B", "Response A"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseRanking = %v, want %v", got, want)
	}
}

func TestParseRankingMarkerNoNumberedList(t *testing.T) {
	text := `Some evaluation text.

FINAL RANKING:
Response C, then Response A, then Response B`

	got := ParseRanking(text)
	want := []string{"Response C", "Response A", "Response B"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseRanking = %v, want %v", got, want)
	}
}

func TestParseRankingNoMarker(t *testing.T) {
	text := "I think Response A beats Response B overall."
	got := ParseRanking(text)
	want := []string{"Response A", "Response B"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseRanking = %v, want %v", got, want)
	}
}

func TestParseRankingNothingFound(t *testing.T) {
	got := ParseRanking("no labels at all here")
	if len(got) != 0 {
		t.Fatalf("expected empty slice, got %v", got)
	}
}

func TestAggregateRankingsMeanAndTieBreak(t *testing.T) {
	labelToModel := map[string]string{
		"Response A": "model-a",
		"Response B": "model-b",
		"Response C": "model-c",
	}

	// model-a: positions 1,1 -> mean 1.0, count 2
	// model-b: positions 2,3 -> mean 2.5, count 2
	// model-c: positions 3,2 -> mean 2.5, count 2 (tie with b, broken by model id)
	parsed := [][]string{
		{"Response A", "Response B", "Response C"},
		{"Response A", "Response C", "Response B"},
	}

	entries := AggregateRankings(parsed, labelToModel)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	if entries[0].Model != "model-a" || entries[0].MeanPosition != 1.0 {
		t.Errorf("entries[0] = %+v, want model-a at mean 1.0", entries[0])
	}
	if entries[1].Model != "model-b" {
		t.Errorf("entries[1].Model = %q, want model-b (tie broken lexicographically)", entries[1].Model)
	}
	if entries[2].Model != "model-c" {
		t.Errorf("entries[2].Model = %q, want model-c", entries[2].Model)
	}
}

func TestAggregateRankingsUnknownLabelIgnored(t *testing.T) {
	labelToModel := map[string]string{"Response A": "model-a"}
	parsed := [][]string{{"Response A", "Response Z"}}

	entries := AggregateRankings(parsed, labelToModel)
	if len(entries) != 1 || entries[0].Model != "model-a" {
		t.Fatalf("expected single model-a entry, got %v", entries)
	}
}

func TestAggregateRankingsEmpty(t *testing.T) {
	entries := AggregateRankings(nil, map[string]string{})
	if len(entries) != 0 {
		t.Fatalf("expected empty result, got %v", entries)
	}
}
