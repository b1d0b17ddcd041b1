package council

import "testing"

func TestResolveModelAliasKnown(t *testing.T) {
	cases := map[string]string{
		"opus":   "anthropic/claude-opus-4.5",
		"OPUS":   "anthropic/claude-opus-4.5",
		" grok ": "x-ai/grok-4.1-fast",
		"glm":    "zai-glm-4.7",
	}
	for alias, want := range cases {
		if got := ResolveModelAlias(alias); got != want {
			t.Errorf("ResolveModelAlias(%q) = %q, want %q", alias, got, want)
		}
	}
}

func TestResolveModelAliasPassesThroughUnknown(t *testing.T) {
	id := "some-vendor/some-model"
	if got := ResolveModelAlias(id); got != id {
		t.Errorf("ResolveModelAlias(%q) = %q, want unchanged", id, got)
	}
}

func TestModelAliasesReturnsACopy(t *testing.T) {
	aliases := ModelAliases()
	aliases["opus"] = "tampered"

	if ResolveModelAlias("opus") == "tampered" {
		t.Fatal("expected ModelAliases() to return a copy, not the live table")
	}
}
