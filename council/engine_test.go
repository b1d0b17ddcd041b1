package council

import (
	"context"
	"strings"
	"testing"
)

// scriptedRouter implements Dispatcher for Engine tests, keyed by a
// model id -> canned response/failure map. It also satisfies the direct
// Router-shaped access the Engine uses for the single-model chairman and
// title calls (fanOut.router.Dispatch).
type scriptedRouter struct {
	responses map[string]string // model -> content; empty means "fails"
	calls     []string
}

func (r *scriptedRouter) Dispatch(ctx context.Context, modelID string, req *CompletionRequest) (*CompletionResponse, bool) {
	r.calls = append(r.calls, modelID)
	content, ok := r.responses[modelID]
	if !ok {
		return nil, false
	}
	return &CompletionResponse{Content: content, Model: modelID, Provider: "test"}, true
}

func newTestEngine(responses map[string]string) (*Engine, *scriptedRouter) {
	router := &scriptedRouter{responses: responses}
	fanOut := NewFanOut(router, nil)
	engine := NewEngine(fanOut, nil, []string{"model-a", "model-b"}, "chairman-model")
	return engine, router
}

func TestEngineRunHappyPath(t *testing.T) {
	router := &scriptedRouter{responses: map[string]string{
		"model-a":        "Answer from A",
		"model-b":        "Answer from B",
		"chairman-model": "Synthesized final answer",
	}}

	// Stage 2 ranking calls reuse the same model ids, so route them to a
	// well-formed ranking text based on the ranking prompt's opening line.
	router.responses["model-a"] = "Answer from A"
	fanOut := NewFanOut(rankingAwareRouter{router}, nil)
	engine := NewEngine(fanOut, nil, []string{"model-a", "model-b"}, "chairman-model")

	result := engine.Run(context.Background(), DeliberationRequest{Query: "what is 2+2"})

	if len(result.Stage1) != 2 {
		t.Fatalf("expected 2 stage1 entries, got %d", len(result.Stage1))
	}
	if len(result.Stage2) != 2 {
		t.Fatalf("expected 2 stage2 entries, got %d", len(result.Stage2))
	}
	if result.Stage3.Response != "Synthesized final answer" {
		t.Errorf("unexpected stage3 response: %q", result.Stage3.Response)
	}
	if len(result.Metadata.LabelToModel) != 2 {
		t.Errorf("expected label map with 2 entries, got %v", result.Metadata.LabelToModel)
	}
	if result.Metadata.FinalOnly {
		t.Error("expected FinalOnly=false")
	}
}

// rankingAwareRouter answers stage 1 with the plain configured text and
// stage 2 (ranking) calls with a well-formed FINAL RANKING block, telling
// the two apart by whether the prompt opens with the ranking prompt's
// text. The chairman prompt embeds the stage-2 texts, FINAL RANKING lines
// included, so matching on that marker would misroute the chairman call.
type rankingAwareRouter struct {
	inner *scriptedRouter
}

func (r rankingAwareRouter) Dispatch(ctx context.Context, modelID string, req *CompletionRequest) (*CompletionResponse, bool) {
	prompt := ""
	if len(req.Messages) > 0 {
		prompt = req.Messages[0].Content
	}
	if strings.HasPrefix(prompt, "You are evaluating different responses") {
		return &CompletionResponse{
			Content:  "FINAL RANKING:\n1. Response A\n2. Response B",
			Model:    modelID,
			Provider: "test",
		}, true
	}
	return r.inner.Dispatch(ctx, modelID, req)
}

func TestEngineRunFinalOnlySkipsStage2(t *testing.T) {
	router := &scriptedRouter{responses: map[string]string{
		"model-a":        "Answer from A",
		"model-b":        "Answer from B",
		"chairman-model": "Direct synthesis",
	}}
	fanOut := NewFanOut(router, nil)
	engine := NewEngine(fanOut, nil, []string{"model-a", "model-b"}, "chairman-model")

	result := engine.Run(context.Background(), DeliberationRequest{Query: "q", FinalOnly: true})

	if len(result.Stage2) != 0 {
		t.Errorf("expected no stage2 entries in final_only mode, got %d", len(result.Stage2))
	}
	if result.Stage3.Response != "Direct synthesis" {
		t.Errorf("unexpected stage3 response: %q", result.Stage3.Response)
	}
	if !result.Metadata.FinalOnly {
		t.Error("expected FinalOnly=true")
	}
}

func TestEngineRunAllModelsFailed(t *testing.T) {
	engine, _ := newTestEngine(map[string]string{})

	result := engine.Run(context.Background(), DeliberationRequest{Query: "q"})

	if len(result.Stage1) != 0 {
		t.Errorf("expected zero stage1 entries, got %d", len(result.Stage1))
	}
	if result.Stage3.Response != allModelsFailedText {
		t.Errorf("expected the all-models-failed placeholder, got %q", result.Stage3.Response)
	}
	if len(result.Metadata.LabelToModel) != 0 {
		t.Errorf("expected empty label map, got %v", result.Metadata.LabelToModel)
	}
}

func TestEngineRunChairmanFailureYieldsPlaceholder(t *testing.T) {
	router := &scriptedRouter{responses: map[string]string{
		"model-a": "Answer from A",
		// chairman-model deliberately absent -> Dispatch fails.
	}}
	fanOut := NewFanOut(router, nil)
	engine := NewEngine(fanOut, nil, []string{"model-a"}, "chairman-model")

	result := engine.Run(context.Background(), DeliberationRequest{Query: "q", FinalOnly: true})

	if result.Stage3.Response != "Error: Unable to generate final synthesis." {
		t.Errorf("unexpected stage3 response: %q", result.Stage3.Response)
	}
}

func TestEngineRunRequestOverridesDefaults(t *testing.T) {
	router := &scriptedRouter{responses: map[string]string{
		"override-model": "overridden answer",
		"override-chair": "overridden synthesis",
	}}
	fanOut := NewFanOut(router, nil)
	engine := NewEngine(fanOut, nil, []string{"default-model"}, "default-chair")

	result := engine.Run(context.Background(), DeliberationRequest{
		Query:         "q",
		CouncilModels: []string{"override-model"},
		Chairman:      "override-chair",
		FinalOnly:     true,
	})

	if len(result.Stage1) != 1 || result.Stage1[0].Model != "override-model" {
		t.Fatalf("expected override-model to be used, got %+v", result.Stage1)
	}
	if result.Stage3.Model != "override-chair" {
		t.Errorf("expected override-chair as chairman, got %q", result.Stage3.Model)
	}
}

func TestEngineGenerateTitleFallsBackOnFailure(t *testing.T) {
	engine, _ := newTestEngine(map[string]string{})
	title := engine.GenerateTitle(context.Background(), "anything")
	if title != "New Conversation" {
		t.Errorf("expected fallback title, got %q", title)
	}
}

func TestEngineGenerateTitleTruncatesAndStripsQuotes(t *testing.T) {
	long := strings.Repeat("word ", 20)
	router := &scriptedRouter{responses: map[string]string{
		TitleModel: `"` + long + `"`,
	}}
	fanOut := NewFanOut(router, nil)
	engine := NewEngine(fanOut, nil, nil, "")

	title := engine.GenerateTitle(context.Background(), "q")
	if len(title) > titleMaxLen {
		t.Errorf("expected title truncated to %d chars, got %d: %q", titleMaxLen, len(title), title)
	}
	if strings.HasPrefix(title, `"`) {
		t.Errorf("expected surrounding quotes stripped, got %q", title)
	}
}

func TestEngineRunStreamEmitsStrictStageOrder(t *testing.T) {
	router := &scriptedRouter{responses: map[string]string{
		"model-a":        "Answer from A",
		TitleModel:       "A Short Title",
		"chairman-model": "Synthesized final answer",
	}}
	fanOut := NewFanOut(router, nil)
	engine := NewEngine(fanOut, nil, []string{"model-a"}, "chairman-model")

	var events []StreamEventType
	emit := func(ev StreamEvent) { events = append(events, ev.Type) }

	engine.RunStream(context.Background(), DeliberationRequest{Query: "q", FinalOnly: true}, true, emit)

	want := []StreamEventType{
		EventStage1Start, EventStage1Complete, EventTitleComplete,
		EventStage3Start, EventStage3Complete, EventComplete,
	}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i, w := range want {
		if events[i] != w {
			t.Errorf("events[%d] = %q, want %q", i, events[i], w)
		}
	}
}

func TestEngineRunStreamAllFailedEmitsCompleteOnly(t *testing.T) {
	engine, _ := newTestEngine(map[string]string{})

	var events []StreamEventType
	emit := func(ev StreamEvent) { events = append(events, ev.Type) }

	engine.RunStream(context.Background(), DeliberationRequest{Query: "q"}, false, emit)

	want := []StreamEventType{EventStage1Start, EventStage1Complete, EventComplete}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
}

func TestBuildRankingPromptContainsMarkerInstruction(t *testing.T) {
	prompt := buildRankingPrompt("q", []Stage1Entry{{Model: "m", Response: "r"}}, []string{"Response A"})
	if !strings.Contains(prompt, finalRankingMarker) {
		t.Error("expected ranking prompt to instruct the FINAL RANKING marker")
	}
	if !strings.Contains(prompt, "Response A") {
		t.Error("expected ranking prompt to include the anonymized label")
	}
}

func TestBuildChairmanPromptOmitsRankingBlockWhenStage2Empty(t *testing.T) {
	prompt := buildChairmanPrompt("q", []Stage1Entry{{Model: "m", Response: "r"}}, nil)
	if strings.Contains(prompt, "STAGE 2") {
		t.Error("expected no STAGE 2 block when stage2 is empty")
	}
	if strings.Contains(prompt, "ranked each other's responses") {
		t.Error("expected no ranked-responses clause when stage2 is empty")
	}
}

func TestBuildChairmanPromptIncludesRankingBlockWhenStage2Present(t *testing.T) {
	prompt := buildChairmanPrompt("q",
		[]Stage1Entry{{Model: "m", Response: "r"}},
		[]Stage2Entry{{Model: "m", Ranking: "FINAL RANKING:\n1. Response A"}},
	)
	if !strings.Contains(prompt, "STAGE 2 - Peer Rankings:") {
		t.Error("expected STAGE 2 block when stage2 is present")
	}
	if !strings.Contains(prompt, "ranked each other's responses") {
		t.Error("expected ranked-responses clause when stage2 is present")
	}
}
