package council

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultProviderTimeout is the per-call timeout used for council and
// chairman calls unless a deliberation overrides it.
const DefaultProviderTimeout = 120 * time.Second

// TitleModel is the fast model used for conversation-title generation.
const TitleModel = "google/gemini-3-flash-preview"

// Stage1Entry is one council model's Stage 1 response.
type Stage1Entry struct {
	Model    string
	Response string
	Usage    TokenUsage
	Provider string
}

// Stage2Entry is one council model's Stage 2 ranking.
type Stage2Entry struct {
	Model         string
	Ranking       string
	ParsedRanking []string
	Usage         TokenUsage
	Provider      string
}

// Stage3Result is the chairman's synthesis.
type Stage3Result struct {
	Model    string
	Response string
	Usage    TokenUsage
	Provider string
}

// DeliberationMetadata carries the label map, the aggregate ranking, and
// the final_only flag alongside a Deliberation Result.
type DeliberationMetadata struct {
	LabelToModel      map[string]string
	AggregateRankings []AggregateEntry
	FinalOnly         bool
}

// DeliberationResult is the complete output of one Run.
type DeliberationResult struct {
	Stage1   []Stage1Entry
	Stage2   []Stage2Entry
	Stage3   Stage3Result
	Metadata DeliberationMetadata
	Timing   DeliberationTiming
}

// DeliberationTiming records wall-clock duration of each stage, used for
// the HTTP response's timing block.
type DeliberationTiming struct {
	Stage1 time.Duration
	Stage2 time.Duration
	Stage3 time.Duration
	Total  time.Duration
}

// DeliberationRequest is the engine's single input shape.
type DeliberationRequest struct {
	Query         string
	CouncilModels []string // overrides the configured roster when non-empty
	Chairman      string   // overrides the configured chairman when non-empty
	FinalOnly     bool
}

// allModelsFailedText is the stage-3 placeholder text used when stage 1
// returns zero successful responses.
const allModelsFailedText = "All models failed to respond. Please try again."

// Engine orchestrates the three-stage solicit/rank/synthesize protocol. It
// is pure over (query, config, provider responses): the only side effects
// are the outbound calls made through fanOut.
type Engine struct {
	fanOut        *FanOut
	logger        Logger
	councilModels []string
	chairman      string
	timeout       time.Duration
}

// NewEngine creates an Engine with the given default council roster and
// chairman, used whenever a DeliberationRequest doesn't override them.
func NewEngine(fanOut *FanOut, logger Logger, councilModels []string, chairman string) *Engine {
	if logger == nil {
		logger = NoopLogger{}
	}
	return &Engine{
		fanOut:        fanOut,
		logger:        logger,
		councilModels: councilModels,
		chairman:      chairman,
		timeout:       DefaultProviderTimeout,
	}
}

// Run executes the full deliberation: Collect, optionally Rank, then
// Synthesize. It never returns an error; degenerate input (zero stage-1
// successes) and chairman failures both surface as a populated result
// with an explanatory Stage3Result, per the engine's no-exception
// contract.
func (e *Engine) Run(ctx context.Context, req DeliberationRequest) *DeliberationResult {
	start := time.Now()

	models := req.CouncilModels
	if len(models) == 0 {
		models = e.councilModels
	}
	chairman := req.Chairman
	if chairman == "" {
		chairman = e.chairman
	}

	stage1Start := time.Now()
	stage1 := e.collect(ctx, req.Query, models)
	stage1Dur := time.Since(stage1Start)

	if len(stage1) == 0 {
		return &DeliberationResult{
			Stage1: []Stage1Entry{},
			Stage2: []Stage2Entry{},
			Stage3: Stage3Result{Model: chairman, Response: allModelsFailedText},
			Metadata: DeliberationMetadata{
				LabelToModel:      map[string]string{},
				AggregateRankings: []AggregateEntry{},
				FinalOnly:         req.FinalOnly,
			},
			Timing: DeliberationTiming{Stage1: stage1Dur, Total: time.Since(start)},
		}
	}

	labels, labelToModel := AssignLabels(modelsOf(stage1))

	if req.FinalOnly {
		stage3Start := time.Now()
		stage3 := e.synthesize(ctx, req.Query, stage1, nil, chairman)
		stage3Dur := time.Since(stage3Start)

		return &DeliberationResult{
			Stage1: stage1,
			Stage2: []Stage2Entry{},
			Stage3: stage3,
			Metadata: DeliberationMetadata{
				LabelToModel:      map[string]string{},
				AggregateRankings: []AggregateEntry{},
				FinalOnly:         true,
			},
			Timing: DeliberationTiming{Stage1: stage1Dur, Stage3: stage3Dur, Total: time.Since(start)},
		}
	}

	stage2Start := time.Now()
	stage2 := e.rank(ctx, req.Query, stage1, labels, labelToModel, models)
	stage2Dur := time.Since(stage2Start)

	parsed := make([][]string, len(stage2))
	for i, entry := range stage2 {
		parsed[i] = entry.ParsedRanking
	}
	aggregate := AggregateRankings(parsed, labelToModel)

	stage3Start := time.Now()
	stage3 := e.synthesize(ctx, req.Query, stage1, stage2, chairman)
	stage3Dur := time.Since(stage3Start)

	return &DeliberationResult{
		Stage1: stage1,
		Stage2: stage2,
		Stage3: stage3,
		Metadata: DeliberationMetadata{
			LabelToModel:      labelToModel,
			AggregateRankings: aggregate,
			FinalOnly:         false,
		},
		Timing: DeliberationTiming{
			Stage1: stage1Dur,
			Stage2: stage2Dur,
			Stage3: stage3Dur,
			Total:  time.Since(start),
		},
	}
}

// StreamEventType names the SSE events emitted by RunStream, in strict
// stage order even though the underlying fan-outs complete out of order.
type StreamEventType string

const (
	EventStage1Start    StreamEventType = "stage1_start"
	EventStage1Complete StreamEventType = "stage1_complete"
	EventStage2Start    StreamEventType = "stage2_start"
	EventStage2Complete StreamEventType = "stage2_complete"
	EventStage3Start    StreamEventType = "stage3_start"
	EventStage3Complete StreamEventType = "stage3_complete"
	EventTitleComplete  StreamEventType = "title_complete"
	EventComplete       StreamEventType = "complete"
	EventError          StreamEventType = "error"
)

// StreamEvent is one event handed to RunStream's emit callback.
type StreamEvent struct {
	Type    StreamEventType
	Payload any
}

// RunStream executes the same three-stage protocol as Run, calling emit
// once a stage starts and once it completes, in strict stage order. This
// differs from Run only in observability: the underlying calls and
// results are identical. When genTitle is true, a title is generated after
// stage 1 completes and emitted as title_complete before stage 2 begins.
func (e *Engine) RunStream(ctx context.Context, req DeliberationRequest, genTitle bool, emit func(StreamEvent)) *DeliberationResult {
	start := time.Now()

	models := req.CouncilModels
	if len(models) == 0 {
		models = e.councilModels
	}
	chairman := req.Chairman
	if chairman == "" {
		chairman = e.chairman
	}

	emit(StreamEvent{Type: EventStage1Start})
	stage1Start := time.Now()
	stage1 := e.collect(ctx, req.Query, models)
	stage1Dur := time.Since(stage1Start)
	emit(StreamEvent{Type: EventStage1Complete, Payload: stage1})

	if len(stage1) == 0 {
		result := &DeliberationResult{
			Stage1: []Stage1Entry{},
			Stage2: []Stage2Entry{},
			Stage3: Stage3Result{Model: chairman, Response: allModelsFailedText},
			Metadata: DeliberationMetadata{
				LabelToModel:      map[string]string{},
				AggregateRankings: []AggregateEntry{},
				FinalOnly:         req.FinalOnly,
			},
			Timing: DeliberationTiming{Stage1: stage1Dur, Total: time.Since(start)},
		}
		emit(StreamEvent{Type: EventComplete, Payload: result})
		return result
	}

	if genTitle {
		emit(StreamEvent{Type: EventTitleComplete, Payload: e.GenerateTitle(ctx, req.Query)})
	}

	labels, labelToModel := AssignLabels(modelsOf(stage1))

	if req.FinalOnly {
		emit(StreamEvent{Type: EventStage3Start})
		stage3Start := time.Now()
		stage3 := e.synthesize(ctx, req.Query, stage1, nil, chairman)
		stage3Dur := time.Since(stage3Start)
		emit(StreamEvent{Type: EventStage3Complete, Payload: stage3})

		result := &DeliberationResult{
			Stage1: stage1,
			Stage2: []Stage2Entry{},
			Stage3: stage3,
			Metadata: DeliberationMetadata{
				LabelToModel:      map[string]string{},
				AggregateRankings: []AggregateEntry{},
				FinalOnly:         true,
			},
			Timing: DeliberationTiming{Stage1: stage1Dur, Stage3: stage3Dur, Total: time.Since(start)},
		}
		emit(StreamEvent{Type: EventComplete, Payload: result})
		return result
	}

	emit(StreamEvent{Type: EventStage2Start})
	stage2Start := time.Now()
	stage2 := e.rank(ctx, req.Query, stage1, labels, labelToModel, models)
	stage2Dur := time.Since(stage2Start)

	parsed := make([][]string, len(stage2))
	for i, entry := range stage2 {
		parsed[i] = entry.ParsedRanking
	}
	aggregate := AggregateRankings(parsed, labelToModel)
	emit(StreamEvent{Type: EventStage2Complete, Payload: map[string]any{
		"stage2":            stage2,
		"label_to_model":    labelToModel,
		"aggregate_ranking": aggregate,
	}})

	emit(StreamEvent{Type: EventStage3Start})
	stage3Start := time.Now()
	stage3 := e.synthesize(ctx, req.Query, stage1, stage2, chairman)
	stage3Dur := time.Since(stage3Start)
	emit(StreamEvent{Type: EventStage3Complete, Payload: stage3})

	result := &DeliberationResult{
		Stage1: stage1,
		Stage2: stage2,
		Stage3: stage3,
		Metadata: DeliberationMetadata{
			LabelToModel:      labelToModel,
			AggregateRankings: aggregate,
			FinalOnly:         false,
		},
		Timing: DeliberationTiming{
			Stage1: stage1Dur,
			Stage2: stage2Dur,
			Stage3: stage3Dur,
			Total:  time.Since(start),
		},
	}
	emit(StreamEvent{Type: EventComplete, Payload: result})
	return result
}

// collect fans the query out to the council and retains only successful
// responses, in their stable input order.
func (e *Engine) collect(ctx context.Context, query string, models []string) []Stage1Entry {
	req := &CompletionRequest{
		Messages: []Message{User(query)},
		Timeout:  e.timeout,
	}
	responses := e.fanOut.Dispatch(ctx, models, req)

	entries := make([]Stage1Entry, 0, len(models))
	for _, model := range models {
		resp := responses[model]
		if resp == nil {
			continue
		}
		entries = append(entries, Stage1Entry{
			Model:    model,
			Response: resp.Content,
			Usage:    resp.Usage,
			Provider: resp.Provider,
		})
	}
	return entries
}

// rank builds the anonymized ranking prompt, fans it out to the same
// council set, and parses each returned text.
func (e *Engine) rank(ctx context.Context, query string, stage1 []Stage1Entry, labels []string, labelToModel map[string]string, models []string) []Stage2Entry {
	prompt := buildRankingPrompt(query, stage1, labels)
	req := &CompletionRequest{
		Messages: []Message{User(prompt)},
		Timeout:  e.timeout,
	}
	responses := e.fanOut.Dispatch(ctx, models, req)

	entries := make([]Stage2Entry, 0, len(models))
	for _, model := range models {
		resp := responses[model]
		if resp == nil {
			continue
		}
		entries = append(entries, Stage2Entry{
			Model:         model,
			Ranking:       resp.Content,
			ParsedRanking: ParseRanking(resp.Content),
			Usage:         resp.Usage,
			Provider:      resp.Provider,
		})
	}
	return entries
}

// synthesize dispatches the chairman prompt to a single model. A failed
// call yields a placeholder result; the engine as a whole still succeeds.
func (e *Engine) synthesize(ctx context.Context, query string, stage1 []Stage1Entry, stage2 []Stage2Entry, chairman string) Stage3Result {
	prompt := buildChairmanPrompt(query, stage1, stage2)
	req := &CompletionRequest{
		Model:    chairman,
		Messages: []Message{User(prompt)},
		Timeout:  e.timeout,
	}

	resp, ok := e.fanOut.router.Dispatch(ctx, chairman, req)
	if !ok {
		return Stage3Result{Model: chairman, Response: "Error: Unable to generate final synthesis."}
	}

	return Stage3Result{
		Model:    chairman,
		Response: resp.Content,
		Usage:    resp.Usage,
		Provider: resp.Provider,
	}
}

func modelsOf(entries []Stage1Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.Model
	}
	return ids
}

func buildRankingPrompt(query string, stage1 []Stage1Entry, labels []string) string {
	var blocks []string
	for i, entry := range stage1 {
		blocks = append(blocks, fmt.Sprintf("%s:\n%s", labels[i], entry.Response))
	}
	responsesText := strings.Join(blocks, "\n\n")

	return fmt.Sprintf(`You are evaluating different responses to the following question:

Question: %s

Here are the responses from different models (anonymized):

%s

Your task:
1. First, evaluate each response individually. For each response, explain what it does well and what it does poorly.
2. Then, at the very end of your response, provide a final ranking.

IMPORTANT: Your final ranking MUST be formatted EXACTLY as follows:
- Start with the line "FINAL RANKING:" (all caps, with colon)
- Then list the responses from best to worst as a numbered list
- Each line should be: number, period, space, then ONLY the response label (e.g., "1. Response A")
- Do not add any other text or explanations in the ranking section

Now provide your evaluation and ranking:`, query, responsesText)
}

func buildChairmanPrompt(query string, stage1 []Stage1Entry, stage2 []Stage2Entry) string {
	var stage1Blocks []string
	for _, entry := range stage1 {
		stage1Blocks = append(stage1Blocks, fmt.Sprintf("Model: %s\nResponse: %s", entry.Model, entry.Response))
	}
	stage1Text := strings.Join(stage1Blocks, "\n\n")

	rankedClause := ""
	stage2Text := ""
	rankingsBullet := ""
	if len(stage2) > 0 {
		rankedClause = ", and then ranked each other's responses"
		var stage2Blocks []string
		for _, entry := range stage2 {
			stage2Blocks = append(stage2Blocks, fmt.Sprintf("Model: %s\nRanking: %s", entry.Model, entry.Ranking))
		}
		stage2Text = "\n\nSTAGE 2 - Peer Rankings:\n" + strings.Join(stage2Blocks, "\n\n")
		rankingsBullet = "\n- The peer rankings and what they reveal about response quality"
	}

	return fmt.Sprintf(`You are the Chairman of an LLM Council. Multiple AI models have provided responses to a user's question%s.

Original Question: %s

STAGE 1 - Individual Responses:
%s%s

Your task as Chairman is to synthesize all of this information into a single, comprehensive, accurate answer to the user's original question. Consider:
- The individual responses and their insights%s
- Any patterns of agreement or disagreement

Provide a clear, well-reasoned final answer that represents the council's collective wisdom:`, rankedClause, query, stage1Text, stage2Text, rankingsBullet)
}

// titleMaxLen is the display cap for a generated conversation title.
const titleMaxLen = 50

// GenerateTitle produces a short (3-5 word) title for a conversation from
// its first user message, using a fast model. Falls back to a generic
// title on any failure.
func (e *Engine) GenerateTitle(ctx context.Context, query string) string {
	prompt := fmt.Sprintf(`Generate a very short title (3-5 words maximum) that summarizes the following question.
The title should be concise and descriptive. Do not use quotes or punctuation in the title.

Question: %s

Title:`, query)

	req := &CompletionRequest{
		Model:     TitleModel,
		Messages:  []Message{User(prompt)},
		MaxTokens: 50,
		Timeout:   e.timeout,
	}

	resp, ok := e.fanOut.router.Dispatch(ctx, TitleModel, req)
	if !ok {
		return "New Conversation"
	}

	title := strings.Trim(strings.TrimSpace(resp.Content), `"'`)
	if len(title) > titleMaxLen {
		title = title[:titleMaxLen-3] + "..."
	}
	if title == "" {
		return "New Conversation"
	}
	return title
}
