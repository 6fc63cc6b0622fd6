package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"maestro/internal/budget"
	"maestro/internal/champion"
	"maestro/internal/provider"
	"maestro/internal/tools"
)

const classifyPrompt = `Decide whether the user request below requires executing external tools, or can be answered directly from general knowledge and the conversation so far.

If it can be answered directly, reply on the first line with exactly DIRECT, then the answer on the following lines.
If it requires tools, reply with exactly TOOLS and nothing else.

User request:
%s`

const decomposePrompt = `Break the user request into an ordered list of execution phases. Each phase has one goal and a set of candidate tools that might accomplish it; do not commit to a single tool. Mark a phase independent only when it consumes no output of an earlier phase.

Available tools:
%s

%sRespond with a JSON array only, no prose:
[{"goal": "...", "tools": ["tool_a", "tool_b"], "independent": false}]

User request:
%s`

const championSection = `Previously successful executions of similar requests, for guidance:
%s

`

// Retriever is the read-only champion case source the planner consults.
type Retriever interface {
	Query(ctx context.Context, text string, topK int, minSimilarity float64) ([]champion.Case, error)
}

// Config tunes planning behavior.
type Config struct {
	Model         string
	Temperature   float64
	MaxTokens     int
	CaseTopK      int
	CaseMinScore  float64
	HistoryWindow int // most recent messages included in prompts
}

// DefaultConfig returns the planner defaults.
func DefaultConfig() Config {
	return Config{
		Temperature:   0.2,
		MaxTokens:     2048,
		CaseTopK:      3,
		CaseMinScore:  0.15,
		HistoryWindow: 10,
	}
}

// TurnInput carries everything the planner may consider for one turn.
type TurnInput struct {
	TurnID  string
	Text    string
	History []provider.Message
	// Behavior blocks are opaque injected text, prepended to the planning
	// prompt and never persisted as history.
	Behavior []string
}

// Planner produces a Plan (or a direct-answer decision) for one user turn.
type Planner struct {
	provider  provider.Provider
	retriever Retriever
	allocator *budget.Allocator
	registry  *tools.Registry
	cfg       Config
	log       zerolog.Logger
}

// New creates a Planner.
func New(prov provider.Provider, retriever Retriever, allocator *budget.Allocator, registry *tools.Registry, cfg Config, log zerolog.Logger) *Planner {
	return &Planner{
		provider:  prov,
		retriever: retriever,
		allocator: allocator,
		registry:  registry,
		cfg:       cfg,
		log:       log.With().Str("component", "planner").Logger(),
	}
}

// Plan turns one user turn into an ordered phase sequence. The returned
// usage covers every provider call made while planning, so the caller can
// fold it into the turn's cost accumulators. A PlanningError is fatal for
// the turn and is not retried here.
func (p *Planner) Plan(ctx context.Context, turn TurnInput) (*Plan, provider.Usage, error) {
	var usage provider.Usage

	direct, answer, u, err := p.classify(ctx, turn)
	usage.Add(u)
	if err != nil {
		return nil, usage, &PlanningError{Stage: "classify", Cause: err}
	}
	if direct {
		p.log.Debug().Str("turn_id", turn.TurnID).Msg("direct answer, no tools needed")
		return &Plan{TurnID: turn.TurnID, Direct: true, Answer: answer}, usage, nil
	}

	cases, err := p.retrieveCases(ctx, turn.Text)
	if err != nil {
		// Retrieval trouble degrades to unbiased planning, it does not fail
		// the turn.
		p.log.Warn().Err(err).Msg("champion retrieval failed, planning without bias")
		cases = nil
	}

	plan, u, err := p.decompose(ctx, turn, cases)
	usage.Add(u)
	if err != nil {
		return nil, usage, &PlanningError{Stage: "decompose", Cause: err}
	}
	return plan, usage, nil
}

func (p *Planner) classify(ctx context.Context, turn TurnInput) (direct bool, answer string, usage provider.Usage, err error) {
	messages := p.withBehavior(turn.Behavior, nil)
	messages = append(messages, p.recentHistory(turn.History)...)
	messages = append(messages, provider.Message{
		Role:    provider.RoleUser,
		Content: fmt.Sprintf(classifyPrompt, turn.Text),
	})

	resp, err := p.provider.Invoke(ctx, provider.Request{
		Model:       p.cfg.Model,
		Messages:    messages,
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	})
	if err != nil {
		return false, "", usage, err
	}
	usage = resp.Usage

	text := strings.TrimSpace(resp.Text)
	if strings.HasPrefix(text, "DIRECT") {
		answer = strings.TrimSpace(strings.TrimPrefix(text, "DIRECT"))
		answer = strings.TrimSpace(strings.TrimPrefix(answer, ":"))
		return true, answer, usage, nil
	}
	if strings.HasPrefix(text, "TOOLS") {
		return false, "", usage, nil
	}
	return false, "", usage, fmt.Errorf("unrecognized classification %q", firstLine(text))
}

func (p *Planner) retrieveCases(ctx context.Context, text string) ([]champion.Case, error) {
	if p.retriever == nil {
		return nil, nil
	}
	return p.retriever.Query(ctx, text, p.cfg.CaseTopK, p.cfg.CaseMinScore)
}

func (p *Planner) decompose(ctx context.Context, turn TurnInput, cases []champion.Case) (*Plan, provider.Usage, error) {
	var usage provider.Usage

	sources := p.promptSources(turn, cases)
	if p.allocator != nil && p.allocator.WouldExceed(sources) {
		p.log.Info().
			Int("estimate", p.allocator.Estimate(sources)).
			Int("limit", p.allocator.Limit()).
			Msg("planning prompt over budget, compressing")
		sources = p.allocator.Compress(sources, p.allocator.Limit())
		// Surviving cases changed; rebuild the few-shot section from them.
		cases = survivingCases(sources, cases)
	}

	prompt := p.buildDecomposePrompt(turn.Text, cases)
	messages := p.withBehavior(turn.Behavior, nil)
	messages = append(messages, historyFromSources(sources)...)
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: prompt})

	resp, err := p.provider.Invoke(ctx, provider.Request{
		Model:       p.cfg.Model,
		Messages:    messages,
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	})
	if err != nil {
		return nil, usage, err
	}
	usage = resp.Usage

	plan, err := p.parsePlan(turn.TurnID, resp.Text)
	if err != nil {
		return nil, usage, err
	}
	return plan, usage, nil
}

// promptSources maps the decomposition prompt's parts onto budget sources.
func (p *Planner) promptSources(turn TurnInput, cases []champion.Case) []budget.Source {
	sources := []budget.Source{
		{Kind: budget.SourceSystem, Label: "catalogue", Content: p.catalogue()},
	}
	for _, b := range turn.Behavior {
		sources = append(sources, budget.Source{Kind: budget.SourceBehavior, Label: "behavior", Content: b})
	}
	history := p.recentHistory(turn.History)
	for i, msg := range history {
		sources = append(sources, budget.Source{
			Kind:    budget.SourceHistory,
			Label:   fmt.Sprintf("history-%d", i),
			Content: msg.Role + ": " + msg.Content,
			Latest:  i == len(history)-1,
		})
	}
	for _, c := range cases {
		sources = append(sources, budget.Source{
			Kind:    budget.SourceCases,
			Label:   c.ID,
			Content: c.Question + "\n" + string(c.Trace),
		})
	}
	return sources
}

func (p *Planner) buildDecomposePrompt(text string, cases []champion.Case) string {
	section := ""
	if len(cases) > 0 {
		var sb strings.Builder
		for _, c := range cases {
			fmt.Fprintf(&sb, "Q: %s\nTrace: %s\n", c.Question, string(c.Trace))
		}
		section = fmt.Sprintf(championSection, sb.String())
	}
	return fmt.Sprintf(decomposePrompt, p.catalogue(), section, text)
}

// catalogue renders the tool catalogue for the planning prompt.
func (p *Planner) catalogue() string {
	var sb strings.Builder
	for _, t := range p.registry.List() {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name(), t.Description())
	}
	return sb.String()
}

// phaseSpec is the wire shape of one decomposed phase.
type phaseSpec struct {
	Goal        string   `json:"goal"`
	Tools       []string `json:"tools"`
	Independent bool     `json:"independent"`
}

func (p *Planner) parsePlan(turnID, text string) (*Plan, error) {
	raw := extractJSON(text)
	var specs []phaseSpec
	if err := json.Unmarshal([]byte(raw), &specs); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("parse plan: empty phase list")
	}

	plan := &Plan{TurnID: turnID}
	for _, spec := range specs {
		if strings.TrimSpace(spec.Goal) == "" {
			return nil, fmt.Errorf("parse plan: phase with empty goal")
		}
		plan.Phases = append(plan.Phases, &Phase{
			ID:             uuid.New().String(),
			Goal:           spec.Goal,
			CandidateTools: spec.Tools,
			Independent:    spec.Independent,
			Status:         StatusPending,
		})
	}
	return plan, nil
}

func (p *Planner) recentHistory(history []provider.Message) []provider.Message {
	window := p.cfg.HistoryWindow
	if window <= 0 || len(history) <= window {
		return history
	}
	return history[len(history)-window:]
}

// withBehavior prepends injected behavior blocks as system messages.
func (p *Planner) withBehavior(behavior []string, messages []provider.Message) []provider.Message {
	for _, block := range behavior {
		messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: block})
	}
	return messages
}

// survivingCases keeps only cases whose budget source survived compression.
func survivingCases(sources []budget.Source, cases []champion.Case) []champion.Case {
	kept := make(map[string]bool)
	for _, s := range sources {
		if s.Kind == budget.SourceCases {
			kept[s.Label] = true
		}
	}
	out := cases[:0]
	for _, c := range cases {
		if kept[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// historyFromSources rebuilds history messages from post-compression sources
// so dropped turns stay dropped.
func historyFromSources(sources []budget.Source) []provider.Message {
	var out []provider.Message
	for _, s := range sources {
		if s.Kind != budget.SourceHistory {
			continue
		}
		role, content, found := strings.Cut(s.Content, ": ")
		if !found {
			role, content = provider.RoleUser, s.Content
		}
		out = append(out, provider.Message{Role: role, Content: content})
	}
	return out
}

// extractJSON strips markdown fences and surrounding prose from a model
// response, keeping the outermost JSON array.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
