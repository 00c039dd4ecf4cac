package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/shopassist/internal/config"
	"github.com/soyeahso/shopassist/internal/domain"
	"github.com/soyeahso/shopassist/internal/hooks"
	"github.com/soyeahso/shopassist/internal/llm"
	"github.com/soyeahso/shopassist/internal/logging"
	"github.com/soyeahso/shopassist/internal/metrics"
	"github.com/soyeahso/shopassist/internal/toolservice"
)

const defaultDiscoveryConcurrency = 4

// jsonReminder is added to the second exchange when the instructions do
// not mention JSON, which JSON-object mode requires.
const jsonReminder = "Reply with a single JSON object."

// EngineConfig configures an Engine.
type EngineConfig struct {
	Model                string
	MaxTokens            int
	Temperature          *float32
	Tools                config.ToolsConfig
	CrossSell            config.CrossSellConfig
	DiscoveryConcurrency int
}

// Completer is the language-model surface the engine needs.
// *FailoverClient and llm.Client both satisfy it.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// TurnInput is everything the engine needs for one request.
type TurnInput struct {
	SessionID    string
	Message      string
	History      []domain.Turn
	ActiveEntity *domain.ActiveEntity
	// Context holds request-scoped fields merged into every tool call.
	Context map[string]any
	// Store selects a configured store profile for this request.
	Store string
}

// TurnOutput is the stitched answer plus what happened on the way.
type TurnOutput struct {
	Response  domain.StructuredResponse
	ToolCalls []string
	CrossSell bool
	Usage     llm.Usage
}

// Engine runs the two-phase tool-orchestration exchange for one request.
type Engine struct {
	cfg          EngineConfig
	llm          Completer
	services     []ToolService
	instructions Instructions
	validator    *ArgValidator
	profiles     *toolservice.Credentials
	hooks        *hooks.Manager
	metrics      *metrics.Metrics
	log          *logging.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithArgValidator validates model arguments before dispatch.
func WithArgValidator(v *ArgValidator) EngineOption {
	return func(e *Engine) { e.validator = v }
}

// WithStoreProfiles lets requests select a store profile by name.
func WithStoreProfiles(c *toolservice.Credentials) EngineOption {
	return func(e *Engine) { e.profiles = c }
}

// WithHooks emits tool_called and cross_sell events.
func WithHooks(h *hooks.Manager) EngineOption {
	return func(e *Engine) { e.hooks = h }
}

// WithMetrics records LLM and cross-sell metrics.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine over the given tool services.
func NewEngine(cfg EngineConfig, completer Completer, services []ToolService, instructions Instructions, log *logging.Logger, opts ...EngineOption) *Engine {
	if cfg.DiscoveryConcurrency <= 0 {
		cfg.DiscoveryConcurrency = defaultDiscoveryConcurrency
	}
	e := &Engine{
		cfg:          cfg,
		llm:          completer,
		services:     services,
		instructions: instructions,
		log:          log.Sub("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Discover lists tools on every service and builds the dispatch table.
// A service that fails discovery is logged and left out. Duplicate tool
// names across services fail the build.
func (e *Engine) Discover(ctx context.Context) (*DispatchTable, error) {
	found := make([]Discovered, len(e.services))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.DiscoveryConcurrency)
	for i, svc := range e.services {
		g.Go(func() error {
			tools, err := svc.ListTools(gctx)
			if err != nil {
				e.log.Error().Err(err).Str("service", svc.Name()).Msg("tool discovery failed, skipping service")
				return nil
			}
			found[i] = Discovered{Service: svc, Tools: tools}
			return nil
		})
	}
	_ = g.Wait()

	discovered := make([]Discovered, 0, len(found))
	for _, d := range found {
		if d.Service != nil {
			discovered = append(discovered, d)
		}
	}
	table, err := BuildDispatchTable(discovered)
	if err != nil {
		return nil, fmt.Errorf("building dispatch table: %w", err)
	}
	return table, nil
}

// Run performs discovery, the first exchange, tool execution, cross-sell,
// the second exchange, parsing and stitching.
func (e *Engine) Run(ctx context.Context, in TurnInput) (*TurnOutput, error) {
	table, err := e.Discover(ctx)
	if err != nil {
		return nil, err
	}

	system := e.instructions.Text()
	msgs := e.buildMessages(in)
	req := llm.CompletionRequest{
		Model:       e.cfg.Model,
		System:      system,
		Messages:    msgs,
		Tools:       table.Definitions(),
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
	}

	first, err := e.complete(ctx, "first", req)
	if err != nil {
		return nil, err
	}
	out := &TurnOutput{Usage: first.Usage}

	if len(first.ToolCalls) == 0 {
		out.Response = stitch(parseResponse(first.Content), nil, e.cfg.Tools)
		return out, nil
	}

	captured := NewCapturedResults()
	msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: first.Content, ToolCalls: first.ToolCalls})
	for _, call := range first.ToolCalls {
		raw, failed := e.executeCall(ctx, table, call, in)
		captured.Put(domain.ToolCallResult{
			CallID:  call.ID,
			Name:    call.Name,
			Raw:     raw,
			Data:    decodeResult(raw),
			IsError: failed,
		})
		msgs = append(msgs, llm.Message{
			Role:       llm.RoleTool,
			Name:       call.Name,
			ToolCallID: call.ID,
			Content:    raw,
		})
		out.ToolCalls = append(out.ToolCalls, call.Name)
	}

	if note, ok := e.crossSell(ctx, table, first.ToolCalls, captured, in); ok {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: note})
		out.CrossSell = true
	}

	if !strings.Contains(strings.ToLower(system), "json") {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: jsonReminder})
	}
	req.Messages = msgs
	req.Tools = nil
	req.JSONMode = true

	second, err := e.complete(ctx, "second", req)
	if err != nil {
		return nil, err
	}
	out.Usage.InputTokens += second.Usage.InputTokens
	out.Usage.OutputTokens += second.Usage.OutputTokens
	out.Response = stitch(parseResponse(second.Content), captured, e.cfg.Tools)
	return out, nil
}

// buildMessages lays out the first exchange: the transient focus note,
// the history window and the current message.
func (e *Engine) buildMessages(in TurnInput) []llm.Message {
	msgs := make([]llm.Message, 0, len(in.History)+2)
	if in.ActiveEntity != nil {
		msgs = append(msgs, llm.Message{
			Role:    llm.RoleSystem,
			Content: activeEntityNote(in.ActiveEntity, e.cfg.Tools.Detail),
		})
	}
	for _, t := range in.History {
		msgs = append(msgs, llm.Message{Role: string(t.Role), Content: t.Content})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: in.Message})
}

func (e *Engine) complete(ctx context.Context, phase string, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	start := time.Now()
	resp, err := e.llm.Complete(ctx, req)
	elapsed := time.Since(start)
	e.metrics.ObserveLLM(phase, err, elapsed)

	if err != nil {
		e.log.Error().Err(err).Str("phase", phase).Str("model", req.Model).Dur("duration", elapsed).Msg("llm exchange failed")
		return nil, fmt.Errorf("%s exchange: %w", phase, err)
	}
	e.log.Info().
		Str("phase", phase).
		Str("model", resp.Model).
		Int("toolCalls", len(resp.ToolCalls)).
		Dur("duration", elapsed).
		Msg("llm exchange")
	return resp, nil
}

// executeCall runs one model-requested tool call and returns the content
// for the tool turn and whether the call failed. Every failure becomes an
// {"error": ...} payload the model can react to.
func (e *Engine) executeCall(ctx context.Context, table *DispatchTable, call llm.ToolCall, in TurnInput) (string, bool) {
	raw, failed := e.dispatch(ctx, table, call, in)
	e.hooks.EmitAsync(ctx, hooks.EventToolCalled, map[string]any{
		"sessionId": in.SessionID,
		"tool":      call.Name,
		"callId":    call.ID,
		"failed":    failed,
	})
	return raw, failed
}

func (e *Engine) dispatch(ctx context.Context, table *DispatchTable, call llm.ToolCall, in TurnInput) (string, bool) {
	svc, ok := table.Lookup(call.Name)
	if !ok {
		e.log.Warn().Str("tool", call.Name).Msg("model requested unknown tool")
		return errorPayload(fmt.Sprintf("Tool %s not found", call.Name)), true
	}

	args, err := decodeArguments(call.Input)
	if err != nil {
		return errorPayload(err.Error()), true
	}

	if e.validator != nil {
		desc, _ := table.Descriptor(call.Name)
		if err := e.validator.Validate(call.Name, desc.Parameters, args); err != nil {
			var se *SchemaError
			if !errors.As(err, &se) {
				e.log.Warn().Err(err).Str("tool", call.Name).Msg("rejected tool arguments")
				return errorPayload(err.Error()), true
			}
			e.log.Debug().Err(err).Msg("skipping argument validation")
		}
	}

	res, err := e.invoke(ctx, svc, call.Name, args, in)
	if err != nil {
		return errorPayload(err.Error()), true
	}
	if res.IsError {
		return errorPayload(res.Flatten()), true
	}
	return res.Flatten(), false
}

// invoke calls a tool with request context and the selected store profile
// merged in. Model-supplied keys always win.
func (e *Engine) invoke(ctx context.Context, svc ToolService, name string, args map[string]any, in TurnInput) (*toolservice.Result, error) {
	merged := toolservice.MergeArguments(args, in.Context, e.profileFields(in.Store))
	return svc.CallTool(ctx, name, merged)
}

func (e *Engine) profileFields(store string) map[string]any {
	if store == "" || e.profiles == nil {
		return nil
	}
	p, ok := e.profiles.Profile(store)
	if !ok {
		e.log.Warn().Str("store", store).Msg("unknown store profile requested, using active profile")
		return nil
	}
	return p.Fields()
}

func decodeArguments(input string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(input) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	return args, nil
}

// decodeResult returns the JSON value of raw, or raw itself when it is not
// JSON.
func decodeResult(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func errorPayload(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}
