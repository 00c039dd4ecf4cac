package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/shopassist/internal/domain"
	"github.com/soyeahso/shopassist/internal/hooks"
	"github.com/soyeahso/shopassist/internal/logging"
	"github.com/soyeahso/shopassist/internal/metrics"
)

// ApologyMessage is the only thing a caller sees when a turn fails.
const ApologyMessage = "Sorry, I encountered an error providing a response."

// ErrTurnFailed marks a turn the engine could not answer. Chat returns it
// together with the apology response so callers can both show the apology
// and signal failure.
var ErrTurnFailed = errors.New("chat turn failed")

// RunnerConfig configures the chat runner.
type RunnerConfig struct {
	HistoryLimit int
	AnonymousID  string
}

// TurnEngine produces the structured answer for one turn. *Engine
// implements it.
type TurnEngine interface {
	Run(ctx context.Context, in TurnInput) (*TurnOutput, error)
}

// Runner is the per-request chat loop. It owns session continuity: history,
// focus, and per-session ordering.
type Runner struct {
	cfg      RunnerConfig
	engine   TurnEngine
	sessions SessionStore
	locks    *KeyedLocker
	hooks    *hooks.Manager
	metrics  *metrics.Metrics
	log      *logging.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerHooks emits chat_received and chat_completed events.
func WithRunnerHooks(h *hooks.Manager) RunnerOption {
	return func(r *Runner) { r.hooks = h }
}

// WithRunnerMetrics records chat turn and session metrics.
func WithRunnerMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner creates a chat runner.
func NewRunner(cfg RunnerConfig, engine TurnEngine, sessions SessionStore, log *logging.Logger, opts ...RunnerOption) *Runner {
	if cfg.HistoryLimit < 1 {
		cfg.HistoryLimit = 6
	}
	if cfg.AnonymousID == "" {
		cfg.AnonymousID = "anonymous"
	}
	r := &Runner{
		cfg:      cfg,
		engine:   engine,
		sessions: sessions,
		locks:    NewKeyedLocker(),
		log:      log.Sub("agent"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SessionID returns the session a request belongs to.
func (r *Runner) SessionID(req domain.ChatRequest) string {
	if req.SessionToken != "" {
		return req.SessionToken
	}
	return r.cfg.AnonymousID
}

// Chat processes one message. Requests for the same session run one at a
// time in arrival order. An engine failure records no assistant turn and
// returns the apology response with an error wrapping ErrTurnFailed. Any
// other error comes with a nil response: the session itself could not be
// read or updated.
func (r *Runner) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	start := time.Now()
	sessionID := r.SessionID(req)
	log := r.log.With("sessionId", sessionID)

	unlock, err := r.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("waiting for session %s: %w", sessionID, err)
	}
	defer unlock()

	sess, err := r.sessions.GetOrCreate(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	r.observeSessions(ctx)

	log.Info().Int("historyLen", len(sess.History)).Msg("processing message")
	r.hooks.EmitAsync(ctx, hooks.EventChatReceived, map[string]any{
		"sessionId": sessionID,
		"message":   req.Message,
	})

	if err := r.sessions.AppendTurn(ctx, sessionID, domain.Turn{
		Role: domain.RoleUser, Content: req.Message, Timestamp: start,
	}); err != nil {
		return nil, fmt.Errorf("recording user turn: %w", err)
	}

	active := sess.Context.ActiveEntity
	if e, ok := focusFromRequest(req.Focus); ok {
		if err := r.sessions.SetActiveEntity(ctx, sessionID, e); err != nil {
			return nil, fmt.Errorf("applying focus: %w", err)
		}
		active = e
	}

	window, err := r.sessions.Window(ctx, sessionID, r.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	// The window ends with the turn just appended; it is sent as the
	// current message instead.
	if len(window) > 0 {
		window = window[:len(window)-1]
	}

	out, runErr := r.engine.Run(ctx, TurnInput{
		SessionID:    sessionID,
		Message:      req.Message,
		History:      window,
		ActiveEntity: active,
		Context:      req.ContextFields(),
		Store:        req.Store,
	})

	var resp domain.StructuredResponse
	if runErr != nil {
		log.Error().Err(runErr).Dur("duration", time.Since(start)).Msg("chat turn failed")
		resp = domain.StructuredResponse{Message: ApologyMessage, Type: domain.ResponseText}
	} else {
		resp = out.Response
		if e, ok := focusFromResponse(resp); ok {
			if err := r.sessions.SetActiveEntity(ctx, sessionID, e); err != nil {
				return nil, fmt.Errorf("updating focus: %w", err)
			}
			active = e
		}

		content := resp.Message
		if summary := displayedSummary(resp.Data); summary != "" {
			content += "\n" + summary
		}
		if err := r.sessions.AppendTurn(ctx, sessionID, domain.Turn{
			Role: domain.RoleAssistant, Content: content, Timestamp: time.Now(),
		}); err != nil {
			return nil, fmt.Errorf("recording assistant turn: %w", err)
		}
	}
	r.metrics.ChatTurn(string(resp.Type), runErr)

	completed := map[string]any{
		"sessionId":  sessionID,
		"type":       string(resp.Type),
		"failed":     runErr != nil,
		"durationMs": time.Since(start).Milliseconds(),
	}
	if out != nil {
		completed["toolCalls"] = out.ToolCalls
		completed["crossSell"] = out.CrossSell
	}
	r.hooks.EmitAsync(ctx, hooks.EventChatCompleted, completed)

	log.Info().
		Str("type", string(resp.Type)).
		Bool("failed", runErr != nil).
		Dur("duration", time.Since(start)).
		Msg("response generated")

	reply := &domain.ChatResponse{
		StructuredResponse: resp,
		Context:            responseContext(req, sessionID, active),
	}
	if runErr != nil {
		return reply, fmt.Errorf("%w: %w", ErrTurnFailed, runErr)
	}
	return reply, nil
}

// responseContext echoes the request-scoped fields plus the session id and
// the focus the session ended the turn with.
func responseContext(req domain.ChatRequest, sessionID string, active *domain.ActiveEntity) map[string]any {
	ctx := make(map[string]any, 5)
	for k, v := range req.ContextFields() {
		ctx[k] = v
	}
	ctx["sessionId"] = sessionID
	if active != nil {
		ctx["focus"] = &domain.FocusContext{EntityID: active.ID, EntityName: active.Name}
	} else {
		ctx["focus"] = nil
	}
	return ctx
}

func (r *Runner) observeSessions(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	n, err := r.sessions.Count(ctx)
	if err != nil {
		r.log.Debug().Err(err).Msg("counting sessions")
		return
	}
	r.metrics.SetSessions(n)
}
