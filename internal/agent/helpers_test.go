package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/soyeahso/shopassist/internal/config"
	"github.com/soyeahso/shopassist/internal/domain"
	"github.com/soyeahso/shopassist/internal/llm"
	"github.com/soyeahso/shopassist/internal/logging"
	"github.com/soyeahso/shopassist/internal/toolservice"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func testRegistry(mock llm.Client) *llm.Registry {
	reg := llm.NewRegistry(silentLog())
	reg.Register("mock", mock)
	reg.SetFallback("mock")
	return reg
}

func testTools() config.ToolsConfig {
	return config.Defaults().Tools
}

func testCrossSell() config.CrossSellConfig {
	return config.Defaults().CrossSell
}

type toolHandler func(args map[string]any) (*toolservice.Result, error)

type fakeCall struct {
	Name string
	Args map[string]any
}

// fakeService is an in-memory ToolService.
type fakeService struct {
	name     string
	tools    []domain.ToolDescriptor
	listErr  error
	handlers map[string]toolHandler

	mu    sync.Mutex
	calls []fakeCall
}

func newFakeService(name string, tools ...string) *fakeService {
	s := &fakeService{name: name, handlers: map[string]toolHandler{}}
	for _, t := range tools {
		s.tools = append(s.tools, domain.ToolDescriptor{Name: t, Description: t + " tool", Service: name})
	}
	return s
}

// on sets the handler for a tool, returning v as JSON text.
func (s *fakeService) on(tool string, v any) *fakeService {
	s.handlers[tool] = func(map[string]any) (*toolservice.Result, error) {
		return jsonResult(v), nil
	}
	return s
}

func (s *fakeService) Name() string { return s.name }

func (s *fakeService) ListTools(context.Context) ([]domain.ToolDescriptor, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.tools, nil
}

func (s *fakeService) CallTool(_ context.Context, name string, args map[string]any) (*toolservice.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, fakeCall{Name: name, Args: args})
	h := s.handlers[name]
	s.mu.Unlock()
	if h == nil {
		return toolservice.TextResult(`{"ok":true}`), nil
	}
	return h(args)
}

func (s *fakeService) Calls() []fakeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fakeCall(nil), s.calls...)
}

func (s *fakeService) callsTo(tool string) []fakeCall {
	var out []fakeCall
	for _, c := range s.Calls() {
		if c.Name == tool {
			out = append(out, c)
		}
	}
	return out
}

func jsonResult(v any) *toolservice.Result {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return toolservice.TextResult(string(b))
}

// decoded round-trips v through JSON so it compares equal to captured data.
func decoded(v any) any {
	b, _ := json.Marshal(v)
	var out any
	_ = json.Unmarshal(b, &out)
	return out
}

func toolCall(id, name string, args map[string]any) llm.ToolCall {
	b, _ := json.Marshal(args)
	return llm.ToolCall{ID: id, Name: name, Input: string(b)}
}

func toolCallsResponse(calls ...llm.ToolCall) *llm.CompletionResponse {
	return &llm.CompletionResponse{ToolCalls: calls, Model: "mock-model"}
}

func answer(typ, msg string) *llm.CompletionResponse {
	return &llm.CompletionResponse{
		Content: fmt.Sprintf(`{"message":%q,"type":%q}`, msg, typ),
		Model:   "mock-model",
	}
}

func newTestEngine(mock *llm.MockClient, services []ToolService, opts ...EngineOption) *Engine {
	return NewEngine(EngineConfig{
		Model:     "mock",
		Tools:     testTools(),
		CrossSell: testCrossSell(),
	}, mock, services, StaticInstructions("You are a shop assistant. Reply in JSON."), silentLog(), opts...)
}
