package agent

import (
	"context"
	"fmt"

	"github.com/soyeahso/shopassist/internal/domain"
	"github.com/soyeahso/shopassist/internal/llm"
	"github.com/soyeahso/shopassist/internal/toolservice"
)

// ToolService is a remote tool endpoint. *toolservice.Manager implements it.
type ToolService interface {
	Name() string
	ListTools(ctx context.Context) ([]domain.ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*toolservice.Result, error)
}

// DuplicateToolError reports two services exposing the same tool name.
type DuplicateToolError struct {
	Name   string
	First  string
	Second string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q is exposed by both %s and %s", e.Name, e.First, e.Second)
}

// Discovered pairs a service with the tools it listed.
type Discovered struct {
	Service ToolService
	Tools   []domain.ToolDescriptor
}

// DispatchTable routes tool names to the service that owns them.
type DispatchTable struct {
	routes map[string]route
	order  []string
}

type route struct {
	service ToolService
	tool    domain.ToolDescriptor
}

// BuildDispatchTable flattens discovered tools into one table. A name
// exposed by more than one service is an error.
func BuildDispatchTable(discovered []Discovered) (*DispatchTable, error) {
	t := &DispatchTable{routes: make(map[string]route)}
	for _, d := range discovered {
		for _, tool := range d.Tools {
			if prev, ok := t.routes[tool.Name]; ok {
				return nil, &DuplicateToolError{
					Name:   tool.Name,
					First:  prev.service.Name(),
					Second: d.Service.Name(),
				}
			}
			t.routes[tool.Name] = route{service: d.Service, tool: tool}
			t.order = append(t.order, tool.Name)
		}
	}
	return t, nil
}

// Lookup returns the service owning name.
func (t *DispatchTable) Lookup(name string) (ToolService, bool) {
	r, ok := t.routes[name]
	return r.service, ok
}

// Descriptor returns the discovered descriptor for name.
func (t *DispatchTable) Descriptor(name string) (domain.ToolDescriptor, bool) {
	r, ok := t.routes[name]
	return r.tool, ok
}

// Has reports whether name is routable.
func (t *DispatchTable) Has(name string) bool {
	_, ok := t.routes[name]
	return ok
}

// Len returns the number of tools.
func (t *DispatchTable) Len() int { return len(t.order) }

// Definitions returns the tools in discovery order for the model.
func (t *DispatchTable) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(t.order))
	for _, name := range t.order {
		tool := t.routes[name].tool
		defs = append(defs, llm.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}
	return defs
}
