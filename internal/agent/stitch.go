package agent

import (
	"github.com/soyeahso/shopassist/internal/config"
	"github.com/soyeahso/shopassist/internal/domain"
)

// CapturedResults holds the tool results of one request, keyed by tool
// name, and remembers execution order.
type CapturedResults struct {
	byName map[string]domain.ToolCallResult
	order  []string
}

// NewCapturedResults returns an empty set.
func NewCapturedResults() *CapturedResults {
	return &CapturedResults{byName: make(map[string]domain.ToolCallResult)}
}

// Put records a result. A later result for the same tool replaces the
// earlier one and becomes the most recent.
func (c *CapturedResults) Put(r domain.ToolCallResult) {
	c.byName[r.Name] = r
	c.order = append(c.order, r.Name)
}

// Result returns the full record for name.
func (c *CapturedResults) Result(name string) (domain.ToolCallResult, bool) {
	if c == nil {
		return domain.ToolCallResult{}, false
	}
	r, ok := c.byName[name]
	return r, ok
}

// Get returns the decoded data for name.
func (c *CapturedResults) Get(name string) (any, bool) {
	r, ok := c.Result(name)
	return r.Data, ok
}

// Latest returns the most recently recorded tool and its data.
func (c *CapturedResults) Latest() (string, any, bool) {
	if c == nil || len(c.order) == 0 {
		return "", nil, false
	}
	name := c.order[len(c.order)-1]
	return name, c.byName[name].Data, true
}

// Len returns the number of distinct tools captured.
func (c *CapturedResults) Len() int {
	if c == nil {
		return 0
	}
	return len(c.byName)
}

// SourceTool returns the canonical tool whose result backs a response
// type. Text and unknown types have none.
func SourceTool(t domain.ResponseType, tools config.ToolsConfig) (string, bool) {
	switch t {
	case domain.ResponseProductList:
		return tools.Search, true
	case domain.ResponseProductDetail:
		return tools.Detail, true
	case domain.ResponseCartList:
		return tools.CartGet, true
	case domain.ResponseOrderList:
		return tools.OrderList, true
	}
	return "", false
}

// Stitch attaches the captured tool result matching the response type as
// its data. When the canonical tool did not run, the most recent result of
// any tool is used instead; this fallback can pick an unrelated payload
// when several tools ran. Text and unknown types keep model data, or get
// null. Unknown types are reported as text.
func Stitch(resp domain.StructuredResponse, captured *CapturedResults, tools config.ToolsConfig) domain.StructuredResponse {
	return stitch(parsedResponse{StructuredResponse: resp, hasData: resp.Data != nil}, captured, tools)
}

func stitch(p parsedResponse, captured *CapturedResults, tools config.ToolsConfig) domain.StructuredResponse {
	resp := p.StructuredResponse

	if source, ok := SourceTool(resp.Type, tools); ok {
		if data, found := captured.Get(source); found {
			resp.Data = data
		} else if _, data, found := captured.Latest(); found {
			resp.Data = data
		}
	} else if !p.hasData {
		resp.Data = nil
	}

	if !resp.Type.Known() {
		resp.Type = domain.ResponseText
	}
	return resp
}
