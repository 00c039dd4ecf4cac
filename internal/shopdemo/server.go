package shopdemo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/soyeahso/shopassist/internal/domain"
	"github.com/soyeahso/shopassist/internal/logging"
	"github.com/soyeahso/shopassist/internal/version"
)

// Tool names served by the demo.
const (
	ToolSearch    = "store_product_search"
	ToolDetail    = "store_product_detail"
	ToolCartAdd   = "store_cart_add"
	ToolCartGet   = "store_cart_get"
	ToolOrderList = "store_order_list"
)

const defaultSearchLimit = 10

// LineItem is one cart position.
type LineItem struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type productView struct {
	Product
	Categories []categoryRef `json:"categories,omitempty"`
}

type categoryRef struct {
	Name string `json:"name"`
}

type cartView struct {
	Token    string     `json:"token"`
	Total    int        `json:"total"`
	Elements []LineItem `json:"elements"`
	Price    float64    `json:"price"`
}

// Server serves a Catalog as MCP tools. Carts are kept in memory per
// context token.
type Server struct {
	catalog *Catalog
	log     *logging.Logger
	mcp     *mcp.Server

	mu    sync.Mutex
	carts map[string][]LineItem
}

// NewServer builds the server and registers its tools.
func NewServer(catalog *Catalog, log *logging.Logger) *Server {
	s := &Server{
		catalog: catalog,
		log:     log.Sub("shopdemo"),
		carts:   make(map[string][]LineItem),
		mcp:     mcp.NewServer(&mcp.Implementation{Name: "mcp-shop", Version: version.Version}, nil),
	}
	s.register()
	return s
}

// MCP returns the underlying MCP server.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// Handler serves the tools over streamable HTTP.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
}

// SSEHandler serves the tools over the older HTTP+SSE transport.
func (s *Server) SSEHandler() http.Handler {
	return mcp.NewSSEHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
}

// ServeStdio serves the tools on stdin/stdout until ctx is done or the
// peer disconnects.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

type toolFunc func(ctx context.Context, args map[string]any) (any, error)

func (s *Server) register() {
	str := func(desc string) *jsonschema.Schema { return &jsonschema.Schema{Type: "string", Description: desc} }
	integer := func(desc string) *jsonschema.Schema { return &jsonschema.Schema{Type: "integer", Description: desc} }

	s.add(&mcp.Tool{
		Name:        ToolSearch,
		Description: "Search the product catalog by free text. Returns total and results.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"query": str("Search terms"),
				"limit": integer("Maximum number of results"),
			},
			Required: []string{"query"},
		},
	}, s.search)

	s.add(&mcp.Tool{
		Name:        ToolDetail,
		Description: "Fetch one product with its categories.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{"productId": str("Product id")},
			Required:   []string{"productId"},
		},
	}, s.detail)

	s.add(&mcp.Tool{
		Name:        ToolCartAdd,
		Description: "Add a product to the shopper's cart.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"productId": str("Product id"),
				"quantity":  integer("Quantity, defaults to 1"),
			},
			Required: []string{"productId"},
		},
	}, s.cartAdd)

	s.add(&mcp.Tool{
		Name:        ToolCartGet,
		Description: "Show the shopper's cart.",
		InputSchema: &jsonschema.Schema{Type: "object", Properties: map[string]*jsonschema.Schema{}},
	}, s.cartGet)

	s.add(&mcp.Tool{
		Name:        ToolOrderList,
		Description: "List the shopper's past orders.",
		InputSchema: &jsonschema.Schema{Type: "object", Properties: map[string]*jsonschema.Schema{}},
	}, s.orderList)
}

// add registers fn with raw argument decoding. Callers inject credential
// and context fields the schemas do not declare, so arguments are not
// validated strictly here.
func (s *Server) add(tool *mcp.Tool, fn toolFunc) {
	s.mcp.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := map[string]any{}
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}
		s.log.Debug().Str("tool", tool.Name).Any("shop", args[domain.FieldShopBaseURL]).Msg("tool call")

		out, err := fn(ctx, args)
		if err != nil {
			return errorResult(err), nil
		}
		b, err := json.Marshal(out)
		if err != nil {
			return nil, err
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(b)}}}, nil
	})
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}

func (s *Server) search(_ context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	limit := intArg(args, "limit", defaultSearchLimit)

	found := s.catalog.Search(query, limit)
	results := make([]productView, len(found))
	for i, p := range found {
		results[i] = productView{Product: p}
	}
	return map[string]any{"total": len(results), "results": results}, nil
}

func (s *Server) detail(_ context.Context, args map[string]any) (any, error) {
	id, _ := args["productId"].(string)
	p, ok := s.catalog.Product(id)
	if !ok {
		return nil, fmt.Errorf("product %q not found", id)
	}
	v := productView{Product: p}
	if p.Category != "" {
		v.Categories = []categoryRef{{Name: p.Category}}
	}
	return v, nil
}

func (s *Server) cartAdd(_ context.Context, args map[string]any) (any, error) {
	id, _ := args["productId"].(string)
	p, ok := s.catalog.Product(id)
	if !ok {
		return nil, fmt.Errorf("product %q not found", id)
	}
	qty := intArg(args, "quantity", 1)
	if qty < 1 {
		return nil, fmt.Errorf("quantity must be positive, got %d", qty)
	}

	token := cartToken(args)
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.carts[token]
	found := false
	for i := range items {
		if items[i].ProductID == id {
			items[i].Quantity += qty
			found = true
			break
		}
	}
	if !found {
		items = append(items, LineItem{ProductID: p.ID, Name: p.Name, Quantity: qty, Price: p.Price})
	}
	s.carts[token] = items
	return viewCart(token, items), nil
}

func (s *Server) cartGet(_ context.Context, args map[string]any) (any, error) {
	token := cartToken(args)
	s.mu.Lock()
	defer s.mu.Unlock()
	return viewCart(token, s.carts[token]), nil
}

func (s *Server) orderList(context.Context, map[string]any) (any, error) {
	orders := s.catalog.Orders
	if orders == nil {
		orders = []Order{}
	}
	return map[string]any{"total": len(orders), "elements": orders}, nil
}

// Cart returns a copy of the cart for token.
func (s *Server) Cart(token string) []LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LineItem(nil), s.carts[token]...)
}

func viewCart(token string, items []LineItem) cartView {
	v := cartView{Token: token, Total: len(items), Elements: append([]LineItem{}, items...)}
	for _, it := range items {
		v.Price += it.Price * float64(it.Quantity)
	}
	return v
}

func cartToken(args map[string]any) string {
	if t, _ := args[domain.FieldContextToken].(string); t != "" {
		return t
	}
	return "default"
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}
