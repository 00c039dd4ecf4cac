package toolservice

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/soyeahso/shopassist/internal/config"
	"github.com/soyeahso/shopassist/internal/domain"
	"github.com/soyeahso/shopassist/internal/metrics"
	"github.com/soyeahso/shopassist/internal/shopdemo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inMemoryDialer(t *testing.T, srv *shopdemo.Server) *MCPDialer {
	t.Helper()
	return NewMCPDialer(func(ctx context.Context) (mcp.Transport, error) {
		clientT, serverT := mcp.NewInMemoryTransports()
		if _, err := srv.MCP().Connect(ctx, serverT, nil); err != nil {
			return nil, err
		}
		return clientT, nil
	})
}

func TestManagerWithShopDemo(t *testing.T) {
	srv := shopdemo.NewServer(shopdemo.SampleCatalog(), silentLog())
	creds, err := NewCredentials(map[string]domain.StoreCredentials{
		"default": {ShopBaseURL: "https://demo.example", ClientID: "id", ClientSecret: "secret"},
	}, "default")
	require.NoError(t, err)

	m := NewManager("shop", inMemoryDialer(t, srv), silentLog(), WithCredentials(creds))
	t.Cleanup(func() { _ = m.Close() })
	ctx := context.Background()

	tools, err := m.ListTools(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(tools))
	for _, td := range tools {
		names = append(names, td.Name)
		assert.Equal(t, "shop", td.Service)
		assert.Equal(t, "object", td.Parameters["type"])
	}
	assert.ElementsMatch(t, []string{
		shopdemo.ToolSearch, shopdemo.ToolDetail, shopdemo.ToolCartAdd,
		shopdemo.ToolCartGet, shopdemo.ToolOrderList,
	}, names)

	res, err := m.CallTool(ctx, shopdemo.ToolSearch, map[string]any{"query": "kettle"})
	require.NoError(t, err)
	var search struct {
		Total   int              `json:"total"`
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.Flatten()), &search))
	assert.Equal(t, 1, search.Total)
	assert.Equal(t, "p-kettle", search.Results[0]["id"])

	_, err = m.CallTool(ctx, shopdemo.ToolCartAdd, map[string]any{"productId": "p-kettle", "swContextToken": "tok-1"})
	require.NoError(t, err)
	assert.Len(t, srv.Cart("tok-1"), 1)

	res, err = m.CallTool(ctx, shopdemo.ToolDetail, map[string]any{"productId": "ghost"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Flatten(), "not found")
}

func TestManagerReconnectsAfterServerSideClose(t *testing.T) {
	srv := shopdemo.NewServer(shopdemo.SampleCatalog(), silentLog())
	m := NewManager("shop", inMemoryDialer(t, srv), silentLog())
	t.Cleanup(func() { _ = m.Close() })
	ctx := context.Background()

	require.NoError(t, m.EnsureConnected(ctx))
	first := m.conn.Load()
	require.NoError(t, first.session.Close())

	res, err := m.CallTool(ctx, shopdemo.ToolOrderList, nil)
	require.NoError(t, err)
	assert.Contains(t, res.Flatten(), `"total":2`)
	assert.NotSame(t, first, m.conn.Load())
}

type countingDialer struct {
	Dialer
	dials atomic.Int32
}

func (d *countingDialer) Dial(ctx context.Context) (Session, error) {
	d.dials.Add(1)
	return d.Dialer.Dial(ctx)
}

func TestManagerSSESessionSurvivesRequest(t *testing.T) {
	srv := shopdemo.NewServer(shopdemo.SampleCatalog(), silentLog())
	ts := httptest.NewServer(srv.SSEHandler())
	t.Cleanup(ts.Close)

	sse, err := NewDialer(config.ToolServiceConfig{Name: "shop", URL: ts.URL, Transport: "sse"})
	require.NoError(t, err)
	d := &countingDialer{Dialer: sse}
	mt := metrics.New()
	m := NewManager("shop", d, silentLog(), WithMetrics(mt))
	t.Cleanup(func() { _ = m.Close() })

	discoverCtx, cancel := context.WithCancel(context.Background())
	tools, err := m.ListTools(discoverCtx)
	require.NoError(t, err)
	require.NotEmpty(t, tools)
	cancel()

	res, err := m.CallTool(context.Background(), shopdemo.ToolOrderList, nil)
	require.NoError(t, err)
	assert.Contains(t, res.Flatten(), `"total":2`)

	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, int32(1), d.dials.Load(), "one session for discovery and the call")
	assert.Zero(t, testutil.CollectAndCount(mt.Reconnects))
}
