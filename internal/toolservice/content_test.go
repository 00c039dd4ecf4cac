package toolservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/soyeahso/shopassist/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultFlatten(t *testing.T) {
	tests := []struct {
		name string
		res  *Result
		want string
	}{
		{"nil", nil, ""},
		{"single text", TextResult(`{"total":1}`), `{"total":1}`},
		{"joined text", &Result{Items: []Content{
			{Kind: ContentText, Text: "a"},
			{Kind: ContentText, Text: "b"},
		}}, "a\nb"},
		{"structured only", &Result{Items: []Content{
			{Kind: ContentStructured, Data: map[string]any{"total": 0}},
		}}, `{"total":0}`},
		{"text wins over structured", &Result{Items: []Content{
			{Kind: ContentText, Text: "txt"},
			{Kind: ContentStructured, Data: map[string]any{"x": 1}},
		}}, "txt"},
		{"other content", &Result{Items: []Content{
			{Kind: ContentText, Text: "photo:"},
			{Kind: ContentOther, MIMEType: "image/png"},
		}}, "photo:\n[image/png content omitted]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.res.Flatten())
		})
	}
}

func TestContentKindString(t *testing.T) {
	assert.Equal(t, "text", ContentText.String())
	assert.Equal(t, "structured", ContentStructured.String())
	assert.Equal(t, "other", ContentOther.String())
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"wrapped eof", fmt.Errorf("reading frame: %w", io.ErrUnexpectedEOF), true},
		{"net closed", net.ErrClosed, true},
		{"reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, true},
		{"broken pipe text", errors.New("write: broken pipe"), true},
		{"closed text", errors.New("connection closed"), true},
		{"not connected", ErrNotConnected, true},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("x: %w", context.DeadlineExceeded), false},
		{"validation", errors.New(`invalid params: "productId" is required`), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConnectionError(tt.err))
		})
	}
}

func TestCredentials(t *testing.T) {
	_, err := NewCredentials(map[string]domain.StoreCredentials{}, "default")
	require.Error(t, err)

	creds, err := NewCredentials(map[string]domain.StoreCredentials{
		"eu": {ShopBaseURL: "https://eu.example"},
		"us": {ShopBaseURL: "https://us.example"},
	}, "eu")
	require.NoError(t, err)

	name, p := creds.Active()
	assert.Equal(t, "eu", name)
	assert.Equal(t, "https://eu.example", p.ShopBaseURL)

	require.NoError(t, creds.Use("us"))
	assert.Equal(t, map[string]any{"shopBaseUrl": "https://us.example"}, creds.activeFields())
	assert.Error(t, creds.Use("apac"))
	assert.Equal(t, []string{"eu", "us"}, creds.Names())

	_, ok := creds.Profile("eu")
	assert.True(t, ok)

	var none *Credentials
	assert.Nil(t, none.activeFields())
}

func TestMergeArguments(t *testing.T) {
	args := map[string]any{"query": "kettle", "shopUrl": "caller"}
	got := MergeArguments(args,
		map[string]any{"shopUrl": "request", "swAccessKey": "key"},
		map[string]any{"swAccessKey": "profile", "clientId": "cid"},
	)
	assert.Equal(t, map[string]any{
		"query":       "kettle",
		"shopUrl":     "caller",
		"swAccessKey": "key",
		"clientId":    "cid",
	}, got)
	assert.Len(t, args, 2)

	assert.Equal(t, map[string]any{"a": 1}, MergeArguments(nil, map[string]any{"a": 1}))
}
