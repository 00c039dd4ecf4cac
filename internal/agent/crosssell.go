package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/soyeahso/shopassist/internal/domain"
	"github.com/soyeahso/shopassist/internal/hooks"
	"github.com/soyeahso/shopassist/internal/llm"
)

// Cross-sell outcomes, as recorded in metrics and hook payloads.
const (
	crossSellSuggested   = "suggested"
	crossSellCartFailed  = "cart_add_failed"
	crossSellNoProduct   = "no_product"
	crossSellNoCategory  = "no_category"
	crossSellNoSearch    = "no_search"
	crossSellNoResults   = "no_results"
	crossSellSearchError = "error"
	crossSellPanic       = "panic"
)

// zeroTotalRe spots a zero total in payloads that did not decode.
var zeroTotalRe = regexp.MustCompile(`"total"\s*:\s*0\s*[,}]`)

// crossSellFallbackIDKeys are tried after the configured id argument.
var crossSellFallbackIDKeys = []string{"id", "product_id"}

// crossSell looks for a cart-add among calls and, if the last one
// succeeded, searches for
// related items in the added product's category. On success the search
// result is captured under the search tool's name and a system note for
// the second exchange is returned. It never fails the request.
func (e *Engine) crossSell(ctx context.Context, table *DispatchTable, calls []llm.ToolCall, captured *CapturedResults, in TurnInput) (note string, ok bool) {
	if !e.cfg.CrossSell.IsEnabled() {
		return "", false
	}
	var add *llm.ToolCall
	for i := range calls {
		if calls[i].Name == e.cfg.Tools.CartAdd {
			add = &calls[i]
		}
	}
	if add == nil {
		return "", false
	}

	outcome := crossSellPanic
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Msg("cross-sell panicked")
			note, ok = "", false
		}
		e.metrics.CrossSellOutcome(outcome)
		e.hooks.EmitAsync(ctx, hooks.EventCrossSell, map[string]any{
			"sessionId": in.SessionID,
			"outcome":   outcome,
		})
	}()

	outcome, note = e.runCrossSell(ctx, table, *add, captured, in)
	e.log.Debug().Str("outcome", outcome).Msg("cross-sell finished")
	return note, outcome == crossSellSuggested
}

func (e *Engine) runCrossSell(ctx context.Context, table *DispatchTable, add llm.ToolCall, captured *CapturedResults, in TurnInput) (string, string) {
	cs := e.cfg.CrossSell
	tools := e.cfg.Tools

	// Nothing was added, so there is nothing to suggest accessories for.
	if r, ok := captured.Result(add.Name); ok && r.CallID == add.ID && r.IsError {
		return crossSellCartFailed, ""
	}

	args, err := decodeArguments(add.Input)
	if err != nil {
		return crossSellNoProduct, ""
	}
	productID := stringField(args, append([]string{cs.IDArgument}, crossSellFallbackIDKeys...)...)
	if productID == "" {
		return crossSellNoProduct, ""
	}

	category := e.lookupCategory(ctx, table, productID, in)
	if category == "" {
		return crossSellNoCategory, ""
	}

	svc, ok := table.Lookup(tools.Search)
	if !ok {
		return crossSellNoSearch, ""
	}
	query := strings.TrimSpace(category + " " + cs.Qualifier)
	res, err := e.invoke(ctx, svc, tools.Search, map[string]any{
		cs.QueryArgument: query,
		"limit":          cs.Limit,
	}, in)
	if err != nil {
		e.log.Warn().Err(err).Str("query", query).Msg("cross-sell search failed")
		return crossSellSearchError, ""
	}
	if res.IsError {
		e.log.Warn().Str("result", res.Flatten()).Msg("cross-sell search returned an error")
		return crossSellSearchError, ""
	}

	raw := res.Flatten()
	data := decodeResult(raw)
	if isEmptyResult(raw, data) {
		return crossSellNoResults, ""
	}

	captured.Put(domain.ToolCallResult{Name: tools.Search, Raw: raw, Data: data})
	return crossSellSuggested, crossSellNote(productID, category, data, cs.Limit)
}

// lookupCategory fetches the product detail and reads its category. Any
// failure means no category.
func (e *Engine) lookupCategory(ctx context.Context, table *DispatchTable, productID string, in TurnInput) string {
	svc, ok := table.Lookup(e.cfg.Tools.Detail)
	if !ok {
		return ""
	}
	res, err := e.invoke(ctx, svc, e.cfg.Tools.Detail, map[string]any{e.cfg.CrossSell.IDArgument: productID}, in)
	if err != nil {
		e.log.Warn().Err(err).Str("productId", productID).Msg("cross-sell detail lookup failed")
		return ""
	}
	if res.IsError {
		return ""
	}
	return categoryOf(decodeResult(res.Flatten()))
}

// categoryOf reads a category name from a product payload: a "category"
// string, the first of "categories", or "categoryName".
func categoryOf(data any) string {
	m, ok := data.(map[string]any)
	if !ok {
		return ""
	}
	if inner, ok := m["product"].(map[string]any); ok {
		m = inner
	}
	if c := stringField(m, "category"); c != "" {
		return c
	}
	if cats, ok := m["categories"].([]any); ok && len(cats) > 0 {
		if first, ok := cats[0].(map[string]any); ok {
			if c := stringField(first, "name", "translated.name"); c != "" {
				return c
			}
		}
	}
	return stringField(m, "categoryName")
}

// isEmptyResult reports whether a search payload found nothing.
func isEmptyResult(raw string, data any) bool {
	switch v := data.(type) {
	case []any:
		return len(v) == 0
	case map[string]any:
		if total, ok := v["total"].(float64); ok && total == 0 {
			return true
		}
		for _, key := range listKeys {
			if arr, ok := v[key].([]any); ok {
				return len(arr) == 0
			}
		}
		return false
	case string:
		return strings.TrimSpace(v) == "" || zeroTotalRe.MatchString(v)
	}
	return zeroTotalRe.MatchString(raw)
}

func crossSellNote(productID, category string, data any, limit int) string {
	items := displayedItems(data, max(limit, 1))
	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, fmt.Sprintf("%s (ID: %s)", it.Name, it.ID))
	}
	found := "see the search result"
	if len(names) > 0 {
		found = strings.Join(names, ", ")
	} else if b, err := json.Marshal(data); err == nil {
		found = string(b)
	}
	return fmt.Sprintf("The product %s was added to the cart. Related items from the %q category were found: %s. "+
		"Confirm the cart update, briefly recommend these items, and set the response type to product_list.",
		productID, category, found)
}
