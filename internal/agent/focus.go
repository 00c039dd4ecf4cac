package agent

import (
	"fmt"
	"strings"

	"github.com/soyeahso/shopassist/internal/domain"
)

// displayedLimit caps how many items the history summary lists.
const displayedLimit = 3

// listKeys are the payload fields that hold item arrays.
var listKeys = []string{"results", "elements", "products"}

// focusFromRequest applies the explicit page focus sent by the client.
// It reports false when the request says nothing about focus.
func focusFromRequest(f *domain.FocusContext) (*domain.ActiveEntity, bool) {
	if f == nil {
		return nil, false
	}
	if strings.TrimSpace(f.EntityID) == "" {
		return nil, true
	}
	return &domain.ActiveEntity{ID: f.EntityID, Name: f.EntityName}, true
}

// focusFromResponse derives the focus change implied by a finished turn.
// A detail view focuses its entity, a list view clears focus, anything
// else leaves focus alone.
func focusFromResponse(resp domain.StructuredResponse) (*domain.ActiveEntity, bool) {
	switch {
	case resp.Type == domain.ResponseProductDetail:
		e, ok := entityOf(resp.Data)
		if !ok {
			return nil, false
		}
		return &e, true
	case resp.Type.IsList():
		return nil, true
	}
	return nil, false
}

// entityOf reads id and name from a single-item payload. A Shopware-style
// wrapper {"product": {...}} is unwrapped.
func entityOf(data any) (domain.ActiveEntity, bool) {
	m, ok := data.(map[string]any)
	if !ok {
		return domain.ActiveEntity{}, false
	}
	if inner, ok := m["product"].(map[string]any); ok {
		m = inner
	}
	id := stringField(m, "id", "productId")
	if id == "" {
		return domain.ActiveEntity{}, false
	}
	return domain.ActiveEntity{ID: id, Name: stringField(m, "name", "translated.name")}, true
}

// displayedItems lists up to n items from a list or single-item payload.
func displayedItems(data any, n int) []domain.ActiveEntity {
	m, ok := data.(map[string]any)
	if !ok {
		if arr, ok := data.([]any); ok {
			return itemsOf(arr, n)
		}
		return nil
	}
	for _, key := range listKeys {
		if arr, ok := m[key].([]any); ok {
			return itemsOf(arr, n)
		}
	}
	if e, ok := entityOf(m); ok {
		return []domain.ActiveEntity{e}
	}
	return nil
}

func itemsOf(arr []any, n int) []domain.ActiveEntity {
	var out []domain.ActiveEntity
	for _, v := range arr {
		if len(out) == n {
			break
		}
		if e, ok := entityOf(v); ok {
			out = append(out, e)
		}
	}
	return out
}

// displayedSummary renders the history trailer for items shown to the
// user, so later turns can refer back to them by position.
func displayedSummary(data any) string {
	items := displayedItems(data, displayedLimit)
	if len(items) == 0 {
		return ""
	}
	parts := make([]string, len(items))
	for i, e := range items {
		parts[i] = fmt.Sprintf("%s (ID: %s)", e.Name, e.ID)
	}
	return "[Displayed: " + strings.Join(parts, " | ") + "]"
}

// stringField returns the first non-empty string among keys. A dotted key
// descends one level into a nested object.
func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if head, tail, ok := strings.Cut(k, "."); ok {
			if inner, ok := m[head].(map[string]any); ok {
				if s := stringField(inner, tail); s != "" {
					return s
				}
			}
			continue
		}
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}
