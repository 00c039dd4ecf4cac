package toolservice

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ContentKind tags a Content item.
type ContentKind int

const (
	ContentText ContentKind = iota
	ContentStructured
	ContentOther
)

func (k ContentKind) String() string {
	switch k {
	case ContentText:
		return "text"
	case ContentStructured:
		return "structured"
	default:
		return "other"
	}
}

// Content is one item of a tool result, resolved from the wire shape once
// at the connection boundary.
type Content struct {
	Kind     ContentKind
	Text     string // ContentText
	Data     any    // ContentStructured
	MIMEType string // ContentOther
}

// Result is the outcome of a remote tool call. IsError marks a tool-side
// failure that was reported as content rather than as a protocol error.
type Result struct {
	Items   []Content
	IsError bool
}

// TextResult builds a single-item text Result.
func TextResult(text string) *Result {
	return &Result{Items: []Content{{Kind: ContentText, Text: text}}}
}

// Flatten renders the result as one string. Text items are joined by
// newlines; structured data is used only when no text is present.
func (r *Result) Flatten() string {
	if r == nil {
		return ""
	}

	var texts, others []string
	var structured any
	for _, c := range r.Items {
		switch c.Kind {
		case ContentText:
			texts = append(texts, c.Text)
		case ContentStructured:
			if structured == nil {
				structured = c.Data
			}
		default:
			others = append(others, fmt.Sprintf("[%s content omitted]", orUnknown(c.MIMEType)))
		}
	}

	if len(texts) == 0 && structured != nil {
		if b, err := json.Marshal(structured); err == nil {
			texts = append(texts, string(b))
		}
	}
	return strings.Join(append(texts, others...), "\n")
}

func orUnknown(s string) string {
	if s == "" {
		return "binary"
	}
	return s
}
