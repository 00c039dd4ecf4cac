package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/soyeahso/shopassist/internal/domain"
)

// fenceRe matches a reply wrapped in a ``` or ```json code fence.
var fenceRe = regexp.MustCompile("(?s)^```(?:json|JSON)?\\s*\n?(.*?)\\s*```$")

// parsedResponse is a decoded final answer. hasData records whether the
// model supplied a data key at all.
type parsedResponse struct {
	domain.StructuredResponse
	hasData bool
}

// ParseResponse decodes the model's final answer. Anything that is not a
// JSON object with a string message becomes a plain text response carrying
// the raw content.
func ParseResponse(content string) domain.StructuredResponse {
	return parseResponse(content).StructuredResponse
}

func parseResponse(content string) parsedResponse {
	fallback := parsedResponse{StructuredResponse: domain.StructuredResponse{
		Message: content,
		Type:    domain.ResponseText,
	}}

	body := strings.TrimSpace(content)
	if m := fenceRe.FindStringSubmatch(body); m != nil {
		body = m[1]
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return fallback
	}
	rawMsg, ok := raw["message"]
	if !ok || string(rawMsg) == "null" {
		return fallback
	}
	var msg string
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		return fallback
	}

	out := parsedResponse{StructuredResponse: domain.StructuredResponse{
		Message: msg,
		Type:    domain.ResponseText,
	}}

	var typ string
	if json.Unmarshal(raw["type"], &typ) == nil && typ != "" {
		out.Type = domain.ResponseType(typ)
	}

	var suggestions []any
	if json.Unmarshal(raw["suggestions"], &suggestions) == nil {
		for _, s := range suggestions {
			if str, ok := s.(string); ok {
				out.Suggestions = append(out.Suggestions, str)
			}
		}
	}

	if data, ok := raw["data"]; ok {
		out.hasData = true
		_ = json.Unmarshal(data, &out.Data)
	}
	return out
}
