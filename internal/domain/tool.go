package domain

// ToolDescriptor describes one callable operation offered by a tool service.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Service     string         `json:"service,omitempty"`
}

// Credential field names injected into tool arguments.
const (
	FieldShopBaseURL  = "shopBaseUrl"
	FieldClientID     = "clientId"
	FieldClientSecret = "clientSecret"
)

// StoreCredentials identify the shop a tool call acts against.
type StoreCredentials struct {
	ShopBaseURL  string `yaml:"shopBaseUrl" json:"shopBaseUrl"`
	ClientID     string `yaml:"clientId" json:"clientId"`
	ClientSecret string `yaml:"clientSecret,omitempty" json:"clientSecret,omitempty"`
}

// Fields returns the credentials as tool argument entries. Empty values are
// omitted.
func (c StoreCredentials) Fields() map[string]any {
	out := make(map[string]any, 3)
	if c.ShopBaseURL != "" {
		out[FieldShopBaseURL] = c.ShopBaseURL
	}
	if c.ClientID != "" {
		out[FieldClientID] = c.ClientID
	}
	if c.ClientSecret != "" {
		out[FieldClientSecret] = c.ClientSecret
	}
	return out
}

// ToolCallResult is the outcome of one tool call, kept only for the request
// that made it. Data is the JSON-decoded Raw payload, or Raw itself when it
// does not decode.
type ToolCallResult struct {
	CallID  string `json:"callId"`
	Name    string `json:"name"`
	Raw     string `json:"raw"`
	Data    any    `json:"data"`
	IsError bool   `json:"isError,omitempty"`
}
