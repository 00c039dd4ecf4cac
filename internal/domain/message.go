package domain

// ResponseType classifies a structured response for the client UI.
type ResponseType string

const (
	ResponseText          ResponseType = "text"
	ResponseProductList   ResponseType = "product_list"
	ResponseProductDetail ResponseType = "product_detail"
	ResponseOrderList     ResponseType = "order_list"
	ResponseCartList      ResponseType = "cart_list"
)

// Known reports whether t is one of the declared response types.
func (t ResponseType) Known() bool {
	switch t {
	case ResponseText, ResponseProductList, ResponseProductDetail, ResponseOrderList, ResponseCartList:
		return true
	}
	return false
}

// IsList reports whether t is a list view, which ends any item focus.
func (t ResponseType) IsList() bool {
	return t == ResponseProductList || t == ResponseOrderList || t == ResponseCartList
}

// StructuredResponse is the typed answer produced for every chat turn.
// Suggestions and Data serialize as null when unset.
type StructuredResponse struct {
	Message     string       `json:"message"`
	Type        ResponseType `json:"type"`
	Suggestions []string     `json:"suggestions"`
	Data        any          `json:"data"`
}

// FocusContext is the page focus reported by the client. A present
// FocusContext with an empty EntityID means the user has no focus.
type FocusContext struct {
	EntityID   string `json:"entityId,omitempty"`
	EntityName string `json:"entityName,omitempty"`
}

// Request-scoped context field names shared with tool services.
const (
	FieldAccessKey    = "swAccessKey"
	FieldContextToken = "swContextToken"
	FieldShopURL      = "shopUrl"
)

// ChatRequest is an inbound chat message.
type ChatRequest struct {
	Message      string        `json:"message"`
	SessionToken string        `json:"swContextToken,omitempty"`
	AccessKey    string        `json:"swAccessKey,omitempty"`
	ShopURL      string        `json:"shopUrl,omitempty"`
	Store        string        `json:"store,omitempty"`
	Focus        *FocusContext `json:"focus,omitempty"`
}

// ContextFields returns the non-empty request-scoped fields that are merged
// into tool arguments and echoed back to the caller.
func (r ChatRequest) ContextFields() map[string]any {
	out := make(map[string]any, 3)
	if r.AccessKey != "" {
		out[FieldAccessKey] = r.AccessKey
	}
	if r.SessionToken != "" {
		out[FieldContextToken] = r.SessionToken
	}
	if r.ShopURL != "" {
		out[FieldShopURL] = r.ShopURL
	}
	return out
}

// ChatResponse is a StructuredResponse plus the context the caller should
// send back on its next turn.
type ChatResponse struct {
	StructuredResponse
	Context map[string]any `json:"context"`
}
