package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/shopassist/internal/config"
	"github.com/soyeahso/shopassist/internal/domain"
)

// PromptConfig controls system prompt generation.
type PromptConfig struct {
	Tools       config.ToolsConfig
	ExtraPrompt string
	Now         func() time.Time
}

// BuildSystemPrompt constructs the built-in shopping assistant instructions.
func BuildSystemPrompt(cfg PromptConfig) string {
	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}
	t := cfg.Tools

	var b strings.Builder
	b.WriteString("You are a customer support agent for an online store. ")
	b.WriteString("You help shoppers find products, manage their cart and check their orders.\n")
	fmt.Fprintf(&b, "Current date: %s\n\n", now().Format("2006-01-02"))

	b.WriteString("Guidelines:\n")
	b.WriteString("- Never invent product names, prices or ids. Only use data returned by tools.\n")
	b.WriteString("- If a tool returns nothing or an error, say you could not find anything.\n")
	fmt.Fprintf(&b, "- To answer questions about one product, find its id in the conversation "+
		"(look for the \"[Displayed: ...]\" summaries) or call %s first, then call %s.\n", t.Search, t.Detail)
	fmt.Fprintf(&b, "- To add to the cart, resolve the product id and call %s right away.\n", t.CartAdd)
	b.WriteString("- Never list more than 3 products or orders.\n\n")

	b.WriteString("Output format:\n")
	b.WriteString("When you give your final answer, reply with one JSON object:\n")
	b.WriteString(`{"message": "short conversational answer", "type": "text" | "product_list" | "product_detail" | "order_list" | "cart_list", "suggestions": ["optional follow-up"]}`)
	b.WriteString("\nDo not include a data field. It is attached automatically from the type you choose:\n")
	fmt.Fprintf(&b, "- product_list: results of %s\n", t.Search)
	fmt.Fprintf(&b, "- product_detail: result of %s\n", t.Detail)
	fmt.Fprintf(&b, "- cart_list: result of %s\n", t.CartGet)
	fmt.Fprintf(&b, "- order_list: result of %s\n", t.OrderList)
	b.WriteString("If nothing was found use type text.\n")

	if cfg.ExtraPrompt != "" {
		b.WriteString("\n")
		b.WriteString(cfg.ExtraPrompt)
		b.WriteString("\n")
	}
	return b.String()
}

// activeEntityNote is the transient system turn placed in front of the
// history while the session is focused on an entity.
func activeEntityNote(e *domain.ActiveEntity, detailTool string) string {
	name := e.Name
	if name == "" {
		name = "unnamed item"
	}
	return fmt.Sprintf("The user is currently looking at %s (ID: %s). Its full details are not loaded yet. "+
		"Before answering any question about its attributes (price, stock, description, variants), "+
		"call %s with productId %q.", name, e.ID, detailTool, e.ID)
}
