package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/soyeahso/shopassist/internal/domain"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	var (
		session   string
		focusID   string
		focusName string
		storeName string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Run one chat turn locally and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := buildStack(ctx, cfg, log, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			req := domain.ChatRequest{
				Message:      strings.Join(args, " "),
				SessionToken: session,
				Store:        storeName,
			}
			if cmd.Flags().Changed("focus-id") {
				req.Focus = &domain.FocusContext{EntityID: focusID, EntityName: focusName}
			}

			resp, err := s.runner.Chat(ctx, req)
			if resp != nil {
				if perr := printChatResponse(cmd, resp, asJSON); perr != nil {
					return perr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "session token (default: the anonymous session)")
	cmd.Flags().StringVar(&focusID, "focus-id", "", "entity the user is looking at; empty clears the focus")
	cmd.Flags().StringVar(&focusName, "focus-name", "", "display name of --focus-id")
	cmd.Flags().StringVar(&storeName, "store", "", "store profile for this turn")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full JSON response")

	return cmd
}

func printChatResponse(cmd *cobra.Command, resp *domain.ChatResponse, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	fmt.Fprintln(out, resp.Message)
	if resp.Data != nil {
		fmt.Fprintf(out, "\n[type=%s]\n", resp.Type)
		if summary := summarizeData(resp.Data); summary != "" {
			fmt.Fprintln(out, summary)
		}
	}
	for _, s := range resp.Suggestions {
		fmt.Fprintf(out, "  > %s\n", s)
	}
	return nil
}

// summarizeData lists the items a UI would render, one per line.
func summarizeData(data any) string {
	m, ok := data.(map[string]any)
	if !ok {
		return ""
	}
	var items []any
	for _, key := range []string{"results", "elements", "products", "items"} {
		if list, ok := m[key].([]any); ok {
			items = list
			break
		}
	}
	if items == nil {
		if _, ok := m["id"]; ok {
			items = []any{m}
		}
	}

	var b strings.Builder
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		name, _ := obj["name"].(string)
		fmt.Fprintf(&b, "  - %s (%v)", name, obj["id"])
		if price, ok := obj["price"]; ok {
			fmt.Fprintf(&b, " %v", price)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
