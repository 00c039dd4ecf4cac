package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/soyeahso/shopassist/internal/domain"
	"github.com/soyeahso/shopassist/internal/toolservice"
	"github.com/spf13/cobra"
)

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the configured tool services",
	}

	cmd.AddCommand(newToolsListCmd())
	return cmd
}

func newToolsListCmd() *cobra.Command {
	var (
		timeout time.Duration
		schemas bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Connect to every tool service and print its tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig()
			if err != nil {
				return err
			}
			creds, err := toolservice.NewCredentials(cfg.Stores.Profiles, cfg.Stores.Active)
			if err != nil {
				return err
			}
			managers, err := newToolManagers(cfg, creds, nil, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			failed := 0
			for _, m := range managers {
				listCtx, cancel := context.WithTimeout(ctx, timeout)
				tools, err := m.ListTools(listCtx)
				cancel()
				m.Close()

				if err != nil {
					failed++
					fmt.Fprintf(out, "%s: unavailable (%v)\n\n", m.Name(), err)
					continue
				}
				fmt.Fprintf(out, "%s: %d tool(s)\n", m.Name(), len(tools))
				printTools(out, tools, schemas)
				fmt.Fprintln(out)
			}

			if failed == len(managers) {
				return fmt.Errorf("no tool service reachable")
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "per-service discovery timeout")
	cmd.Flags().BoolVar(&schemas, "schemas", false, "print each tool's parameter schema")

	return cmd
}

func printTools(w io.Writer, tools []domain.ToolDescriptor, schemas bool) {
	sorted := append([]domain.ToolDescriptor(nil), tools...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, t := range sorted {
		desc, _, _ := strings.Cut(t.Description, "\n")
		fmt.Fprintf(tw, "  %s\t%s\n", t.Name, desc)
	}
	tw.Flush()

	if !schemas {
		return
	}
	for _, t := range sorted {
		data, err := json.MarshalIndent(t.Parameters, "    ", "  ")
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "\n  %s parameters:\n    %s\n", t.Name, data)
	}
}
