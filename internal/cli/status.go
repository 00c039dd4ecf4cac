package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/soyeahso/shopassist/internal/config"
	"github.com/soyeahso/shopassist/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show shopassist status and configuration summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "shopassist %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(out)

			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "Config:  not found (using defaults and environment)")
			}
			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}

			fmt.Fprintf(out, "Gateway: port=%d bind=%s metrics=%v\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.MetricsEnabled())

			models := append([]string{cfg.LLM.Model}, cfg.LLM.Fallbacks...)
			fmt.Fprintf(out, "LLM:     provider=%s models=%s key=%s\n",
				cfg.LLM.Provider, strings.Join(models, ","), redact(cfg.LLM.APIKey))

			for _, ts := range cfg.ToolServices {
				target := ts.URL
				if ts.Transport == "stdio" {
					target = strings.TrimSpace(ts.Command + " " + strings.Join(ts.Args, " "))
				}
				fmt.Fprintf(out, "Tools:   %s %s %s\n", ts.Name, ts.Transport, target)
			}

			if p, ok := cfg.Stores.Profiles[cfg.Stores.Active]; ok {
				fmt.Fprintf(out, "Store:   %s %s (%d profile(s))\n", cfg.Stores.Active, p.ShopBaseURL, len(cfg.Stores.Profiles))
			} else {
				fmt.Fprintf(out, "Store:   %q (not defined)\n", cfg.Stores.Active)
			}

			fmt.Fprintf(out, "Session: store=%s historyLimit=%d\n", cfg.Session.Store, cfg.Session.HistoryLimit)
			fmt.Fprintf(out, "Cross:   enabled=%v qualifier=%q limit=%d\n",
				cfg.CrossSell.IsEnabled(), cfg.CrossSell.Qualifier, cfg.CrossSell.Limit)

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}

// redact keeps the last four characters of a secret.
func redact(secret string) string {
	if secret == "" {
		return "(unset)"
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
