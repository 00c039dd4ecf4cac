package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/soyeahso/shopassist/internal/config"
)

const defaultCommandTimeout = 10 * time.Second

// CommandHandler runs a shell command with the JSON payload on stdin.
// A non-zero exit is reported as an error with the command's stderr.
func CommandHandler(entry config.HookEntry) Handler {
	timeout := defaultCommandTimeout
	if entry.Timeout > 0 {
		timeout = time.Duration(entry.Timeout) * time.Second
	}

	return func(ctx context.Context, p Payload) error {
		body, err := json.Marshal(p)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, "sh", "-c", entry.Command)
		cmd.Stdin = bytes.NewReader(body)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		cmd.Env = append(cmd.Environ(), "SHOPASSIST_EVENT="+p.Event)
		cmd.WaitDelay = time.Second

		if err := cmd.Run(); err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return fmt.Errorf("hook %q: %w: %s", entry.Command, err, msg)
			}
			return fmt.Errorf("hook %q: %w", entry.Command, err)
		}
		return nil
	}
}

// RegisterConfig installs command hooks for every configured event and
// returns how many were registered.
func (m *Manager) RegisterConfig(cfg config.HooksConfig) int {
	byEvent := map[string][]config.HookEntry{
		EventChatReceived:  cfg.ChatReceived,
		EventChatCompleted: cfg.ChatCompleted,
		EventToolCalled:    cfg.ToolCalled,
		EventCrossSell:     cfg.CrossSell,
		EventGatewayStart:  cfg.GatewayStart,
		EventGatewayStop:   cfg.GatewayStop,
	}

	n := 0
	for _, event := range AllEvents {
		for i, entry := range byEvent[event] {
			if strings.TrimSpace(entry.Command) == "" {
				continue
			}
			m.On(event, fmt.Sprintf("config:%s:%d", event, i), CommandHandler(entry))
			n++
		}
	}
	return n
}
