package toolservice

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/soyeahso/shopassist/internal/domain"
)

// Credentials holds the configured store profiles and which one is active.
// The active profile is injected into every tool call.
type Credentials struct {
	mu       sync.RWMutex
	profiles map[string]domain.StoreCredentials
	active   string
}

// NewCredentials returns a set with active selected.
func NewCredentials(profiles map[string]domain.StoreCredentials, active string) (*Credentials, error) {
	if _, ok := profiles[active]; !ok {
		return nil, fmt.Errorf("store profile %q is not defined", active)
	}
	return &Credentials{profiles: maps.Clone(profiles), active: active}, nil
}

// Active returns the active profile name and its credentials.
func (c *Credentials) Active() (string, domain.StoreCredentials) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active, c.profiles[c.active]
}

// Use switches the active profile.
func (c *Credentials) Use(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.profiles[name]; !ok {
		return fmt.Errorf("store profile %q is not defined", name)
	}
	c.active = name
	return nil
}

// Profile looks up a profile by name.
func (c *Credentials) Profile(name string) (domain.StoreCredentials, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[name]
	return p, ok
}

// Names returns the profile names, sorted.
func (c *Credentials) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.profiles))
}

// activeFields is nil-safe so a Manager can run without credentials.
func (c *Credentials) activeFields() map[string]any {
	if c == nil {
		return nil
	}
	_, p := c.Active()
	return p.Fields()
}

// MergeArguments returns a copy of args with each key from extras added
// when args does not already have it. Earlier extras take precedence over
// later ones. args itself is never modified.
func MergeArguments(args map[string]any, extras ...map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	maps.Copy(out, args)
	for _, extra := range extras {
		for k, v := range extra {
			if _, exists := out[k]; !exists {
				out[k] = v
			}
		}
	}
	return out
}
