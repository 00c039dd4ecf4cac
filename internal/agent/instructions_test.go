package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/soyeahso/shopassist/internal/config"
	"github.com/soyeahso/shopassist/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestStaticInstructions(t *testing.T) {
	assert.Equal(t, "be nice", StaticInstructions("be nice").Text())
}

func TestLoadFileInstructions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.md")
	writeFile(t, path, "  Answer in JSON.\n\n")

	fi, err := LoadFileInstructions(path, silentLog())
	require.NoError(t, err)
	assert.Equal(t, "Answer in JSON.", fi.Text())

	writeFile(t, path, "   ")
	assert.Error(t, fi.Reload())
	assert.Equal(t, "Answer in JSON.", fi.Text(), "failed reload keeps previous text")

	_, err = LoadFileInstructions(filepath.Join(t.TempDir(), "missing.md"), silentLog())
	assert.Error(t, err)
}

func TestFileInstructionsWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.md")
	writeFile(t, path, "version one")

	fi, err := LoadFileInstructions(path, silentLog())
	require.NoError(t, err)
	fi.debounce = 10 * time.Millisecond
	reloaded := make(chan string, 4)
	fi.onReload = func(text string) { reloaded <- text }

	require.NoError(t, fi.Watch(context.Background()))
	defer fi.Close()

	writeFile(t, path, "version two")

	select {
	case text := <-reloaded:
		assert.Equal(t, "version two", text)
	case <-time.After(5 * time.Second):
		t.Fatal("instructions were not reloaded")
	}
	assert.Equal(t, "version two", fi.Text())
	require.NoError(t, fi.Close())
	require.NoError(t, fi.Close())
}

func TestBuildSystemPrompt(t *testing.T) {
	tools := config.Defaults().Tools
	prompt := BuildSystemPrompt(PromptConfig{
		Tools:       tools,
		ExtraPrompt: "Always greet in German.",
		Now:         func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) },
	})

	assert.Contains(t, prompt, "Current date: 2026-03-01")
	assert.Contains(t, prompt, "JSON object")
	for _, name := range []string{tools.Search, tools.Detail, tools.CartAdd, tools.CartGet, tools.OrderList} {
		assert.Contains(t, prompt, name)
	}
	assert.True(t, strings.HasSuffix(strings.TrimSpace(prompt), "Always greet in German."))
}

func TestActiveEntityNote(t *testing.T) {
	note := activeEntityNote(&domain.ActiveEntity{ID: "p1", Name: "Kettle"}, "store_product_detail")
	assert.Contains(t, note, "Kettle (ID: p1)")
	assert.Contains(t, note, `store_product_detail with productId "p1"`)

	assert.Contains(t, activeEntityNote(&domain.ActiveEntity{ID: "p2"}, "d"), "unnamed item (ID: p2)")
}
