package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/questweaver/pkg/memory"
	"github.com/lexlapax/questweaver/pkg/questweaver"
)

// sqliteConfig writes an offline config whose index survives between
// commands.
func sqliteConfig(t *testing.T) string {
	t.Helper()
	t.Setenv("QUESTWEAVER_INDEX", "")
	t.Setenv("PGVECTOR_URL", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
memory:
  index: sqlite
  sqlite:
    path: ` + filepath.Join(dir, "qw.db") + `
embedding:
  provider: hash
  dimensions: 16
reasoning:
  provider: mock
scripting:
  paths: []
logging:
  level: error
  format: text
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.Writer = &out
	root.ErrWriter = &out
	err := root.Run(context.Background(), append([]string{"questweaver"}, args...))
	return out.String(), err
}

func seed(t *testing.T, configPath string, inputs ...memory.Input) {
	t.Helper()
	ctx := context.Background()
	app, err := questweaver.NewFromFile(ctx, configPath)
	require.NoError(t, err)
	defer app.Close()

	for _, in := range inputs {
		_, err := app.Memory.Store(ctx, in)
		require.NoError(t, err)
	}
}

func TestCommands_RecentRecallForget(t *testing.T) {
	cfg := sqliteConfig(t)
	seed(t, cfg,
		memory.Input{Content: "I draw my sword", OwnerID: "player", ConversationID: "c1", Role: memory.RoleUser, Kind: memory.KindAction},
		memory.Input{Content: "Story event: The ogre enters the clearing", OwnerID: "player", ConversationID: "c1", Role: memory.RoleAssistant, Kind: memory.KindEvent},
		memory.Input{Content: "I sing", OwnerID: "player", ConversationID: "c2", Role: memory.RoleUser, Kind: memory.KindAction},
	)

	out, err := runCommand(t, "recent", "--config", cfg, "--conversation", "c1")
	require.NoError(t, err)
	assert.Contains(t, out, "user, action: I draw my sword")
	assert.Contains(t, out, "assistant, event: Story event: The ogre enters the clearing")
	assert.NotContains(t, out, "I sing")

	out, err = runCommand(t, "recall", "--config", cfg, "--conversation", "c1", "--query", "ogre", "--kind", memory.KindEvent)
	require.NoError(t, err)
	assert.Contains(t, out, "The ogre enters the clearing")
	assert.NotContains(t, out, "I draw my sword")

	out, err = runCommand(t, "forget", "--config", cfg, "--conversation", "c1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted memories of conversation c1")

	out, err = runCommand(t, "recent", "--config", cfg, "--conversation", "c1")
	require.NoError(t, err)
	assert.Contains(t, out, "No memories found.")

	out, err = runCommand(t, "forget", "--config", cfg, "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted all memories of owner player")

	out, err = runCommand(t, "recent", "--config", cfg, "--conversation", "c2")
	require.NoError(t, err)
	assert.Contains(t, out, "No memories found.")
}

func TestCommands_Summary(t *testing.T) {
	cfg := sqliteConfig(t)

	out, err := runCommand(t, "summary", "--config", cfg, "--conversation", "empty")
	require.NoError(t, err)
	assert.Contains(t, out, "No story events found.")
}

func TestCommands_Errors(t *testing.T) {
	cfg := sqliteConfig(t)

	_, err := runCommand(t, "forget", "--config", cfg)
	assert.Error(t, err)

	_, err = runCommand(t, "recent", "--config", cfg)
	assert.Error(t, err, "conversation is required")

	_, err = runCommand(t, "recent", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "--conversation", "c1")
	assert.Error(t, err)

	_, err = runCommand(t, "migrate", "--config", cfg)
	assert.Error(t, err)
}

func TestRun_ReportsExitCode(t *testing.T) {
	sqliteConfig(t)
	err := Run(context.Background(), []string{"questweaver", "forget"})
	require.NotNil(t, err)
	assert.Equal(t, 1, err.Code)
	assert.NotEmpty(t, err.Message)
}
