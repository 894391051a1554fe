package scripting

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/questweaver/pkg/errors"
)

const storyScript = `
	function is_npc_line(line, role)
		if role ~= "assistant" then
			return false
		end
		return string.find(line, "innkeeper", 1, true) ~= nil
	end

	function count_exits(n_doors, n_windows)
		return n_doors + n_windows
	end

	function tavern()
		return {
			name = "The Crossroads Inn",
			rooms = 4,
			keeper = {
				name = "Marta"
			}
		}
	end

	function describe(npc)
		return npc.name .. " is " .. npc.age
	end

	function tags()
		return {"rain", "inn", "crossroads"}
	end

	function join_tags(list)
		return table.concat(list, ",")
	end

	function wander()
		while true do end
	end

	function broken_quest()
		error("the quest giver vanished")
	end
`

func newStoryEngine(t *testing.T) *LuaEngine {
	t.Helper()
	engine, err := NewLuaEngine(DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	require.NoError(t, engine.LoadScript("story", []byte(storyScript)))
	return engine
}

func TestLuaEngine_LoadScript(t *testing.T) {
	engine, err := NewLuaEngine(DefaultConfig())
	require.NoError(t, err)
	defer engine.Close()

	assert.NoError(t, engine.LoadScript("ok", []byte(`function greet() return "Well met" end`)))

	err = engine.LoadScript("broken", []byte(`function greet( return end`))
	assert.ErrorIs(t, err, errors.ErrLuaExecution)
}

func TestLuaEngine_ExecuteFunction(t *testing.T) {
	engine := newStoryEngine(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		function string
		args     []any
		want     any
	}{
		{"rule matches assistant line", "is_npc_line", []any{"The innkeeper waves.", "assistant"}, true},
		{"rule ignores user line", "is_npc_line", []any{"I wave at the innkeeper", "user"}, false},
		{"numeric arguments", "count_exits", []any{2, 1}, float64(3)},
		{"array table", "tags", nil, []any{"rain", "inn", "crossroads"}},
		{"map argument", "describe", []any{map[string]any{"name": "Marta", "age": 52}}, "Marta is 52"},
		{"slice argument", "join_tags", []any{[]string{"north", "road"}}, "north,road"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := engine.ExecuteFunction(ctx, tc.function, tc.args...)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("nested table", func(t *testing.T) {
		got, err := engine.ExecuteFunction(ctx, "tavern")
		require.NoError(t, err)

		inn, ok := got.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "The Crossroads Inn", inn["name"])
		assert.Equal(t, float64(4), inn["rooms"])

		keeper, ok := inn["keeper"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "Marta", keeper["name"])
	})

	t.Run("undefined function", func(t *testing.T) {
		_, err := engine.ExecuteFunction(ctx, "is_location_line")
		assert.ErrorIs(t, err, ErrFunctionNotFound)
	})

	t.Run("script error", func(t *testing.T) {
		_, err := engine.ExecuteFunction(ctx, "broken_quest")
		assert.ErrorIs(t, err, errors.ErrLuaExecution)
	})

	t.Run("cancelled call leaves the state usable", func(t *testing.T) {
		short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		_, err := engine.ExecuteFunction(short, "wander")
		assert.ErrorIs(t, err, errors.ErrLuaExecution)

		got, err := engine.ExecuteFunction(ctx, "is_npc_line", "The innkeeper nods.", "assistant")
		require.NoError(t, err)
		assert.Equal(t, true, got)
	})
}

func TestLuaEngine_Timeout(t *testing.T) {
	engine, err := NewLuaEngine(Config{EnableSandboxing: true, ScriptTimeoutMs: 20})
	require.NoError(t, err)
	defer engine.Close()

	require.NoError(t, engine.LoadScript("loop", []byte(`function wander() while true do end end`)))

	_, err = engine.ExecuteFunction(context.Background(), "wander")
	assert.ErrorIs(t, err, errors.ErrLuaExecution)
}

func TestLuaEngine_HasFunction(t *testing.T) {
	engine := newStoryEngine(t)
	require.NoError(t, engine.LoadScript("globals", []byte(`max_party_size = 4`)))

	assert.True(t, engine.HasFunction("is_npc_line"))
	assert.False(t, engine.HasFunction("max_party_size"))
	assert.False(t, engine.HasFunction("is_location_line"))
}

func TestLuaEngine_Sandboxing(t *testing.T) {
	engine, err := NewLuaEngine(DefaultConfig())
	require.NoError(t, err)
	defer engine.Close()

	require.NoError(t, engine.LoadScript("sandbox", []byte(`
		function reachable(name)
			return _G[name] ~= nil
		end
	`)))

	for _, global := range []string{"os", "io", "load", "loadfile", "dofile", "require"} {
		t.Run(global, func(t *testing.T) {
			got, err := engine.ExecuteFunction(context.Background(), "reachable", global)
			require.NoError(t, err)
			assert.Equal(t, false, got, "%s should be removed by the sandbox", global)
		})
	}

	got, err := engine.ExecuteFunction(context.Background(), "reachable", "string")
	require.NoError(t, err)
	assert.Equal(t, true, got)
}

func TestLuaEngine_LoadScriptFile(t *testing.T) {
	engine, err := NewLuaEngine(DefaultConfig())
	require.NoError(t, err)
	defer engine.Close()

	path := filepath.Join(t.TempDir(), "location.lua")
	require.NoError(t, os.WriteFile(path, []byte(`
		function is_location_line(line, role)
			return string.find(line, "You arrive", 1, true) == 1
		end
	`), 0600))

	require.NoError(t, engine.LoadScriptFile(path))

	got, err := engine.ExecuteFunction(context.Background(), "is_location_line", "You arrive at the docks.", "assistant")
	require.NoError(t, err)
	assert.Equal(t, true, got)

	assert.Error(t, engine.LoadScriptFile(filepath.Join(t.TempDir(), "missing.lua")))
}

func TestLuaEngine_LoadScriptDir(t *testing.T) {
	engine, err := NewLuaEngine(DefaultConfig())
	require.NoError(t, err)
	defer engine.Close()

	dir := t.TempDir()
	files := map[string]string{
		"npc.lua":      `function is_npc_line() return true end`,
		"location.lua": `function is_location_line() return false end`,
		"notes.txt":    `this is not lua (`,
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0600))
	}

	require.NoError(t, engine.LoadScriptDir(dir))
	assert.True(t, engine.HasFunction("is_npc_line"))
	assert.True(t, engine.HasFunction("is_location_line"))
}

func TestLoadAllScripts_MissingDirectory(t *testing.T) {
	engine, err := NewLuaEngine(DefaultConfig())
	require.NoError(t, err)
	defer engine.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "npc.lua"), []byte(`function is_npc_line() return true end`), 0600))

	require.NoError(t, LoadAllScripts(engine, filepath.Join(dir, "missing"), dir))
	assert.True(t, engine.HasFunction("is_npc_line"))
}

func TestLuaEngine_LoadScriptDirStopsOnError(t *testing.T) {
	engine, err := NewLuaEngine(DefaultConfig())
	require.NoError(t, err)
	defer engine.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.lua"), []byte(`function (`), 0600))

	assert.ErrorIs(t, engine.LoadScriptDir(dir), errors.ErrLuaExecution)
}
