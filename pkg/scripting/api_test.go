package scripting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const apiScript = `
	function note_turn(line)
		questweaver.log("debug", "classifying " .. line)
		questweaver.log("warn", "unusual turn")
		questweaver.log("error", "rule failed")
		questweaver.log("chatter", "unknown levels log at info")
		print("turn", 3, true)
		return "noted"
	end

	function turn_stamp()
		return questweaver.now()
	end

	function chapter_heading(ts)
		return "Chapter of " .. questweaver.format_time(ts, "2006-01-02")
	end

	function chronicle_time(ts)
		return questweaver.format_time(ts)
	end

	function new_npc_ids()
		local a = questweaver.uuid()
		local b = questweaver.uuid()
		if type(a) ~= "string" or a == b then
			return "bad ids"
		end
		return string.len(a)
	end

	function encode_npc()
		return questweaver.json_encode({name = "Marta", traits = {"gruff", "honest"}})
	end

	function npc_roundtrip()
		local npc = {name = "Marta", home = {town = "Crossroads"}, age = 52}
		local back = questweaver.json_decode(questweaver.json_encode(npc))
		return back.home.town .. ":" .. back.age
	end

	function decode_garbage()
		local value, err = questweaver.json_decode("{not json")
		if value == nil and err ~= nil then
			return "rejected"
		end
		return "accepted"
	end
`

func newAPIEngine(t *testing.T) *LuaEngine {
	t.Helper()
	engine, err := NewLuaEngine(DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	require.NoError(t, engine.LoadScript("api", []byte(apiScript)))
	return engine
}

func call(t *testing.T, engine *LuaEngine, fn string, args ...any) any {
	t.Helper()
	got, err := engine.ExecuteFunction(context.Background(), fn, args...)
	require.NoError(t, err)
	return got
}

func TestLuaAPI_LogAndPrint(t *testing.T) {
	engine := newAPIEngine(t)
	assert.Equal(t, "noted", call(t, engine, "note_turn", "I open the door"))
}

func TestLuaAPI_Now(t *testing.T) {
	engine := newAPIEngine(t)

	ts, ok := call(t, engine, "turn_stamp").(float64)
	require.True(t, ok, "now should return a number")
	assert.InDelta(t, time.Now().Unix(), ts, 60)
}

func TestLuaAPI_FormatTime(t *testing.T) {
	engine := newAPIEngine(t)
	newYear := int64(1609459200) // 2021-01-01T00:00:00Z

	assert.Equal(t, "2021-01-01T00:00:00Z", call(t, engine, "chronicle_time", newYear))
	assert.Equal(t, "Chapter of 2021-01-01", call(t, engine, "chapter_heading", newYear))
}

func TestLuaAPI_UUID(t *testing.T) {
	engine := newAPIEngine(t)
	assert.Equal(t, float64(36), call(t, engine, "new_npc_ids"))
}

func TestLuaAPI_JSON(t *testing.T) {
	engine := newAPIEngine(t)

	encoded, ok := call(t, engine, "encode_npc").(string)
	require.True(t, ok)
	assert.JSONEq(t, `{"name":"Marta","traits":["gruff","honest"]}`, encoded)

	assert.Equal(t, "Crossroads:52", call(t, engine, "npc_roundtrip"))
	assert.Equal(t, "rejected", call(t, engine, "decode_garbage"))
}
