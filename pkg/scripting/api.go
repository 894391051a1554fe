package scripting

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"

	"github.com/lexlapax/questweaver/pkg/log"
)

// registerAPIFunctions registers Go functions that are available to Lua
// scripts under the global questweaver table.
func registerAPIFunctions(L *lua.LState) {
	api := L.NewTable()

	L.SetField(api, "log", L.NewFunction(apiLog))
	L.SetField(api, "now", L.NewFunction(apiNow))
	L.SetField(api, "format_time", L.NewFunction(apiFormatTime))
	L.SetField(api, "uuid", L.NewFunction(apiUUID))
	L.SetField(api, "json_encode", L.NewFunction(apiJSONEncode))
	L.SetField(api, "json_decode", L.NewFunction(apiJSONDecode))

	L.SetGlobal("questweaver", api)
}

// apiLog logs a message at the given level: questweaver.log(level, message)
func apiLog(L *lua.LState) int {
	level := L.CheckString(1)
	message := L.CheckString(2)

	switch level {
	case "debug":
		log.Debug("Lua script message", "message", message)
	case "warn", "warning":
		log.Warn("Lua script message", "message", message)
	case "error":
		log.Error("Lua script message", "message", message)
	default:
		log.Info("Lua script message", "message", message)
	}

	return 0
}

// apiNow returns the current time as a Unix timestamp
func apiNow(L *lua.LState) int {
	L.Push(lua.LNumber(time.Now().Unix()))
	return 1
}

// apiFormatTime formats a Unix timestamp in UTC, RFC3339 by default
func apiFormatTime(L *lua.LState) int {
	timestamp := L.CheckNumber(1)
	format := L.OptString(2, time.RFC3339)

	t := time.Unix(int64(timestamp), 0).UTC()
	L.Push(lua.LString(t.Format(format)))
	return 1
}

// apiUUID returns a random UUID string
func apiUUID(L *lua.LState) int {
	L.Push(lua.LString(uuid.NewString()))
	return 1
}

// apiJSONEncode encodes a Lua value as JSON. On failure it returns nil and
// the error message.
func apiJSONEncode(L *lua.LState) int {
	value := convertLuaToGo(L.CheckAny(1))

	data, err := json.Marshal(value)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(data))
	return 1
}

// apiJSONDecode decodes a JSON string into Lua values. On failure it
// returns nil and the error message.
func apiJSONDecode(L *lua.LState) int {
	var value any
	if err := json.Unmarshal([]byte(L.CheckString(1)), &value); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(convertGoToLua(L, value))
	return 1
}
