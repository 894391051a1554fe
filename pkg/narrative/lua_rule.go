package narrative

import (
	"context"

	"github.com/lexlapax/questweaver/pkg/log"
	"github.com/lexlapax/questweaver/pkg/memory"
	"github.com/lexlapax/questweaver/pkg/scripting"
)

// LuaRule builds a Rule whose predicate is the Lua function
// funcName(line, role). Only a boolean true result matches; script errors
// are logged and treated as no match.
func LuaRule(engine scripting.Engine, funcName, kind, prefix string) Rule {
	return Rule{
		Name: "lua:" + funcName,
		Match: func(line string, role memory.Role) bool {
			result, err := engine.ExecuteFunction(context.Background(), funcName, line, string(role))
			if err != nil {
				log.Warn("Lua rule failed", "function", funcName, log.ErrAttr(err))
				return false
			}
			matched, _ := result.(bool)
			return matched
		},
		Kind:   kind,
		Prefix: prefix,
	}
}
