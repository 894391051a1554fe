package narrative

import (
	"strings"

	"github.com/lexlapax/questweaver/pkg/memory"
)

// NoContext is returned by BuildContext for an empty record list so prompt
// templates never receive an empty block.
const NoContext = "No previous context available."

// BuildContext renders records as "<role>, <memory_kind>: <content>" lines in
// the order given. Callers bound the size through k or limit.
func BuildContext(records []memory.Record) string {
	if len(records) == 0 {
		return NoContext
	}

	var b strings.Builder
	for i, r := range records {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(r.Role))
		b.WriteString(", ")
		b.WriteString(r.Kind)
		b.WriteString(": ")
		b.WriteString(r.Content)
	}
	return b.String()
}
