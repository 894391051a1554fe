package narrative

import (
	"strings"

	"github.com/lexlapax/questweaver/pkg/memory"
)

// Extraction is an auxiliary memory derived from a turn.
type Extraction struct {
	Kind        string
	Description string
}

// Rule tags a single trimmed line of assistant output. The description of a
// match is Prefix followed by the line.
type Rule struct {
	Name   string
	Match  func(line string, role memory.Role) bool
	Kind   string
	Prefix string
}

// eventKeywords mark lines that usually advance the plot.
var eventKeywords = []string{"meets", "finds", "discovers", "enters", "defeats", "encounters"}

// DefaultRules returns the built-in rule table: bold lines are lore, lines
// with a plot keyword are events.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: "bold-lore",
			Match: func(line string, _ memory.Role) bool {
				return len(line) >= 4 && strings.HasPrefix(line, "**") && strings.HasSuffix(line, "**")
			},
			Kind:   memory.KindLore,
			Prefix: "Story element: ",
		},
		{
			Name: "plot-keyword",
			Match: func(line string, _ memory.Role) bool {
				lower := strings.ToLower(line)
				for _, kw := range eventKeywords {
					if strings.Contains(lower, kw) {
						return true
					}
				}
				return false
			},
			Kind:   memory.KindEvent,
			Prefix: "Story event: ",
		},
	}
}

// Classifier turns story turns into typed extractions.
type Classifier struct {
	rules []Rule
}

// NewClassifier builds a classifier that applies rules in order.
func NewClassifier(rules ...Rule) *Classifier {
	return &Classifier{rules: rules}
}

// DefaultClassifier uses DefaultRules.
func DefaultClassifier() *Classifier {
	return NewClassifier(DefaultRules()...)
}

// Rules returns a copy of the rule table.
func (c *Classifier) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// ClassifyAndExtract derives auxiliary memories from text. A user turn is a
// single action; an assistant turn is scanned line by line and the first
// matching rule tags each line.
func (c *Classifier) ClassifyAndExtract(text string, role memory.Role) []Extraction {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if role == memory.RoleUser {
		return []Extraction{{Kind: memory.KindAction, Description: "Player action: " + text}}
	}

	var out []Extraction
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, rule := range c.rules {
			if rule.Match(line, role) {
				out = append(out, Extraction{Kind: rule.Kind, Description: rule.Prefix + line})
				break
			}
		}
	}
	return out
}
