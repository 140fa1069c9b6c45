package diagnosis

import (
	"regexp"
	"strings"
)

// Step is one checklist item for the repair flow diagram.
type Step struct {
	ID       int    `json:"id"`
	Label    string `json:"label"`
	Icon     string `json:"icon"`
	Critical bool   `json:"critical"`
}

var (
	stepNumbering  = regexp.MustCompile(`^(?:\d+[.)]\s*|[-*•]\s*)`)
	criticalMarker = regexp.MustCompile(`(?i)\[\s*critical\s*\]`)
)

// iconTable maps a step to its display icon by first keyword hit.
var iconTable = []struct {
	keywords []string
	icon     string
}{
	{[]string{"power", "voltage"}, "⚡"},
	{[]string{"temperature"}, "🌡️"},
	{[]string{"measure", "test"}, "📊"},
	{[]string{"winding", "replace"}, "🔧"},
	{[]string{"bearing"}, "⚙️"},
	{[]string{"vibration"}, "📳"},
	{[]string{"pressure", "flow"}, "💧"},
	{[]string{"restart", "start"}, "▶️"},
}

const defaultIcon = "📋"

// parseChecklist extracts the numbered items of a model reply. Lines that
// are not list items (preamble, blank lines) are skipped; ids are assigned
// 1-based in list order.
func parseChecklist(reply string) []Step {
	var steps []Step
	for _, line := range strings.Split(reply, "\n") {
		var s = strings.TrimSpace(line)
		var prefix = stepNumbering.FindString(s)
		if prefix == "" {
			continue
		}
		s = strings.TrimSpace(s[len(prefix):])

		var critical = criticalMarker.MatchString(s)
		s = strings.TrimSpace(criticalMarker.ReplaceAllString(s, ""))
		if s == "" {
			continue
		}
		steps = append(steps, Step{
			ID:       len(steps) + 1,
			Label:    s,
			Icon:     stepIcon(s),
			Critical: critical,
		})
	}
	return steps
}

func stepIcon(label string) string {
	var lower = strings.ToLower(label)
	for _, row := range iconTable {
		for _, keyword := range row.keywords {
			if strings.Contains(lower, keyword) {
				return row.icon
			}
		}
	}
	return defaultIcon
}
