package narration

import (
	"fmt"
	"strings"
)

// Format renders c as one line per item, memories first:
//
//	[MEMORY]: fact - The king died
//	[LOCATION]: Town (town) - A sleepy market town.
//
// An empty or nil context renders as "". Format performs no I/O and is safe
// for concurrent use.
func Format(c *Context) string {
	if c.Empty() {
		return ""
	}

	lines := make([]string, 0, len(c.Memories)+len(c.Locations))
	for _, r := range c.Memories {
		lines = append(lines, formatMemory(r.Memory.Type, r.Memory.Content))
	}
	for _, l := range c.Locations {
		lines = append(lines, formatLocation(l.Location.Name, l.Location.Type, l.Location.Description))
	}
	return strings.Join(lines, "\n")
}

func formatMemory(memType, content string) string {
	label := strings.TrimSpace(memType)
	if label == "" {
		label = "memory"
	}
	return fmt.Sprintf("[MEMORY]: %s - %s", label, oneLine(content))
}

func formatLocation(name, locType, description string) string {
	var sb strings.Builder
	sb.WriteString("[LOCATION]: ")
	sb.WriteString(oneLine(name))
	if t := strings.TrimSpace(locType); t != "" {
		fmt.Fprintf(&sb, " (%s)", t)
	}
	if d := oneLine(description); d != "" {
		sb.WriteString(" - ")
		sb.WriteString(d)
	}
	return sb.String()
}

// oneLine collapses runs of whitespace, newlines included, so every item
// stays on its own line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
