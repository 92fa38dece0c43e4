package granola

import (
	"regexp"
	"strings"
)

// Remote tool catalogs are operator-defined, not standardized, so tool
// selection is a tiered heuristic: exact known names first, then
// progressively looser name matching. Pure functions, unit-tested apart
// from the network client.

// listToolPriority is the fixed list of known-good "list meetings" tool
// names, scanned in order.
var listToolPriority = []string{
	"search_meetings",
	"list_granola_documents",
	"list_meetings",
	"query_granola_meetings",
	"get_meetings",
	"search_granola_transcripts",
}

var listVerbPattern = regexp.MustCompile(`search|list|query|get`)

// PickListTool selects a tool for listing meetings. preferred wins when
// present in the catalog. Returns "" when nothing fits.
func PickListTool(names []string, preferred string) string {
	if preferred != "" && contains(names, preferred) {
		return preferred
	}
	for _, known := range listToolPriority {
		if contains(names, known) {
			return known
		}
	}
	for _, name := range names {
		lower := strings.ToLower(name)
		if strings.Contains(lower, "list") &&
			(strings.Contains(lower, "granola") || strings.Contains(lower, "meeting")) {
			return name
		}
	}
	for _, name := range names {
		lower := strings.ToLower(name)
		if listVerbPattern.MatchString(lower) && strings.Contains(lower, "meeting") {
			return name
		}
	}
	for _, name := range names {
		lower := strings.ToLower(name)
		if strings.Contains(lower, "meeting") &&
			!strings.Contains(lower, "transcript") && !strings.Contains(lower, "document") {
			return name
		}
	}
	return ""
}

// transcriptToolPriority is the fixed list of known-good "get transcript"
// tool names.
var transcriptToolPriority = []string{
	"get_granola_transcript",
	"get_meeting_transcript",
	"get_granola_document",
}

// PickTranscriptTool selects a tool for fetching one transcript. Returns
// "" when nothing fits.
func PickTranscriptTool(names []string) string {
	for _, known := range transcriptToolPriority {
		if contains(names, known) {
			return known
		}
	}
	for _, name := range names {
		lower := strings.ToLower(name)
		if !strings.Contains(lower, "get") {
			continue
		}
		if strings.Contains(lower, "granola") ||
			(strings.Contains(lower, "meeting") && strings.Contains(lower, "transcript")) {
			return name
		}
	}
	return ""
}

// listToolArguments returns the argument shape a known list tool expects.
// Heuristically matched tools get empty arguments.
func listToolArguments(tool string) map[string]any {
	switch tool {
	case "search_meetings":
		return map[string]any{"query": "", "limit": 100}
	case "list_granola_documents", "list_meetings", "query_granola_meetings",
		"get_meetings", "search_granola_transcripts":
		return map[string]any{"limit": 100}
	default:
		return map[string]any{}
	}
}

// transcriptToolArguments returns the argument shape for a transcript tool.
// Tools named around meetings key the id as meeting_id, the rest as id.
func transcriptToolArguments(tool, documentID string) map[string]any {
	if strings.Contains(strings.ToLower(tool), "meeting") {
		return map[string]any{"meeting_id": documentID}
	}
	return map[string]any{"id": documentID}
}

func contains(names []string, want string) bool {
	for _, name := range names {
		if name == want {
			return true
		}
	}
	return false
}
