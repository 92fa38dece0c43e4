// Package transcripts imports Granola meeting transcripts and extracts
// action items out of them.
package transcripts

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	minActionItemLen = 3
	maxActionItemLen = 500
	maxActionItems   = 50
)

// Line-level punctuation conventions only; the parser knows nothing about
// meeting structure.
var (
	bulletPrefix = regexp.MustCompile(`^\s*(?:[-*•]\s*)?(?:\[ \]\s*)?(?:\d+\.\s*)?`)
	actionLine   = regexp.MustCompile(`(?i)^(?:action|todo|task):\s*(.+)$`)
)

// ParseActionItems pulls action-item lines out of free-form transcript text.
// Each non-blank line is stripped of bullet, checkbox, and numbered-list
// markers; lines tagged action:/todo:/task: keep only the tagged remainder.
// Results are deduplicated in insertion order and capped.
func ParseActionItems(content string) []string {
	items := make([]string, 0, 8)
	seen := make(map[string]struct{})

	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		stripped := strings.TrimSpace(bulletPrefix.ReplaceAllString(line, ""))
		if match := actionLine.FindStringSubmatch(stripped); match != nil {
			stripped = strings.TrimSpace(match[1])
		}

		length := utf8.RuneCountInString(stripped)
		if length < minActionItemLen || length > maxActionItemLen {
			continue
		}
		if _, dup := seen[stripped]; dup {
			continue
		}
		seen[stripped] = struct{}{}
		items = append(items, stripped)
		if len(items) >= maxActionItems {
			break
		}
	}
	return items
}
