package llm

import (
	"regexp"
	"strings"
)

var (
	codeFencePattern = regexp.MustCompile("(?i)```sql|```")
	selectPattern    = regexp.MustCompile(`(?is)((?:SELECT|WITH)\s+.*?)(?:;|$)`)
)

// ExtractSQL pulls the SQL statement out of a raw model response.
// Models wrap answers in code fences and prose despite instructions; this
// strips the fences and returns the first SELECT/WITH statement found.
// Returns "" when no read statement is present.
func ExtractSQL(response string) string {
	cleaned := codeFencePattern.ReplaceAllString(response, "")

	if matches := selectPattern.FindStringSubmatch(cleaned); matches != nil {
		return strings.TrimSpace(matches[1])
	}

	return ""
}
