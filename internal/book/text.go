package book

import (
	"html"
	"regexp"
	"strings"
)

var spaceRun = regexp.MustCompile(`[ \t]+`)

// CleanText normalizes raw document text for synthesis: HTML entities are
// decoded, typographic punctuation is flattened to ASCII, and runs of
// whitespace and blank lines are collapsed.
func CleanText(text string) string {
	text = html.UnescapeString(text)
	replacer := strings.NewReplacer(
		"—", " - ", // em dash
		"–", " - ", // en dash
		"­", "", // soft hyphen
		"‘", "'",
		"’", "'",
		"“", `"`,
		"”", `"`,
	)
	text = replacer.Replace(text)

	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	prevBlank := false
	for _, line := range lines {
		line = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
		if line == "" {
			if !prevBlank {
				cleaned = append(cleaned, "")
			}
			prevBlank = true
			continue
		}
		cleaned = append(cleaned, line)
		prevBlank = false
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}
