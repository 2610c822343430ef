package book

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// MarkdownParser splits a Markdown document into chapters on its shallowest
// heading level. A document without headings becomes a single chapter.
type MarkdownParser struct{}

var (
	frontmatterPattern = regexp.MustCompile(`(?s)^---\s*\n(.*?)\n---\s*\n`)
	headingPattern     = regexp.MustCompile(`(?m)^(#{1,2})\s+(.+)$`)
)

func (MarkdownParser) Parse(path string) (ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ParseResult{}, fmt.Errorf("read markdown: %w", err)
	}
	content := string(data)

	front, body := extractFrontmatter(content)

	title := front["title"]
	if title == "" {
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		title = titleFromStem(stem)
	}
	author := front["author"]
	if author == "" {
		author = "Unknown"
	}

	var chapters []Chapter
	idx := 1
	for _, section := range splitByHeadings(body) {
		text := CleanText(section.body)
		if text == "" {
			continue
		}
		chapters = append(chapters, Chapter{
			Index:    idx,
			Title:    section.title,
			TTSTitle: section.title,
			Text:     text,
		})
		idx++
	}

	return ParseResult{
		Chapters: chapters,
		Meta: Metadata{
			Title:        title,
			Author:       author,
			SourceFormat: "markdown",
		},
	}, nil
}

func extractFrontmatter(content string) (map[string]string, string) {
	meta := map[string]string{}
	m := frontmatterPattern.FindStringSubmatchIndex(content)
	if m == nil {
		return meta, content
	}
	block := content[m[2]:m[3]]
	for _, line := range strings.Split(block, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		meta[strings.ToLower(strings.TrimSpace(key))] = value
	}
	return meta, content[m[1]:]
}

type mdSection struct {
	title string
	body  string
}

func splitByHeadings(content string) []mdSection {
	matches := headingPattern.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return []mdSection{{title: "Chapter 1", body: strings.TrimSpace(content)}}
	}

	// Split on the shallowest heading level present.
	splitLevel := 2
	for _, m := range matches {
		if level := m[3] - m[2]; level < splitLevel {
			splitLevel = level
		}
	}

	type mark struct {
		start, bodyStart int
		title            string
	}
	var marks []mark
	for _, m := range matches {
		if m[3]-m[2] != splitLevel {
			continue
		}
		bodyStart := m[1]
		if bodyStart < len(content) && content[bodyStart] == '\n' {
			bodyStart++
		}
		marks = append(marks, mark{start: m[0], bodyStart: bodyStart, title: strings.TrimSpace(content[m[4]:m[5]])})
	}

	sections := make([]mdSection, 0, len(marks))
	for i, mk := range marks {
		end := len(content)
		if i+1 < len(marks) {
			end = marks[i+1].start
		}
		sections = append(sections, mdSection{title: mk.title, body: strings.TrimSpace(content[mk.bodyStart:end])})
	}
	return sections
}

// ParseFile dispatches to a parser based on the file extension.
func ParseFile(path string) (ParseResult, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return MarkdownParser{}.Parse(path)
	case ".txt":
		return PlainTextParser{}.Parse(path)
	default:
		return ParseResult{}, fmt.Errorf("unsupported input format %q (supported: .md, .markdown, .txt)", filepath.Ext(path))
	}
}
