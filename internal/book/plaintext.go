package book

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// PlainTextParser treats the whole document as a single chapter.
type PlainTextParser struct{}

func (PlainTextParser) Parse(path string) (ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ParseResult{}, fmt.Errorf("read text file: %w", err)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	title := titleFromStem(stem)

	var chapters []Chapter
	if text := CleanText(string(data)); text != "" {
		chapters = append(chapters, Chapter{
			Index:    1,
			Title:    title,
			TTSTitle: title,
			Text:     text,
		})
	}

	return ParseResult{
		Chapters: chapters,
		Meta: Metadata{
			Title:        title,
			Author:       "Unknown",
			SourceFormat: "text",
		},
	}, nil
}

func titleFromStem(stem string) string {
	words := strings.FieldsFunc(stem, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	if len(words) == 0 {
		return stem
	}
	return strings.Join(words, " ")
}
