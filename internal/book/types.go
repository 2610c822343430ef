package book

// Chapter is one ordered unit of narration. Index is 1-based and fixed for
// the run; it is also the final chapter-marker order.
type Chapter struct {
	Index    int
	Title    string
	TTSTitle string // spoken announcement, e.g. "Chapter One"
	Text     string
}

// Metadata describes the book as a whole.
type Metadata struct {
	Title        string
	Author       string
	CoverPath    string
	SourceFormat string
}

// ParseResult is the standard return type for all parsers.
type ParseResult struct {
	Chapters []Chapter
	Meta     Metadata
}

// Parser turns one input document into ordered chapters.
type Parser interface {
	Parse(path string) (ParseResult, error)
}
