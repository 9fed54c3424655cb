// Package chunker splits analysis text, either into fixed-size slices for
// replaying a cached result as a stream, or into markdown sections for
// display.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// ReplaySize is the slice length, in characters, used when replaying a
// cached analysis.
const ReplaySize = 100

// Fixed splits text into consecutive slices of at most size characters.
// Slices never split a multi-byte rune. Concatenating the result yields text.
func Fixed(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}

	out := make([]string, 0, utf8.RuneCountInString(text)/size+1)
	start, n := 0, 0
	for i := range text {
		if n == size {
			out = append(out, text[start:i])
			start, n = i, 0
		}
		n++
	}
	return append(out, text[start:])
}

const (
	DefaultTargetSize = 400
	DefaultMaxSize    = 600
)

// Options configures section splitting. Sizes count characters.
type Options struct {
	TargetSize int
	MaxSize    int
}

// DefaultOptions returns default section options.
func DefaultOptions() Options {
	return Options{TargetSize: DefaultTargetSize, MaxSize: DefaultMaxSize}
}

// Section is one display unit of an analysis.
type Section struct {
	Heading   string `json:"heading,omitempty"`
	Text      string `json:"text"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
}

// Sections splits markdown text on headings and blank-line pairs, merges
// small neighbours up to TargetSize and hard-splits anything over MaxSize
// on line boundaries. Text no longer than MaxSize is one section.
func Sections(text string, opts Options) []Section {
	if opts.TargetSize == 0 {
		opts = DefaultOptions()
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if runes(text) <= opts.MaxSize {
		return []Section{newSection(text, 1)}
	}
	return merge(split(text), opts)
}

type block struct {
	text      string
	startLine int
}

func newSection(text string, startLine int) Section {
	return Section{
		Heading:   heading(text),
		Text:      text,
		StartLine: startLine,
		EndLine:   startLine + strings.Count(text, "\n"),
	}
}

// heading returns the title of a leading markdown heading, if any.
func heading(text string) string {
	first, _, _ := strings.Cut(text, "\n")
	first = strings.TrimSpace(first)
	if !strings.HasPrefix(first, "#") {
		return ""
	}
	return strings.TrimSpace(strings.TrimLeft(first, "#"))
}

func split(text string) []block {
	lines := strings.Split(text, "\n")
	var blocks []block
	var current []string
	start := 1

	flush := func(end int) {
		if t := strings.TrimSpace(strings.Join(current, "\n")); t != "" {
			blocks = append(blocks, block{text: t, startLine: start})
		}
		current = nil
		start = end + 1
	}

	prevEmpty := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") && len(current) > 0 {
			flush(i)
		}
		if trimmed == "" && prevEmpty && len(current) > 0 {
			flush(i)
		}
		prevEmpty = trimmed == ""
		current = append(current, line)
	}
	flush(len(lines))
	return blocks
}

func merge(blocks []block, opts Options) []Section {
	var out []Section
	var acc block

	emit := func() {
		if acc.text == "" {
			return
		}
		if runes(acc.text) > opts.MaxSize {
			out = append(out, hardSplit(acc, opts)...)
		} else {
			out = append(out, newSection(acc.text, acc.startLine))
		}
		acc = block{}
	}

	for _, b := range blocks {
		if acc.text == "" {
			acc = b
			continue
		}
		// A heading always opens a new section.
		if heading(b.text) == "" && runes(acc.text)+runes(b.text)+2 <= opts.TargetSize {
			acc.text += "\n\n" + b.text
			continue
		}
		emit()
		acc = b
	}
	emit()
	return out
}

func hardSplit(b block, opts Options) []Section {
	lines := strings.Split(b.text, "\n")
	var out []Section
	var current []string
	start, size := b.startLine, 0

	for i, line := range lines {
		n := runes(line)
		if size+n > opts.TargetSize && len(current) > 0 {
			if t := strings.TrimSpace(strings.Join(current, "\n")); t != "" {
				out = append(out, newSection(t, start))
			}
			current, start, size = nil, b.startLine+i, 0
		}
		current = append(current, line)
		size += n + 1
	}
	if t := strings.TrimSpace(strings.Join(current, "\n")); t != "" {
		out = append(out, newSection(t, start))
	}
	return out
}

func runes(s string) int { return utf8.RuneCountInString(s) }
