// Package extract turns assistant replies into task candidates.
//
// A reply is read line by line. Only list items are considered: a line that
// starts with a marker ("1.", "2)", "-", "*", "+" or "•") and a title. Bullets
// need whitespace before the title; numeric markers may be followed directly
// by a title that does not start with a digit ("1.Write brief"). A trailing "(due: <date>)" annotation becomes the
// candidate's deadline when the date parses; otherwise the deadline is nil and
// the candidate is kept. Nothing in this package returns an error.
package extract

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/PabloGalante/farum-tasks/internal/domain"
)

// Parser extracts candidates from one assistant text block.
type Parser interface {
	Parse(text string) []domain.TaskCandidate
}

// LineParser classifies each line by its leading marker and splits the
// remainder into title and due annotation.
type LineParser struct{}

func NewLineParser() *LineParser {
	return &LineParser{}
}

func (p *LineParser) Parse(text string) []domain.TaskCandidate {
	out := []domain.TaskCandidate{}
	for _, line := range strings.Split(text, "\n") {
		body, ok := stripMarker(strings.TrimSpace(line))
		if !ok {
			continue
		}
		title, dateText := splitDue(body)
		title = stripEmphasis(title)
		if title == "" {
			continue
		}
		out = append(out, domain.TaskCandidate{
			Title:    title,
			Deadline: ParseDate(dateText),
		})
	}
	return out
}

// stripMarker returns the text after a list marker and its whitespace.
func stripMarker(line string) (string, bool) {
	if line == "" {
		return "", false
	}

	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	numeric := i > 0
	if numeric {
		if i >= len(line) || (line[i] != '.' && line[i] != ')') {
			return "", false
		}
		i++
	} else {
		r, size := utf8.DecodeRuneInString(line)
		switch r {
		case '-', '*', '+', '•':
			i = size
		default:
			return "", false
		}
	}

	rest := line[i:]
	if rest == "" {
		return "", false
	}
	r, _ := utf8.DecodeRuneInString(rest)
	switch {
	case unicode.IsSpace(r):
	case numeric && !unicode.IsDigit(r):
	default:
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// splitDue separates a trailing "(due: ...)" annotation from the title.
func splitDue(body string) (title, dateText string) {
	if !strings.HasSuffix(body, ")") {
		return strings.TrimSpace(body), ""
	}
	open := strings.LastIndex(body, "(")
	if open < 0 {
		return strings.TrimSpace(body), ""
	}

	inner := strings.TrimSpace(body[open+1 : len(body)-1])
	if len(inner) < 3 || !strings.EqualFold(inner[:3], "due") {
		return strings.TrimSpace(body), ""
	}
	inner = strings.TrimSpace(inner[3:])
	if !strings.HasPrefix(inner, ":") {
		return strings.TrimSpace(body), ""
	}
	return strings.TrimSpace(body[:open]), strings.TrimSpace(inner[1:])
}

// stripEmphasis removes markdown bold/underline wrapping the whole title.
func stripEmphasis(title string) string {
	title = strings.TrimSpace(title)
	for _, mark := range []string{"**", "__"} {
		if len(title) > 2*len(mark) && strings.HasPrefix(title, mark) && strings.HasSuffix(title, mark) {
			title = strings.TrimSpace(title[len(mark) : len(title)-len(mark)])
		}
	}
	return title
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006/01/02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
}

// ParseDate parses a calendar date in UTC. It returns nil for anything it
// does not recognize.
func ParseDate(text string) *time.Time {
	text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "."))
	if text == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, text)
		if err != nil {
			continue
		}
		t = t.UTC()
		return &t
	}
	return nil
}
