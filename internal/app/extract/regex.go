package extract

import (
	"regexp"
	"strings"

	"github.com/PabloGalante/farum-tasks/internal/domain"
)

// A numeric marker may touch the title when the title does not start with a
// digit; bullets always need whitespace.
var listItemRegex = regexp.MustCompile(`^(?:(?:\d+[.)]|[-*+•])\s+(.+?)|\d+[.)]([^\s\d].*?))(?:\s*\((?i:due)\s*:\s*([^)]*)\))?$`)

// RegexParser matches list items with a single expression. It recognizes the
// same markers and annotation as LineParser.
type RegexParser struct{}

func NewRegexParser() *RegexParser {
	return &RegexParser{}
}

func (p *RegexParser) Parse(text string) []domain.TaskCandidate {
	out := []domain.TaskCandidate{}
	for _, line := range strings.Split(text, "\n") {
		matches := listItemRegex.FindStringSubmatch(strings.TrimSpace(line))
		if len(matches) == 0 {
			continue
		}
		body := matches[1]
		if body == "" {
			body = matches[2]
		}
		title := stripEmphasis(body)
		if title == "" {
			continue
		}
		out = append(out, domain.TaskCandidate{
			Title:    title,
			Deadline: ParseDate(matches[3]),
		})
	}
	return out
}

// New returns the parser registered under name, defaulting to LineParser.
func New(name string) Parser {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "regex":
		return NewRegexParser()
	default:
		return NewLineParser()
	}
}
