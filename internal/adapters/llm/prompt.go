package llm

import (
	"strings"

	"google.golang.org/genai"

	"github.com/PabloGalante/farum-tasks/internal/domain"
)

// Prompt is a completion request in the shape the Gemini API takes.
type Prompt struct {
	System   string
	Contents []*genai.Content
}

// BuildPrompt maps role-tagged entries onto genai contents. System entries are
// merged into the system instruction; assistant entries become model turns.
// The primary message is appended last as a user turn.
func BuildPrompt(req domain.CompletionRequest) Prompt {
	var (
		system   []string
		contents []*genai.Content
	)
	for _, e := range req.Entries {
		switch e.Role {
		case domain.RoleSystem:
			system = append(system, e.Content)
		case domain.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(e.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(e.Content, genai.RoleUser))
		}
	}
	if req.Message != "" {
		contents = append(contents, genai.NewContentFromText(req.Message, genai.RoleUser))
	}

	return Prompt{
		System:   strings.Join(system, "\n\n"),
		Contents: contents,
	}
}
