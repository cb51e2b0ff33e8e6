package conversation

import (
	"fmt"

	"github.com/PabloGalante/farum-tasks/internal/domain"
)

// ProjectTemplate is the prompt of the hidden "ask about this project" turn.
func ProjectTemplate(p domain.Project) string {
	return fmt.Sprintf(
		"Help me create tasks for this project:\nProject ID: %s\nProject Name: %s\nProject Description: %s\n\nPlease suggest some tasks that would be appropriate for this project.",
		p.ID, p.Name, p.Description,
	)
}
