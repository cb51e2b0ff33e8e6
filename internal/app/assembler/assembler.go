// Package assembler builds the context window sent to the completion service
// for one conversational turn.
package assembler

import (
	"fmt"
	"strings"
	"time"

	"github.com/PabloGalante/farum-tasks/internal/domain"
)

// DefaultMaxSuggestedTasks caps the number of tasks the assistant is asked for.
const DefaultMaxSuggestedTasks = 5

type Assembler struct {
	maxTasks int
	now      func() time.Time
}

func New(maxSuggestedTasks int) *Assembler {
	if maxSuggestedTasks <= 0 {
		maxSuggestedTasks = DefaultMaxSuggestedTasks
	}
	return &Assembler{
		maxTasks: maxSuggestedTasks,
		now:      time.Now,
	}
}

// Input is everything the assembler needs for one turn.
type Input struct {
	History  []domain.Message
	Text     string
	Project  *domain.Project
	AutoSend bool

	// Referenced holds the tasks resolved from @Task<N> markers in Text.
	Referenced []domain.Task
}

// Request is the assembled turn. Original is the raw user text; it is what the
// transcript records, never Prompt.
type Request struct {
	Context     []domain.ChatEntry
	Prompt      string
	Original    string
	TaskContext bool
}

// Entries returns the full ordered window with the prompt appended last.
func (r Request) Entries() []domain.ChatEntry {
	out := make([]domain.ChatEntry, 0, len(r.Context)+1)
	out = append(out, r.Context...)
	return append(out, domain.ChatEntry{Role: domain.RoleUser, Content: r.Prompt})
}

// Completion converts the request into the collaborator's call shape.
func (r Request) Completion() domain.CompletionRequest {
	return domain.CompletionRequest{
		Entries: append([]domain.ChatEntry(nil), r.Context...),
		Message: r.Prompt,
	}
}

// NeedsTaskContext reports whether a turn should be steered towards task output.
func NeedsTaskContext(text string, autoSend bool) bool {
	if autoSend {
		return true
	}
	if strings.Contains(strings.ToLower(text), "task") {
		return true
	}
	return domain.HasReferences(text)
}

func (a *Assembler) Assemble(in Input) Request {
	taskContext := NeedsTaskContext(in.Text, in.AutoSend)

	ctxEntries := make([]domain.ChatEntry, 0, len(in.History)+1)
	ctxEntries = append(ctxEntries, domain.ChatEntry{
		Role:    domain.RoleSystem,
		Content: a.systemPrompt(in.Project),
	})
	for _, m := range in.History {
		role := domain.RoleUser
		if m.Sender == domain.SenderBot {
			role = domain.RoleAssistant
		}
		ctxEntries = append(ctxEntries, domain.ChatEntry{Role: role, Content: m.Text})
	}

	prompt := in.Text
	if taskContext {
		prompt = a.enhance(in)
	}

	return Request{
		Context:     ctxEntries,
		Prompt:      prompt,
		Original:    in.Text,
		TaskContext: taskContext,
	}
}

func (a *Assembler) systemPrompt(p *domain.Project) string {
	today := a.now().Format("2006-01-02")
	if p == nil {
		return strings.TrimSpace(fmt.Sprintf(generalSystemPrompt, today))
	}
	return strings.TrimSpace(fmt.Sprintf(projectSystemPrompt, p.Name, orNone(p.Description), today))
}

func (a *Assembler) enhance(in Input) string {
	var b strings.Builder
	if in.Project != nil {
		fmt.Fprintf(&b, "Project: %s\n", in.Project.Name)
		fmt.Fprintf(&b, "Project description: %s\n\n", orNone(in.Project.Description))
	}

	if len(in.Referenced) > 0 {
		b.WriteString("Referenced tasks:\n")
		for _, t := range in.Referenced {
			status := "open"
			if t.Completed {
				status = "done"
			}
			fmt.Fprintf(&b, "- %s [%s]", t.Title, status)
			if t.Deadline != nil {
				fmt.Fprintf(&b, " (due: %s)", t.Deadline.UTC().Format("2006-01-02"))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("User request:\n")
	b.WriteString(strings.TrimSpace(in.Text))
	b.WriteString("\n")
	fmt.Fprintf(&b, taskInstructions, a.maxTasks)
	return strings.TrimSpace(b.String())
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
