package tasksync

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PabloGalante/farum-tasks/internal/domain"
)

type Action string

const (
	ActionNone     Action = ""
	ActionComplete Action = "complete"
	ActionDelete   Action = "delete"
)

var (
	completeRegex = regexp.MustCompile(`(?i)\b(?:complete[ds]?|done|finish(?:e[ds])?)\b`)
	deleteRegex   = regexp.MustCompile(`(?i)\b(?:delete[ds]?|remove[ds]?)\b`)
)

// DetectAction returns the command keyword of text. When both kinds appear,
// the earliest one wins.
func DetectAction(text string) Action {
	c := completeRegex.FindStringIndex(text)
	d := deleteRegex.FindStringIndex(text)
	switch {
	case c == nil && d == nil:
		return ActionNone
	case d == nil:
		return ActionComplete
	case c == nil:
		return ActionDelete
	case c[0] < d[0]:
		return ActionComplete
	default:
		return ActionDelete
	}
}

// IsCommand reports whether text references tasks and names an action.
func IsCommand(text string) bool {
	return domain.HasReferences(text) && DetectAction(text) != ActionNone
}

// CommandFailure is a resolved task whose mutation was rejected.
type CommandFailure struct {
	Task domain.Task
	Err  error
}

// CommandResult reports a reference command. It is never an error: problems
// are described in Message.
type CommandResult struct {
	Action     Action
	Affected   []domain.Task
	Failures   []CommandFailure
	Unresolved []*domain.ReferenceError
	Message    string
}

// Resolve maps the @Task<N> markers of text onto tasks. refs is the 1-based
// reference list fixed when the message was sent; when empty, the current
// local order of the project is used.
func (s *Synchronizer) Resolve(projectID domain.ProjectID, text string, refs []domain.TaskID) ([]domain.Task, []*domain.ReferenceError) {
	markers := domain.ParseReferences(text)
	if len(markers) == 0 {
		return nil, nil
	}

	if len(refs) == 0 {
		for _, t := range s.Tasks(projectID) {
			refs = append(refs, t.ID)
		}
	}

	var (
		found      []domain.Task
		unresolved []*domain.ReferenceError
	)
	for _, m := range markers {
		if m.Index < 1 || m.Index > len(refs) {
			unresolved = append(unresolved, &domain.ReferenceError{Ref: m.Raw})
			continue
		}
		t, ok := s.Find(projectID, refs[m.Index-1])
		if !ok {
			unresolved = append(unresolved, &domain.ReferenceError{Ref: m.Raw})
			continue
		}
		found = append(found, t)
	}
	return found, unresolved
}

// Execute runs the command in text against every referenced task.
func (s *Synchronizer) Execute(ctx context.Context, projectID domain.ProjectID, text string, refs []domain.TaskID) CommandResult {
	res := CommandResult{Action: DetectAction(text)}

	if !domain.HasReferences(text) {
		res.Message = "No task references found. Mention a task as @Task1, @Task2, ..."
		return res
	}
	if err := s.Ensure(ctx, projectID); err != nil {
		res.Message = fmt.Sprintf("Could not load tasks: %v", err)
		return res
	}

	targets, unresolved := s.Resolve(projectID, text, refs)
	res.Unresolved = unresolved

	var lines []string
	for _, u := range unresolved {
		lines = append(lines, u.Error()+".")
	}

	switch {
	case res.Action == ActionNone:
		lines = append(lines, `No command recognized. Try "complete @Task1" or "delete @Task2".`)
		res.Message = strings.Join(lines, "\n")
		return res
	case len(targets) == 0:
		lines = append(lines, "Nothing to do.")
		res.Message = strings.Join(lines, "\n")
		return res
	}

	for _, t := range targets {
		var err error
		switch res.Action {
		case ActionComplete:
			var updated domain.Task
			updated, err = s.SetCompleted(ctx, projectID, t.ID, true)
			if err == nil {
				t = updated
			}
		case ActionDelete:
			err = s.Delete(ctx, projectID, t.ID)
		}
		if err != nil {
			res.Failures = append(res.Failures, CommandFailure{Task: t, Err: err})
			continue
		}
		res.Affected = append(res.Affected, t)
	}

	if len(res.Affected) > 0 {
		verb := "Completed"
		if res.Action == ActionDelete {
			verb = "Deleted"
		}
		lines = append(lines, fmt.Sprintf("%s %d task(s): %s.", verb, len(res.Affected), titles(res.Affected)))
	}
	for _, f := range res.Failures {
		lines = append(lines, fmt.Sprintf("Could not %s %q: %v.", res.Action, f.Task.Title, f.Err))
	}
	res.Message = strings.Join(lines, "\n")
	return res
}

func titles(list []domain.Task) string {
	out := make([]string, len(list))
	for i, t := range list {
		out[i] = fmt.Sprintf("%q", t.Title)
	}
	return strings.Join(out, ", ")
}
